package config

const redacted = "***"

// secrets lists every credential-bearing field of cfg.
func secrets(cfg *Config) []*string {
	return []*string{
		&cfg.Supabase.DSN,
		&cfg.Supabase.Password,
		&cfg.Redis.Password,
		&cfg.S3.AccessKey,
		&cfg.S3.SecretKey,
		&cfg.Server.ServiceKey,
		&cfg.Email.SendgridAPIKey,
		&cfg.Tone.APIKey,
		&cfg.Billing.WebhookSecret,
		&cfg.Notify.TelegramToken,
		&cfg.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a copy of cfg safe to log: every non-empty secret
// becomes "***" and slices are cloned so the copy shares nothing mutable.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range secrets(&out) {
		if *s != "" {
			*s = redacted
		}
	}
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Server.TrustedProxies = append([]string(nil), cfg.Server.TrustedProxies...)
	return out
}
