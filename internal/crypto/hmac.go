// Package crypto verifies and produces HMAC signatures for inbound payment
// provider webhooks.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// DefaultTolerance is the maximum accepted age of a signed webhook.
const DefaultTolerance = 5 * time.Minute

// WebhookSigner signs and verifies payloads using the provider's scheme:
// a header of the form "t=<unix>,v1=<hex>" where the signature is
// HMAC-SHA256(secret, "<t>.<payload>"). Several v1 entries may be present
// during secret rotation; any match is accepted.
type WebhookSigner struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// NewWebhookSigner creates a signer for the given secret. A non-positive
// tolerance falls back to DefaultTolerance.
func NewWebhookSigner(secret string, tolerance time.Duration) *WebhookSigner {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &WebhookSigner{Secret: secret, Tolerance: tolerance}
}

// Verify checks header against payload. Every failure wraps
// domain.ErrInvalidSignature.
func (s *WebhookSigner) Verify(payload []byte, header string) error {
	if s.Secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", domain.ErrInvalidSignature)
	}

	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > s.Tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance (%s)", domain.ErrInvalidSignature, age.Round(time.Second))
	}

	expected := computeSignature([]byte(s.Secret), ts, payload)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrInvalidSignature)
}

// Header builds a signature header for payload at the given time. It is used
// by tests and by local tooling that replays provider events.
func (s *WebhookSigner) Header(payload []byte, at time.Time) string {
	ts := at.Unix()
	sig := computeSignature([]byte(s.Secret), ts, payload)
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(sig)
}

func (s *WebhookSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// computeSignature returns HMAC-SHA256(key, "<ts>.<payload>").
func computeSignature(key []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// parseSignatureHeader extracts the timestamp and all v1 signatures.
// Unknown schemes (e.g. v0) are ignored.
func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("missing signature header")
	}

	var (
		ts    int64
		haveT bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid timestamp %q", v)
			}
			ts, haveT = n, true
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if !haveT {
		return 0, nil, fmt.Errorf("missing timestamp")
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("missing v1 signature")
	}
	return ts, sigs, nil
}

// String returns a redacted representation suitable for logging.
func (s *WebhookSigner) String() string {
	redact := func(v string) string {
		if len(v) <= 4 {
			return "****"
		}
		return v[:4] + "****"
	}
	return fmt.Sprintf("WebhookSigner{secret=%s, tolerance=%s}", redact(s.Secret), s.Tolerance)
}
