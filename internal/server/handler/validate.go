package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// Custom validation tags.
const (
	notBlankTag         = "notblank"
	notificationTypeTag = "notification_type"
	channelTag          = "channel"
)

// Validator wraps go-playground/validator with English messages keyed by
// JSON field name.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator builds a Validator with the custom tags registered.
func NewValidator() *Validator {
	v := validator.New()

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	_ = v.RegisterValidation(notificationTypeTag, func(fl validator.FieldLevel) bool {
		return domain.NotificationType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation(channelTag, func(fl validator.FieldLevel) bool {
		return domain.Channel(fl.Field().String()).Valid()
	})

	messages := map[string]string{
		notBlankTag:         "{0} cannot be blank",
		notificationTypeTag: "{0} is not a known notification type",
		channelTag:          "{0} is not a known channel",
	}
	for tag, msg := range messages {
		_ = v.RegisterTranslation(tag, trans,
			func(ut ut.Translator) error { return ut.Add(tag, msg, true) },
			func(ut ut.Translator, fe validator.FieldError) string {
				s, _ := ut.T(fe.Tag(), fe.Field())
				return s
			},
		)
	}

	return &Validator{validate: v, translator: trans}
}

// FieldErrors is a field name to message map returned to clients.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, "; ")
}

// Struct validates s. Validation failures come back as FieldErrors.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}
