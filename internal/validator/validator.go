package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once     sync.Once
	validate *govalidator.Validate
	trans    ut.Translator

	// bindTrans translates errors produced by Gin's own binding engine,
	// which reads `binding:` tags instead of `validate:` tags.
	bindTrans ut.Translator
)

// engine returns the validator used for `validate:` tagged structs.
func engine() *govalidator.Validate {
	once.Do(func() {
		validate = govalidator.New(govalidator.WithRequiredStructEnabled())
		trans = configure(validate)
	})
	return validate
}

func configure(v *govalidator.Validate) ut.Translator {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	t, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, t)
	return t
}

// Setup registers English translations on Gin's binding engine and prepares
// the struct validator. Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		bindTrans = configure(v)
	}
	engine()
}

// Struct validates v against its `validate:` tags.
func Struct(v interface{}) error {
	return engine().Struct(v)
}

// Check validates v and returns translated field errors, or nil when valid.
func Check(v interface{}) map[string]string {
	if err := Struct(v); err != nil {
		return translate(err, trans)
	}
	return nil
}

// TranslateErrors takes a validation error produced by Struct and returns a map of
// field name to human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	engine()
	return translate(err, trans)
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return translate(err, bindTrans)
	}
	return nil
}

func translate(err error, t ut.Translator) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if t == nil {
				fields[fe.Namespace()] = fe.Error()
				continue
			}
			fields[fe.Namespace()] = fe.Translate(t)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// IsValidationError reports whether err carries field validation failures.
func IsValidationError(err error) bool {
	var ve govalidator.ValidationErrors
	return errors.As(err, &ve)
}
