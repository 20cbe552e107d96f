package apiclient

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// configRules is the validated projection of a client's configuration.
type configRules struct {
	BaseURL      string        `json:"base_url" validate:"required,url"`
	Method       string        `json:"method" validate:"required,uppercase"`
	MaxWorkers   int           `json:"max_workers" validate:"min=1"`
	Timeout      time.Duration `json:"timeout" validate:"gte=0"`
	Multiplier   float64       `json:"retry_multiplier" validate:"gte=0"`
	JitterFactor float64       `json:"retry_jitter_factor" validate:"gte=0,lte=1"`
	StatusCodes  []int         `json:"retry_status_codes" validate:"dive,gte=100,lte=599"`
	UserSpecific bool          `json:"user_specific"`
	UserID       string        `json:"user_identifier" validate:"required_if=UserSpecific true"`
}

func (cfg *internalConfig) validate() error {
	rules := configRules{
		BaseURL:      cfg.baseURL,
		Method:       cfg.method,
		MaxWorkers:   cfg.maxWorkers,
		Timeout:      cfg.transport.Timeout,
		Multiplier:   cfg.retry.Multiplier,
		JitterFactor: cfg.retry.JitterFactor,
		StatusCodes:  cfg.retry.StatusCodes,
		UserSpecific: cfg.cache.UserSpecific,
		UserID:       cfg.userID,
	}

	err := getValidator().Struct(rules)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationErrorf("invalid client configuration: %v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field()+": "+describeRule(fe))
	}
	return validationErrorf("invalid client configuration: %s", strings.Join(msgs, "; "))
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "url":
		return "must be an absolute URL"
	case "uppercase":
		return "must be upper case"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
