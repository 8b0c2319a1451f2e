package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateVar(field string, value interface{}, tag string) error
}

type playgroundValidator struct {
	v *validator.Validate
}

var (
	once     sync.Once
	instance *playgroundValidator
)

// New returns the shared validator. Field names in errors follow json tags.
func New() Validator {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		instance = &playgroundValidator{v: v}
	})
	return instance
}

// Engine exposes the underlying validator so gin binding can share tag settings.
func Engine() *validator.Validate {
	New()
	return instance.v
}

func (p *playgroundValidator) Validate(obj interface{}) error {
	if err := p.v.Struct(obj); err != nil {
		return humanize(err)
	}
	return nil
}

func (p *playgroundValidator) ValidateVar(field string, value interface{}, tag string) error {
	if err := p.v.Var(value, tag); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("%s %s", field, describe(errs[0]))
		}
		return err
	}
	return nil
}

func humanize(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%s %s", e.Field(), describe(e)))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of [" + e.Param() + "]"
	case "gte":
		return "must be >= " + e.Param()
	case "lte":
		return "must be <= " + e.Param()
	default:
		return "failed " + e.Tag() + " validation"
	}
}
