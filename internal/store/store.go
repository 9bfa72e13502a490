// Package store is the data access layer over gorm. Every exported method
// validates its input before touching the database and returns errors
// classified by apperr.
package store

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/saxenaaman628/balance-game/internal/apperr"
)

type Store struct {
	db       *gorm.DB
	validate *validator.Validate
	newID    func() string
	now      func() time.Time
}

func New(db *gorm.DB) *Store {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Store{db: db, validate: v, newID: uuid.NewString, now: time.Now}
}

// check validates a struct and turns the first failure into a readable
// validation error.
func (s *Store) check(op string, v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return apperr.Validation(op, "%s", describe(fieldErrs[0]))
	}
	return apperr.E(apperr.KindValidation, op, err)
}

func describe(fe validator.FieldError) string {
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	}
	return field + " is invalid"
}
