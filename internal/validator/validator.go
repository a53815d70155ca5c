package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterbill/internal/clock"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	"go.uber.org/fx"
)

const (
	MsgInvalidNumber   = "A valid number is required."
	MsgInvalidDatetime = "Datetime has wrong format. Use one of these formats instead: YYYY-MM-DDThh:mm[:ss[.uuuuuu]][+HH:MM|-HH:MM|Z]."
	MsgInvalidDate     = "Date has wrong format. Use one of these formats instead: YYYY-MM-DD."
	MsgNegative        = "Ensure this value is greater than or equal to 0."
)

// Validator checks request structs and reports every failing field at once
// as *ierr.FieldErrors, keyed by json name.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
		return err == nil
	})
	_ = v.RegisterValidation("nonnegative", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
		return err == nil && !d.IsNegative()
	})
	_ = v.RegisterValidation("isodatetime", func(fl validator.FieldLevel) bool {
		_, err := clock.ParseTimestamp(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := clock.ParseDate(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v}
}

// Struct validates req. Optional-looking inputs are pointers so that
// "required" reports a missing value and "notblank" an empty one.
func (v *Validator) Struct(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !ierr.As(err, &validationErrs) {
		return ierr.WithError(err).
			WithHint("Request could not be validated").
			Mark(ierr.ErrSystem)
	}

	fields := ierr.NewFieldErrors()
	for _, fe := range validationErrs {
		fields.Add(fe.Field(), message(fe))
	}
	return fields.OrNil()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return ierr.MsgFieldRequired
	case "notblank":
		return ierr.MsgFieldBlank
	case "oneof":
		return fmt.Sprintf("\"%v\" is not a valid choice.", fe.Value())
	case "decimal":
		return MsgInvalidNumber
	case "nonnegative":
		return MsgNegative
	case "isodatetime":
		return MsgInvalidDatetime
	case "isodate":
		return MsgInvalidDate
	default:
		return fmt.Sprintf("Failed on the %s rule.", fe.Tag())
	}
}

var Module = fx.Module("validator",
	fx.Provide(New),
)
