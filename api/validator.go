package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"

	dcacommon "github.com/vultisig/dca-exchange/common"
	"github.com/vultisig/dca-exchange/internal/types"
)

// RequestValidator plugs go-playground/validator into echo and adds the
// exchange specific tags: uint256, hash and delay_bucket.
type RequestValidator struct {
	Validator *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	_ = v.RegisterValidation("uint256", func(fl validator.FieldLevel) bool {
		_, err := uint256.FromDecimal(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("hash", func(fl validator.FieldLevel) bool {
		_, ok := dcacommon.ParseHash(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("delay_bucket", func(fl validator.FieldLevel) bool {
		_, err := types.ParseDelayBucket(fl.Field().String())
		return err == nil
	})
	return &RequestValidator{Validator: v}
}

func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.Validator.Struct(i); err != nil {
		return types.InvalidArgument(err.Error())
	}
	return nil
}
