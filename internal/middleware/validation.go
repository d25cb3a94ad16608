package middleware

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/wa-connector/internal/model"
	pkgvalidator "github.com/jwalitptl/wa-connector/pkg/validator"
)

var registerOnce sync.Once

// RegisterValidators installs json field naming and the custom binding tags on
// gin's validator. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		pkgvalidator.Register(v)

		if err := v.RegisterValidation("plan", func(fl validator.FieldLevel) bool {
			return model.Plan(fl.Field().String()).Purchasable()
		}); err != nil {
			panic(err)
		}
	})
}
