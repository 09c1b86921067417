package evaluation

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/scoring"
)

var (
	scoreScaleTag  = "scorescale"
	scoreScaleText = "score must be one of 1, 4, 7 or 10"

	evalModeTag  = "evalmode"
	evalModeText = "mode must be one of practice or test"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(scoreScaleTag, scoreScaleValidation)
	core.RegisterCustomTranslation(validate, translator, scoreScaleTag, scoreScaleText)

	_ = validate.RegisterValidation(evalModeTag, evalModeValidation)
	core.RegisterCustomTranslation(validate, translator, evalModeTag, evalModeText)
}

func scoreScaleValidation(fl validator.FieldLevel) bool {
	return scoring.OnScale(int(fl.Field().Int()))
}

func evalModeValidation(fl validator.FieldLevel) bool {
	mode := fl.Field().String()
	for _, m := range Modes {
		if mode == m {
			return true
		}
	}
	return false
}
