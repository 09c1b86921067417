package course

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/divecert/core"
)

var (
	lessonKindTag  = "lessonkind"
	lessonKindText = "kind must be one of lecture, confined_water or open_water"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(lessonKindTag, lessonKindValidation)
	core.RegisterCustomTranslation(validate, translator, lessonKindTag, lessonKindText)
}

func lessonKindValidation(fl validator.FieldLevel) bool {
	kind := fl.Field().String()
	for _, k := range LessonKinds {
		if kind == k {
			return true
		}
	}
	return false
}
