package api

import (
	"reflect"
	"strings"
	"sync"

	"agendapro/agenda-api/internal/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// custom validation tags
const (
	weekdayTag = "weekday"
	hhmmTag    = "hhmm"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags on gin's validator.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		// Use JSON tag names for errors instead of Go struct names.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation(weekdayTag, weekdayValidation)
		_ = v.RegisterValidation(hhmmTag, hhmmValidation)
	})
}

func weekdayValidation(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, ok = domain.CanonicalWeekday(s)
	return ok
}

func hhmmValidation(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	return ok && domain.ValidStartTime(s)
}
