package cfg

import (
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate 使用 validator 校验结构体，非结构体值直接通过
func Validate(object any) error {
	if object == nil {
		return nil
	}

	rv := reflect.ValueOf(object)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	validateOnce.Do(func() {
		validate = validator.New()
	})

	if err := validate.Struct(rv.Interface()); err != nil {
		return errors.Wrap(err, "validate failed")
	}
	return nil
}
