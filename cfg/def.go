package cfg

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// SetDefaults 为结构体中的零值字段填充 def tag 指定的默认值
// 非空的结构体指针、切片和 map 中的结构体元素会被递归处理，空指针保持为空
func SetDefaults(object any) error {
	if object == nil {
		return errors.New("object cannot be nil")
	}

	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}

	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return setDefaults(rv.Elem())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := setDefaults(rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			// map 元素不可寻址，只处理指针元素
			if iter.Value().Kind() == reflect.Ptr {
				if err := setDefaults(iter.Value()); err != nil {
					return err
				}
			}
		}
		return nil
	case reflect.Struct:
	default:
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		if err := setDefaults(fieldValue); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}

		defTag, ok := field.Tag.Lookup("def")
		if !ok || !fieldValue.IsZero() {
			continue
		}

		if err := setDefaultValue(fieldValue, defTag); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}
	}

	return nil
}

func setDefaultValue(rv reflect.Value, defValue string) error {
	if rv.Type() == durationType {
		duration, err := time.ParseDuration(defValue)
		if err != nil {
			return errors.Wrapf(err, "invalid duration value %q", defValue)
		}
		rv.SetInt(int64(duration))
		return nil
	}

	switch rv.Kind() {
	case reflect.String:
		rv.SetString(defValue)
	case reflect.Bool:
		val, err := strconv.ParseBool(defValue)
		if err != nil {
			return errors.Wrapf(err, "invalid bool value %q", defValue)
		}
		rv.SetBool(val)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		val, err := strconv.ParseInt(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid int value %q", defValue)
		}
		rv.SetInt(val)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		val, err := strconv.ParseUint(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid uint value %q", defValue)
		}
		rv.SetUint(val)
	case reflect.Float32, reflect.Float64:
		val, err := strconv.ParseFloat(defValue, rv.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid float value %q", defValue)
		}
		rv.SetFloat(val)
	case reflect.Slice:
		if rv.Type().Elem().Kind() != reflect.String {
			return errors.Errorf("unsupported slice type %v", rv.Type())
		}
		parts := strings.Split(defValue, ",")
		slice := reflect.MakeSlice(rv.Type(), 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				slice = reflect.Append(slice, reflect.ValueOf(part).Convert(rv.Type().Elem()))
			}
		}
		rv.Set(slice)
	default:
		return errors.Errorf("unsupported type %v", rv.Type())
	}

	return nil
}
