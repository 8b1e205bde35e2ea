package store

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// normalizeID 将外部传入的标识转换为表的存储类型，无法转换时 ok 为 false
//   - 整数表接受整数和整数值的浮点数
//   - 字符串表接受字符串，数字按十进制转换
func normalizeID(kind IDKind, id any) (any, bool) {
	if kind == IDString {
		if s, ok := id.(string); ok {
			return s, true
		}
		if n, ok := integral(id); ok {
			return strconv.FormatInt(n, 10), true
		}
		return nil, false
	}
	return integral(id)
}

func integral(id any) (int64, bool) {
	switch v := id.(type) {
	case nil, bool, string:
		return 0, false
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}

	rv := reflect.ValueOf(id)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return 0, false
		}
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// kindOf 新建表时根据首个标识决定存储类型
func kindOf(id any, preferString bool) IDKind {
	if _, ok := id.(string); ok || preferString {
		return IDString
	}
	return IDInteger
}
