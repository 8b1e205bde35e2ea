package query

import (
	"cmp"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/hatlonely/resx/codec"
)

// 不同类型之间的固定顺序，排序时使用
const (
	kindNull = iota
	kindBool
	kindNumber
	kindString
	kindDateTime
	kindDate
	kindTimeOfDay
	kindOther
)

// number 整数尽量保持精确，超出 int64 范围或带小数时退化为 float64
type number struct {
	i       int64
	f       float64
	integer bool
}

func (n number) isZero() bool {
	if n.integer {
		return n.i == 0
	}
	return n.f == 0
}

func (n number) float() float64 {
	if n.integer {
		return float64(n.i)
	}
	return n.f
}

func compareNumber(a, b number) int {
	if a.integer && b.integer {
		return cmp.Compare(a.i, b.i)
	}
	return cmp.Compare(a.float(), b.float())
}

func toNumber(value any) (number, bool) {
	switch v := value.(type) {
	case int:
		return number{i: int64(v), integer: true}, true
	case int64:
		return number{i: v, integer: true}, true
	case float64:
		if math.IsNaN(v) {
			return number{}, false
		}
		return number{f: v}, true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return number{i: i, integer: true}, true
		}
		if f, err := v.Float64(); err == nil {
			return number{f: f}, true
		}
		return number{}, false
	case bool, string, nil:
		return number{}, false
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{i: rv.Int(), integer: true}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return number{f: float64(u)}, true
		}
		return number{i: int64(u), integer: true}, true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return number{}, false
		}
		return number{f: f}, true
	}
	return number{}, false
}

func kindOf(value any) int {
	switch value.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case string:
		return kindString
	case time.Time:
		return kindDateTime
	case codec.Date:
		return kindDate
	case codec.TimeOfDay:
		return kindTimeOfDay
	}
	if _, ok := toNumber(value); ok {
		return kindNumber
	}
	if reflect.ValueOf(value).Kind() == reflect.String {
		return kindString
	}
	return kindOther
}

// Compare 按自然顺序比较两个同类值，类型不可比较时 ok 为 false
func Compare(a, b any) (int, bool) {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return 0, false
	}

	switch ka {
	case kindBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case kindNumber:
		x, _ := toNumber(a)
		y, _ := toNumber(b)
		return compareNumber(x, y), true
	case kindString:
		return strings.Compare(reflect.ValueOf(a).String(), reflect.ValueOf(b).String()), true
	case kindDateTime:
		return a.(time.Time).Compare(b.(time.Time)), true
	case kindDate:
		return a.(codec.Date).Compare(b.(codec.Date)), true
	case kindTimeOfDay:
		return a.(codec.TimeOfDay).Compare(b.(codec.TimeOfDay)), true
	}
	return 0, false
}

// Equal 数值按值比较，时间按时刻比较，其余类型深度比较
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if n, ok := Compare(a, b); ok {
		return n == 0
	}

	if x, ok := asSlice(a); ok {
		y, ok := asSlice(b)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}

	if x, ok := a.(map[string]any); ok {
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for key, value := range x {
			other, ok := y[key]
			if !ok || !Equal(value, other) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}
