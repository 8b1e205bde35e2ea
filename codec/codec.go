// Package codec 在领域值和文本之间相互转换
//
// 编码结果是 JSON，时间类型被包装成 {"_": "<text>"} 形式的标签对象：
//   - time.Time 先转换到 UTC，格式为 2006-01-02T15:04:05.999999999Z（小数部分为 0 时省略），解码后转换回本地时区
//   - Date 格式为 2006-01-02，TimeOfDay 格式为 15:04:05，均不做时区转换
//
// 解码时依次尝试日期时间、日期、时刻，都无法解析时按普通对象返回。
// 整数解码为 int64，其余数值解码为 float64。
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const tagKey = "_"

const (
	dateTimeLayout  = "2006-01-02T15:04:05.999999999Z"
	dateLayout      = "2006-01-02"
	timeOfDayLayout = "15:04:05"
)

var ErrUnsupportedValue = errors.New("unsupported value")

// CodecError 值没有可识别的标量或标签形式
type CodecError struct {
	Path  string
	Value any
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: cannot encode value of type %T at %s", e.Value, e.Path)
}

func (e *CodecError) Is(target error) bool {
	return target == ErrUnsupportedValue
}

// Codec 值与文本之间的编解码器
type Codec interface {
	Encode(value any) (string, error)
	Decode(text string) (any, error)
}

type JSONCodec struct{}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

var defaultCodec = NewJSONCodec()

func Encode(value any) (string, error) {
	return defaultCodec.Encode(value)
}

func Decode(text string) (any, error) {
	return defaultCodec.Decode(text)
}

func (c *JSONCodec) Encode(value any) (string, error) {
	tree, err := toTree(value, "$")
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return "", errors.Wrap(err, "json encode failed")
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func (c *JSONCodec) Decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, errors.Wrap(err, "json decode failed")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("json decode failed: trailing data")
	}

	return fromTree(tree), nil
}

func toTree(value any, path string) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v, nil
	case float32:
		return checkFloat(float64(v), value, path)
	case float64:
		return checkFloat(v, value, path)
	case time.Time:
		return map[string]any{tagKey: v.UTC().Format(dateTimeLayout)}, nil
	case Date:
		return map[string]any{tagKey: v.String()}, nil
	case TimeOfDay:
		return map[string]any{tagKey: v.String()}, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			node, err := toTree(item, path+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = node
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			node, err := toTree(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = node
		}
		return out, nil
	}

	// 自定义类型和其它容器走反射
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return checkFloat(rv.Float(), value, path)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return toTree(rv.Elem().Interface(), path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			node, err := toTree(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = node
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			node, err := toTree(iter.Value().Interface(), path+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = node
		}
		return out, nil
	}

	return nil, &CodecError{Path: path, Value: value}
}

func checkFloat(f float64, value any, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &CodecError{Path: path, Value: value}
	}
	return f, nil
}

func fromTree(node any) any {
	switch v := node.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		for i := range v {
			v[i] = fromTree(v[i])
		}
		return v
	case map[string]any:
		if tagged, ok := decodeTagged(v); ok {
			return tagged
		}
		for key, item := range v {
			v[key] = fromTree(item)
		}
		return v
	}
	return node
}

// decodeTagged 按日期时间、日期、时刻的顺序解析标签对象
func decodeTagged(m map[string]any) (any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	text, ok := m[tagKey].(string)
	if !ok || text == "" {
		return nil, false
	}

	if t, err := time.ParseInLocation(dateTimeLayout, text, time.UTC); err == nil {
		return t.In(time.Local), true
	}
	if d, err := ParseDate(text); err == nil {
		return d, true
	}
	if t, err := ParseTimeOfDay(text); err == nil {
		return t, true
	}
	return nil, false
}
