// Package query 实现基于字段谓词的记录过滤和多键稳定排序
package query

import (
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrInvalidClause   = errors.New("invalid clause")
)

// Operator 谓词操作符，写在字段名后面，用 "__" 分隔
type Operator string

const (
	OperatorEqual     Operator = "equal"
	OperatorNot       Operator = "not"
	OperatorIEqual    Operator = "iequal"
	OperatorINot      Operator = "inot"
	OperatorPrefix    Operator = "prefix"
	OperatorIPrefix   Operator = "iprefix"
	OperatorSuffix    Operator = "suffix"
	OperatorISuffix   Operator = "isuffix"
	OperatorContains  Operator = "contains"
	OperatorIContains Operator = "icontains"
	OperatorGt        Operator = "gt"
	OperatorGte       Operator = "gte"
	OperatorLt        Operator = "lt"
	OperatorLte       Operator = "lte"
	OperatorNull      Operator = "null"
	OperatorIn        Operator = "in"
	OperatorNotIn     Operator = "notin"
)

const separator = "__"

var operators = map[Operator]struct{}{
	OperatorEqual: {}, OperatorNot: {}, OperatorIEqual: {}, OperatorINot: {},
	OperatorPrefix: {}, OperatorIPrefix: {}, OperatorSuffix: {}, OperatorISuffix: {},
	OperatorContains: {}, OperatorIContains: {},
	OperatorGt: {}, OperatorGte: {}, OperatorLt: {}, OperatorLte: {},
	OperatorNull: {}, OperatorIn: {}, OperatorNotIn: {},
}

// Operators 返回所有支持的操作符
func Operators() []Operator {
	out := make([]Operator, 0, len(operators))
	for op := range operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ParseOperator(name string) (Operator, error) {
	op := Operator(name)
	if _, ok := operators[op]; !ok {
		return "", errors.Wrapf(ErrUnknownOperator, "operator %q", name)
	}
	return op, nil
}

// Clause 单个过滤条件
type Clause struct {
	Field    string
	Operator Operator
	Operand  any
}

// Predicate 多个条件的逻辑与
type Predicate []Clause

// ParseClause 解析 "field" 或 "field__operator" 形式的键
func ParseClause(key string, operand any) (Clause, error) {
	field, name := key, string(OperatorEqual)
	if idx := strings.LastIndex(key, separator); idx >= 0 {
		field, name = key[:idx], key[idx+len(separator):]
	}
	if field == "" {
		return Clause{}, errors.Wrapf(ErrInvalidClause, "key %q", key)
	}

	op, err := ParseOperator(name)
	if err != nil {
		return Clause{}, errors.WithMessagef(err, "key %q", key)
	}
	return Clause{Field: field, Operator: op, Operand: operand}, nil
}

// ParsePredicate 解析谓词，条件按键排序
func ParsePredicate(query map[string]any) (Predicate, error) {
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	predicate := make(Predicate, 0, len(keys))
	for _, key := range keys {
		clause, err := ParseClause(key, query[key])
		if err != nil {
			return nil, err
		}
		predicate = append(predicate, clause)
	}
	return predicate, nil
}

func (p Predicate) Match(record map[string]any) bool {
	for _, clause := range p {
		if !clause.Match(record) {
			return false
		}
	}
	return true
}

// Filter 返回满足谓词的记录，保持原有顺序
func Filter[R ~map[string]any](records []R, p Predicate) []R {
	if len(p) == 0 {
		return records
	}
	out := make([]R, 0, len(records))
	for _, record := range records {
		if p.Match(record) {
			out = append(out, record)
		}
	}
	return out
}

// Match 判断记录是否满足条件，类型不兼容时视为不匹配
func (c Clause) Match(record map[string]any) bool {
	value, present := record[c.Field]
	if !present {
		value = nil
	}

	switch c.Operator {
	case OperatorEqual:
		return Equal(value, c.Operand)
	case OperatorNot:
		return !Equal(value, c.Operand)
	case OperatorIEqual:
		return stringMatch(value, c.Operand, strings.EqualFold)
	case OperatorINot:
		return stringMatch(value, c.Operand, func(a, b string) bool { return !strings.EqualFold(a, b) })
	case OperatorPrefix:
		return stringMatch(value, c.Operand, strings.HasPrefix)
	case OperatorIPrefix:
		return lowerMatch(value, c.Operand, strings.HasPrefix)
	case OperatorSuffix:
		return stringMatch(value, c.Operand, strings.HasSuffix)
	case OperatorISuffix:
		return lowerMatch(value, c.Operand, strings.HasSuffix)
	case OperatorContains:
		if items, ok := asSlice(value); ok {
			return containsValue(items, c.Operand)
		}
		return stringMatch(value, c.Operand, strings.Contains)
	case OperatorIContains:
		return lowerMatch(value, c.Operand, strings.Contains)
	case OperatorGt:
		return order(value, c.Operand, func(n int) bool { return n > 0 })
	case OperatorGte:
		return order(value, c.Operand, func(n int) bool { return n >= 0 })
	case OperatorLt:
		return order(value, c.Operand, func(n int) bool { return n < 0 })
	case OperatorLte:
		return order(value, c.Operand, func(n int) bool { return n <= 0 })
	case OperatorNull:
		if truthy(c.Operand) {
			return value == nil
		}
		return value != nil
	case OperatorIn:
		items, ok := asSlice(c.Operand)
		return ok && containsValue(items, value)
	case OperatorNotIn:
		items, ok := asSlice(c.Operand)
		return ok && !containsValue(items, value)
	}
	return false
}

func stringMatch(value, operand any, fn func(string, string) bool) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	t, ok := operand.(string)
	if !ok {
		return false
	}
	return fn(s, t)
}

func lowerMatch(value, operand any, fn func(string, string) bool) bool {
	return stringMatch(value, operand, func(s, t string) bool {
		return fn(strings.ToLower(s), strings.ToLower(t))
	})
}

func order(value, operand any, fn func(int) bool) bool {
	n, ok := Compare(value, operand)
	return ok && fn(n)
}

func containsValue(items []any, value any) bool {
	for _, item := range items {
		if Equal(item, value) {
			return true
		}
	}
	return false
}

func asSlice(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	if value == nil {
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}
	if n, ok := toNumber(value); ok {
		return !n.isZero()
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}
