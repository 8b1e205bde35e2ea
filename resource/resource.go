// Package resource 定义资源的字段描述和投影规则
package resource

import (
	"regexp"
	"sort"

	"github.com/hatlonely/resx/query"
	"github.com/pkg/errors"
)

// IDField 标识字段名
const IDField = "id"

var (
	ErrInvalidName   = errors.New("invalid resource name")
	ErrInvalidIDType = errors.New("invalid id type")
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// IDType 标识类型
type IDType string

const (
	IDTypeInteger IDType = "integer"
	IDTypeString  IDType = "string"
	IDTypeUUID    IDType = "uuid"
)

// FieldDescriptor 字段描述
type FieldDescriptor struct {
	Identifier bool
	Readonly   bool
	Deferred   bool
	Sortable   bool
	// Operators 允许在过滤条件中使用的操作符，为空时允许全部
	Operators []query.Operator
}

func (f *FieldDescriptor) Allows(op query.Operator) bool {
	if len(f.Operators) == 0 {
		return true
	}
	for _, allowed := range f.Operators {
		if allowed == op {
			return true
		}
	}
	return false
}

// Resource 资源定义，创建后不再修改
type Resource struct {
	Name   string
	IDType IDType
	Schema map[string]*FieldDescriptor
}

// New 创建资源，schema 中总会包含标识字段
func New(name string, idType IDType, fields map[string]FieldDescriptor) (*Resource, error) {
	if !namePattern.MatchString(name) {
		return nil, errors.Wrapf(ErrInvalidName, "name %q", name)
	}
	switch idType {
	case "":
		idType = IDTypeInteger
	case IDTypeInteger, IDTypeString, IDTypeUUID:
	default:
		return nil, errors.Wrapf(ErrInvalidIDType, "resource %s id type %q", name, idType)
	}

	schema := make(map[string]*FieldDescriptor, len(fields)+1)
	for field, descriptor := range fields {
		for _, op := range descriptor.Operators {
			if _, err := query.ParseOperator(string(op)); err != nil {
				return nil, errors.WithMessagef(err, "resource %s field %s", name, field)
			}
		}
		descriptor.Identifier = false
		schema[field] = &descriptor
	}

	id, ok := schema[IDField]
	if !ok {
		id = &FieldDescriptor{Readonly: true, Sortable: true}
		schema[IDField] = id
	}
	id.Identifier = true

	return &Resource{Name: name, IDType: idType, Schema: schema}, nil
}

// MustNew 同 New，出错时 panic
func MustNew(name string, idType IDType, fields map[string]FieldDescriptor) *Resource {
	r, err := New(name, idType, fields)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Resource) Field(name string) (*FieldDescriptor, bool) {
	f, ok := r.Schema[name]
	return f, ok
}

func (r *Resource) Sortable(name string) bool {
	f, ok := r.Schema[name]
	return ok && f.Sortable
}

func (r *Resource) AllowsOperator(name string, op query.Operator) bool {
	f, ok := r.Schema[name]
	return ok && f.Allows(op)
}

// Fields 返回排序后的字段名
func (r *Resource) Fields() []string {
	names := make([]string, 0, len(r.Schema))
	for name := range r.Schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
