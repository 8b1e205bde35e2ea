package resource

import (
	"github.com/hatlonely/resx/cfg"
	"github.com/hatlonely/resx/query"
	"github.com/pkg/errors"
)

// FieldDefinition 配置文件中的字段定义
type FieldDefinition struct {
	Readonly  bool     `cfg:"readonly"`
	Deferred  bool     `cfg:"deferred"`
	Sortable  bool     `cfg:"sortable"`
	Operators []string `cfg:"operators"`
}

// Definition 配置文件中的资源定义
//
//	name: users
//	idType: integer
//	fields:
//	  name:
//	    sortable: true
//	    operators: [equal, iequal, prefix]
//	  bio:
//	    deferred: true
type Definition struct {
	Name   string                      `cfg:"name" validate:"required"`
	IDType string                      `cfg:"idType" def:"integer" validate:"oneof=integer string uuid"`
	Fields map[string]*FieldDefinition `cfg:"fields"`
}

func (d *Definition) Build() (*Resource, error) {
	if d == nil {
		return nil, errors.New("definition is nil")
	}
	if err := cfg.SetDefaults(d); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(d); err != nil {
		return nil, errors.WithMessagef(err, "resource %q", d.Name)
	}

	fields := make(map[string]FieldDescriptor, len(d.Fields))
	for name, f := range d.Fields {
		if f == nil {
			f = &FieldDefinition{}
		}
		descriptor := FieldDescriptor{
			Readonly: f.Readonly,
			Deferred: f.Deferred,
			Sortable: f.Sortable,
		}
		for _, op := range f.Operators {
			descriptor.Operators = append(descriptor.Operators, query.Operator(op))
		}
		fields[name] = descriptor
	}

	return New(d.Name, IDType(d.IDType), fields)
}

// BuildAll 构建多个资源，名称不能重复
func BuildAll(definitions []*Definition) (map[string]*Resource, error) {
	resources := make(map[string]*Resource, len(definitions))
	for _, d := range definitions {
		r, err := d.Build()
		if err != nil {
			return nil, err
		}
		if _, ok := resources[r.Name]; ok {
			return nil, errors.Errorf("duplicate resource %q", r.Name)
		}
		resources[r.Name] = r
	}
	return resources, nil
}
