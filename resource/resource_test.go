package resource

import (
	"testing"

	"github.com/hatlonely/resx/cfg"
	"github.com/hatlonely/resx/query"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNew(t *testing.T) {
	Convey("测试 New", t, func() {
		Convey("自动加入标识字段", func() {
			r, err := New("users", "", map[string]FieldDescriptor{
				"name": {Sortable: true},
			})
			So(err, ShouldBeNil)
			So(r.IDType, ShouldEqual, IDTypeInteger)
			So(r.Fields(), ShouldResemble, []string{"id", "name"})

			id, ok := r.Field(IDField)
			So(ok, ShouldBeTrue)
			So(id.Identifier, ShouldBeTrue)
			So(id.Sortable, ShouldBeTrue)
		})

		Convey("显式声明的标识字段保留其它标记", func() {
			r, err := New("users", IDTypeUUID, map[string]FieldDescriptor{
				"id":   {Operators: []query.Operator{query.OperatorEqual}},
				"name": {Identifier: true},
			})
			So(err, ShouldBeNil)
			So(r.Schema["id"].Identifier, ShouldBeTrue)
			So(r.Schema["id"].Sortable, ShouldBeFalse)
			So(r.Schema["name"].Identifier, ShouldBeFalse)
			So(r.AllowsOperator("id", query.OperatorEqual), ShouldBeTrue)
			So(r.AllowsOperator("id", query.OperatorGt), ShouldBeFalse)
		})

		Convey("非法参数", func() {
			_, err := New("1users", IDTypeInteger, nil)
			So(errors.Is(err, ErrInvalidName), ShouldBeTrue)

			_, err = New("users", "bigint", nil)
			So(errors.Is(err, ErrInvalidIDType), ShouldBeTrue)

			_, err = New("users", IDTypeInteger, map[string]FieldDescriptor{
				"name": {Operators: []query.Operator{"like"}},
			})
			So(errors.Is(err, query.ErrUnknownOperator), ShouldBeTrue)
		})

		Convey("辅助方法", func() {
			r := MustNew("users", IDTypeInteger, map[string]FieldDescriptor{
				"name": {Sortable: true},
				"bio":  {},
			})
			So(r.Sortable("name"), ShouldBeTrue)
			So(r.Sortable("bio"), ShouldBeFalse)
			So(r.Sortable("missing"), ShouldBeFalse)
			So(r.AllowsOperator("bio", query.OperatorIContains), ShouldBeTrue)
			So(r.AllowsOperator("missing", query.OperatorEqual), ShouldBeFalse)
			So(func() { MustNew("", IDTypeInteger, nil) }, ShouldPanic)
		})
	})
}

func TestProject(t *testing.T) {
	Convey("测试 Project", t, func() {
		r := MustNew("users", IDTypeInteger, map[string]FieldDescriptor{
			"name": {},
			"bio":  {Deferred: true},
			"age":  {},
		})
		record := map[string]any{"id": int64(1), "name": "a", "bio": "long", "age": int64(3), "secret": "x"}

		Convey("默认丢弃 deferred 和 schema 外字段", func() {
			So(r.Project(record, nil, nil), ShouldResemble, map[string]any{"id": int64(1), "name": "a", "age": int64(3)})
		})

		Convey("include 带回 deferred 字段", func() {
			So(r.Project(record, []string{"bio", "secret"}, nil), ShouldResemble,
				map[string]any{"id": int64(1), "name": "a", "bio": "long", "age": int64(3)})
		})

		Convey("exclude 不能去掉标识字段", func() {
			So(r.Project(record, nil, []string{"id", "name"}), ShouldResemble, map[string]any{"id": int64(1), "age": int64(3)})
		})

		Convey("同时 include 和 exclude 时 exclude 优先", func() {
			So(r.Project(record, []string{"bio"}, []string{"bio"}), ShouldResemble,
				map[string]any{"id": int64(1), "name": "a", "age": int64(3)})
		})
	})
}

func TestDefinition(t *testing.T) {
	Convey("测试 Definition", t, func() {
		Convey("从配置构建", func() {
			var definitions []*Definition
			So(cfg.Decode([]any{
				map[string]any{
					"name": "users",
					"fields": map[string]any{
						"name": map[string]any{"sortable": true, "operators": []any{"equal", "iprefix"}},
						"bio":  map[string]any{"deferred": true},
						"tags": nil,
					},
				},
				map[string]any{"name": "tokens", "idType": "uuid"},
			}, &definitions), ShouldBeNil)

			resources, err := BuildAll(definitions)
			So(err, ShouldBeNil)
			So(resources["users"].IDType, ShouldEqual, IDTypeInteger)
			So(resources["users"].Schema["bio"].Deferred, ShouldBeTrue)
			So(resources["users"].Schema["name"].Operators, ShouldResemble, []query.Operator{query.OperatorEqual, query.OperatorIPrefix})
			So(resources["users"].Fields(), ShouldResemble, []string{"bio", "id", "name", "tags"})
			So(resources["tokens"].IDType, ShouldEqual, IDTypeUUID)
		})

		Convey("重复名称", func() {
			_, err := BuildAll([]*Definition{{Name: "users"}, {Name: "users"}})
			So(err, ShouldNotBeNil)
		})

		Convey("非法 idType", func() {
			_, err := (&Definition{Name: "users", IDType: "bigint"}).Build()
			So(err, ShouldNotBeNil)
		})

		Convey("非法操作符", func() {
			_, err := (&Definition{Name: "users", Fields: map[string]*FieldDefinition{
				"name": {Operators: []string{"like"}},
			}}).Build()
			So(errors.Is(err, query.ErrUnknownOperator), ShouldBeTrue)
		})
	})
}
