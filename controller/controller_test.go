package controller

import (
	"context"
	"testing"

	"github.com/hatlonely/resx/log"
	"github.com/hatlonely/resx/query"
	"github.com/hatlonely/resx/resource"
	"github.com/hatlonely/resx/store"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestController(ctx context.Context) (*Controller, *store.Store) {
	s, err := store.NewStore(ctx, store.NewMemoryBackend(), store.WithLogger(log.Discard()))
	So(err, ShouldBeNil)

	users := resource.MustNew("users", resource.IDTypeInteger, map[string]resource.FieldDescriptor{
		"name":  {Sortable: true},
		"age":   {Sortable: true, Operators: []query.Operator{query.OperatorEqual, query.OperatorGte, query.OperatorLt}},
		"email": {},
		"bio":   {Deferred: true},
	})
	return New(users, s, WithLogger(log.Discard())), s
}

func names(result Result) []any {
	var out []any
	for _, r := range result["resources"].([]map[string]any) {
		out = append(out, r["name"])
	}
	return out
}

func TestController(t *testing.T) {
	ctx := context.Background()

	Convey("Controller", t, func() {
		c, s := newTestController(ctx)

		Convey("创建、读取、更新、删除", func() {
			result, err := c.Create(ctx, map[string]any{"name": "a"})
			So(err, ShouldBeNil)
			So(result, ShouldResemble, Result{"id": int64(1)})

			subject, err := c.Acquire(ctx, 1)
			So(err, ShouldBeNil)
			result, err = c.Get(ctx, subject, nil)
			So(err, ShouldBeNil)
			So(result, ShouldResemble, Result{"id": int64(1), "name": "a"})

			result, err = c.Update(ctx, subject, map[string]any{"name": "b"})
			So(err, ShouldBeNil)
			So(result, ShouldResemble, Result{"id": int64(1)})

			subject, err = c.Acquire(ctx, 1)
			So(err, ShouldBeNil)
			result, err = c.Get(ctx, subject, nil)
			So(err, ShouldBeNil)
			So(result, ShouldResemble, Result{"id": int64(1), "name": "b"})

			result, err = c.Delete(ctx, subject)
			So(err, ShouldBeNil)
			So(result, ShouldResemble, Result{"id": int64(1)})

			subject, err = c.Acquire(ctx, 1)
			So(err, ShouldBeNil)
			So(subject, ShouldBeNil)
		})

		Convey("Acquire 先尝试整数", func() {
			_, err := c.Create(ctx, map[string]any{"name": "a"})
			So(err, ShouldBeNil)

			subject, err := c.Acquire(ctx, "1")
			So(err, ShouldBeNil)
			So(subject["name"], ShouldEqual, "a")

			subject, err = c.Acquire(ctx, "x")
			So(err, ShouldBeNil)
			So(subject, ShouldBeNil)

			Convey("字符串标识的资源", func() {
				tags := New(resource.MustNew("tags", resource.IDTypeString, nil), s, WithLogger(log.Discard()))
				_, err := tags.Create(ctx, map[string]any{"id": "red"})
				So(err, ShouldBeNil)
				_, err = tags.Create(ctx, map[string]any{"id": "0042"})
				So(err, ShouldBeNil)

				subject, err := tags.Acquire(ctx, "red")
				So(err, ShouldBeNil)
				So(subject["id"], ShouldEqual, "red")

				subject, err = tags.Acquire(ctx, "0042")
				So(err, ShouldBeNil)
				So(subject["id"], ShouldEqual, "0042")
			})
		})

		Convey("更新不改变标识并保留未提交的字段", func() {
			_, err := c.Create(ctx, map[string]any{"name": "a", "age": 20})
			So(err, ShouldBeNil)
			subject, err := c.Acquire(ctx, 1)
			So(err, ShouldBeNil)

			_, err = c.Update(ctx, subject, map[string]any{"id": 99, "age": 21})
			So(err, ShouldBeNil)

			record, err := s.Get(ctx, "users", 1)
			So(err, ShouldBeNil)
			So(record, ShouldResemble, store.Record{"id": int64(1), "name": "a", "age": int64(21)})
			record, err = s.Get(ctx, "users", 99)
			So(err, ShouldBeNil)
			So(record, ShouldBeNil)
		})

		Convey("Put", func() {
			Convey("subject 不存在时插入", func() {
				result, err := c.Put(ctx, nil, map[string]any{"name": "a"})
				So(err, ShouldBeNil)
				So(result["id"], ShouldEqual, int64(1))

				result, err = c.Put(ctx, nil, map[string]any{"id": 42, "name": "b"})
				So(err, ShouldBeNil)
				So(result["id"], ShouldEqual, int64(42))
			})

			Convey("subject 存在时合并更新", func() {
				_, err := c.Create(ctx, map[string]any{"name": "a", "email": "a@x"})
				So(err, ShouldBeNil)
				subject, err := c.Acquire(ctx, 1)
				So(err, ShouldBeNil)

				result, err := c.Put(ctx, subject, map[string]any{"name": "b"})
				So(err, ShouldBeNil)
				So(result["id"], ShouldEqual, int64(1))

				record, err := s.Get(ctx, "users", 1)
				So(err, ShouldBeNil)
				So(record, ShouldResemble, store.Record{"id": int64(1), "name": "b", "email": "a@x"})
			})
		})

		Convey("subject 未解析", func() {
			_, err := c.Update(ctx, nil, map[string]any{"name": "b"})
			So(errors.Is(err, ErrUnresolvedSubject), ShouldBeTrue)
			_, err = c.Delete(ctx, nil)
			So(errors.Is(err, ErrUnresolvedSubject), ShouldBeTrue)
			_, err = c.Get(ctx, nil, nil)
			So(errors.Is(err, ErrUnresolvedSubject), ShouldBeTrue)
		})

		Convey("Handle", func() {
			result, err := c.Handle(ctx, OperationCreate, nil, map[string]any{"name": "a"})
			So(err, ShouldBeNil)
			So(result["id"], ShouldEqual, int64(1))

			result, err = c.Handle(ctx, OperationQuery, nil, map[string]any{"total": true})
			So(err, ShouldBeNil)
			So(result, ShouldResemble, Result{"total": 1})

			_, err = c.Handle(ctx, "patch", nil, nil)
			So(errors.Is(err, ErrUnknownOperation), ShouldBeTrue)
		})
	})
}

func TestControllerQuery(t *testing.T) {
	ctx := context.Background()

	Convey("Controller.Query", t, func() {
		c, s := newTestController(ctx)
		So(s.Load(ctx, []map[string]any{
			{"resource": "users", "id": 1, "name": "alice", "age": 30, "email": "alice@x", "bio": "a", "extra": 1},
			{"resource": "users", "id": 2, "name": "bob", "age": 17, "email": "bob@x", "bio": "b"},
			{"resource": "users", "id": 3, "name": "carol", "age": 21, "email": "carol@x", "bio": "c"},
			{"resource": "users", "id": 4, "name": "dave", "age": 30, "email": "dave@x", "bio": "d"},
			{"resource": "users", "id": 5, "name": "erin", "age": 20, "email": "erin@x", "bio": "e"},
		}), ShouldBeNil)

		Convey("无参数时按标识返回全部", func() {
			result, err := c.Query(ctx, nil)
			So(err, ShouldBeNil)
			So(result["total"], ShouldEqual, 5)
			So(names(result), ShouldResemble, []any{"alice", "bob", "carol", "dave", "erin"})
		})

		Convey("age__gte 过滤", func() {
			result, err := c.Query(ctx, map[string]any{"query": map[string]any{"age__gte": 21}})
			So(err, ShouldBeNil)
			So(result["total"], ShouldEqual, 3)
			So(names(result), ShouldResemble, []any{"alice", "carol", "dave"})
		})

		Convey("total 不受分页和投影影响", func() {
			result, err := c.Query(ctx, map[string]any{
				"query":   map[string]any{"age__gte": 21},
				"total":   true,
				"offset":  1,
				"limit":   1,
				"exclude": []any{"name"},
			})
			So(err, ShouldBeNil)
			So(result, ShouldResemble, Result{"total": 3})
		})

		Convey("稳定的多键排序", func() {
			result, err := c.Query(ctx, map[string]any{"sort": []any{"age-"}})
			So(err, ShouldBeNil)
			So(names(result), ShouldResemble, []any{"alice", "dave", "carol", "erin", "bob"})

			result, err = c.Query(ctx, map[string]any{"sort": []any{"age-", "name-"}})
			So(err, ShouldBeNil)
			So(names(result), ShouldResemble, []any{"dave", "alice", "carol", "erin", "bob"})

			Convey("逗号分隔的排序字符串", func() {
				result, err := c.Query(ctx, map[string]any{"sort": "age+,name"})
				So(err, ShouldBeNil)
				So(names(result), ShouldResemble, []any{"bob", "erin", "carol", "alice", "dave"})
			})
		})

		Convey("分页", func() {
			result, err := c.Query(ctx, map[string]any{"sort": []any{"name"}, "offset": 1, "limit": 2})
			So(err, ShouldBeNil)
			So(result["total"], ShouldEqual, 5)
			So(names(result), ShouldResemble, []any{"bob", "carol"})

			result, err = c.Query(ctx, map[string]any{"offset": "3"})
			So(err, ShouldBeNil)
			So(names(result), ShouldResemble, []any{"dave", "erin"})

			result, err = c.Query(ctx, map[string]any{"offset": 5})
			So(err, ShouldBeNil)
			So(result["resources"], ShouldBeEmpty)
			So(result["total"], ShouldEqual, 5)

			result, err = c.Query(ctx, map[string]any{"limit": 0})
			So(err, ShouldBeNil)
			So(result["resources"], ShouldBeEmpty)

			result, err = c.Query(ctx, map[string]any{"limit": 100})
			So(err, ShouldBeNil)
			So(len(result["resources"].([]map[string]any)), ShouldEqual, 5)

			_, err = c.Query(ctx, map[string]any{"offset": -1})
			So(errors.Is(err, ErrInvalidRequest), ShouldBeTrue)

			_, err = c.Query(ctx, map[string]any{"offset": 1.7})
			So(errors.Is(err, ErrInvalidRequest), ShouldBeTrue)

			result, err = c.Query(ctx, map[string]any{"offset": 4.0})
			So(err, ShouldBeNil)
			So(len(result["resources"].([]map[string]any)), ShouldEqual, 1)
		})

		Convey("投影", func() {
			result, err := c.Query(ctx, map[string]any{"limit": 1})
			So(err, ShouldBeNil)
			So(result["resources"], ShouldResemble, []map[string]any{
				{"id": int64(1), "name": "alice", "age": int64(30), "email": "alice@x"},
			})

			result, err = c.Query(ctx, map[string]any{
				"limit":   1,
				"include": []any{"bio", "extra"},
				"exclude": []any{"id", "email", "age"},
			})
			So(err, ShouldBeNil)
			So(result["resources"], ShouldResemble, []map[string]any{
				{"id": int64(1), "name": "alice", "bio": "a"},
			})

			subject, err := c.Acquire(ctx, 2)
			So(err, ShouldBeNil)
			record, err := c.Get(ctx, subject, map[string]any{"include": []any{"bio"}, "exclude": []any{"email"}})
			So(err, ShouldBeNil)
			So(record, ShouldResemble, Result{"id": int64(2), "name": "bob", "age": int64(17), "bio": "b"})
		})

		Convey("非法的查询", func() {
			_, err := c.Query(ctx, map[string]any{"query": map[string]any{"nickname": "x"}})
			So(errors.Is(err, ErrUnknownField), ShouldBeTrue)

			_, err = c.Query(ctx, map[string]any{"query": map[string]any{"age__gt": 1}})
			So(errors.Is(err, ErrOperatorNotAllowed), ShouldBeTrue)

			_, err = c.Query(ctx, map[string]any{"query": map[string]any{"name__like": "a"}})
			So(errors.Is(err, query.ErrUnknownOperator), ShouldBeTrue)

			_, err = c.Query(ctx, map[string]any{"sort": []any{"email"}})
			So(errors.Is(err, ErrNotSortable), ShouldBeTrue)

			_, err = c.Query(ctx, map[string]any{"sort": []any{"-"}})
			So(errors.Is(err, query.ErrInvalidSort), ShouldBeTrue)
		})

		Convey("空表", func() {
			other := New(resource.MustNew("things", "", nil), s, WithLogger(log.Discard()))
			result, err := other.Query(ctx, nil)
			So(err, ShouldBeNil)
			So(result["total"], ShouldEqual, 0)
			So(result["resources"], ShouldBeEmpty)
		})
	})
}

func TestParseRequest(t *testing.T) {
	Convey("ParseRequest", t, func() {
		Convey("空参数", func() {
			req, err := ParseRequest(nil)
			So(err, ShouldBeNil)
			So(req.Offset, ShouldBeNil)
			So(req.Limit, ShouldBeNil)
		})

		Convey("弱类型转换", func() {
			req, err := ParseRequest(map[string]any{
				"offset":  "2",
				"limit":   float64(10),
				"total":   "true",
				"include": []any{"bio"},
				"sort":    "name,age-",
				"name":    "ignored",
			})
			So(err, ShouldBeNil)
			So(*req.Offset, ShouldEqual, 2)
			So(*req.Limit, ShouldEqual, 10)
			So(req.Total, ShouldBeTrue)
			So(req.Include, ShouldResemble, []string{"bio"})
			So(req.Sort, ShouldResemble, []string{"name", "age-"})
		})

		Convey("类型错误", func() {
			_, err := ParseRequest(map[string]any{"limit": "ten"})
			So(errors.Is(err, ErrInvalidRequest), ShouldBeTrue)
		})
	})
}
