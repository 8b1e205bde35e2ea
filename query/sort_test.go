package query

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func ids(records []map[string]any) []any {
	out := make([]any, 0, len(records))
	for _, record := range records {
		out = append(out, record["id"])
	}
	return out
}

func TestParseSort(t *testing.T) {
	Convey("测试 ParseSort", t, func() {
		keys, err := ParseSort([]string{"name", "age-", "id+"})
		So(err, ShouldBeNil)
		So(keys, ShouldResemble, []SortKey{
			{Field: "name"},
			{Field: "age", Descending: true},
			{Field: "id"},
		})
		So(keys[1].String(), ShouldEqual, "age-")

		_, err = ParseSort([]string{"name", "-"})
		So(errors.Is(err, ErrInvalidSort), ShouldBeTrue)
	})
}

func TestSort(t *testing.T) {
	Convey("测试 Sort", t, func() {
		records := []map[string]any{
			{"id": 1, "group": "b", "age": 30},
			{"id": 2, "group": "a", "age": 30},
			{"id": 3, "group": "b", "age": 20},
			{"id": 4, "group": "a", "age": 30},
			{"id": 5, "age": 10},
		}

		Convey("单键升序，相等时保持原有顺序", func() {
			out := Sort(records, []SortKey{{Field: "age"}})
			So(ids(out), ShouldResemble, []any{5, 3, 1, 2, 4})
		})

		Convey("多键", func() {
			out := Sort(records, []SortKey{{Field: "group"}, {Field: "age", Descending: true}})
			So(ids(out), ShouldResemble, []any{5, 2, 4, 1, 3})
		})

		Convey("降序时相等记录仍保持原有顺序", func() {
			out := Sort(records, []SortKey{{Field: "age", Descending: true}})
			So(ids(out), ShouldResemble, []any{1, 2, 4, 3, 5})
		})

		Convey("不修改输入", func() {
			Sort(records, []SortKey{{Field: "id", Descending: true}})
			So(ids(records), ShouldResemble, []any{1, 2, 3, 4, 5})
		})

		Convey("混合类型按类型顺序", func() {
			mixed := []map[string]any{
				{"id": 1, "v": "x"},
				{"id": 2, "v": 3},
				{"id": 3, "v": true},
				{"id": 4},
				{"id": 5, "v": 1.5},
			}
			out := Sort(mixed, []SortKey{{Field: "v"}})
			So(ids(out), ShouldResemble, []any{4, 3, 5, 2, 1})
		})
	})
}
