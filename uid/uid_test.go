package uid

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUUIDGenerator(t *testing.T) {
	Convey("测试 UUIDGenerator", t, func() {
		Convey("默认 v4 带连字符", func() {
			g, err := NewUUIDGeneratorWithOptions(nil)
			So(err, ShouldBeNil)

			id, err := g.Generate()
			So(err, ShouldBeNil)
			u, err := uuid.Parse(id)
			So(err, ShouldBeNil)
			So(u.Version(), ShouldEqual, uuid.Version(4))
			So(id, ShouldEqual, u.String())
		})

		Convey("各版本", func() {
			for version, expected := range map[string]uuid.Version{"v1": 1, "v4": 4, "v6": 6, "v7": 7} {
				g, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: version})
				So(err, ShouldBeNil)
				id, err := g.Generate()
				So(err, ShouldBeNil)
				So(uuid.MustParse(id).Version(), ShouldEqual, expected)
			}
		})

		Convey("紧凑格式", func() {
			g, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Compact: true})
			So(err, ShouldBeNil)
			id, err := g.Generate()
			So(err, ShouldBeNil)
			So(regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(id), ShouldBeTrue)
		})

		Convey("非法版本", func() {
			_, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v9"})
			So(err, ShouldNotBeNil)
		})

		Convey("不重复", func() {
			g, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v7"})
			So(err, ShouldBeNil)
			seen := map[string]bool{}
			for i := 0; i < 1000; i++ {
				id, err := g.Generate()
				So(err, ShouldBeNil)
				So(seen[id], ShouldBeFalse)
				seen[id] = true
			}
		})
	})
}
