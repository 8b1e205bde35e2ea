package store

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewCachedBackendWithOptions(t *testing.T) {
	Convey("NewCachedBackendWithOptions", t, func() {
		Convey("参数为nil时返回错误", func() {
			_, err := NewCachedBackendWithOptions(nil, &CacheOptions{})
			So(err, ShouldNotBeNil)

			_, err = NewCachedBackendWithOptions(NewMemoryBackend(), nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestCachedBackend(t *testing.T) {
	ctx := context.Background()

	Convey("CachedBackend", t, func() {
		inner := NewMemoryBackend()
		c, err := NewCachedBackendWithOptions(inner, &CacheOptions{Size: 1024 * 1024})
		So(err, ShouldBeNil)
		Reset(func() { _ = c.Close() })
		So(c.CreateTable(ctx, "users", IDInteger), ShouldBeNil)

		Convey("写入后从缓存读取", func() {
			So(c.Insert(ctx, "users", int64(1), `{"name":"alice"}`), ShouldBeNil)

			// 直接修改内层后端，缓存中仍是旧值
			So(inner.Update(ctx, "users", int64(1), `{"name":"bob"}`), ShouldBeNil)
			data, ok, err := c.Get(ctx, "users", int64(1))
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(data, ShouldEqual, `{"name":"alice"}`)
		})

		Convey("未命中时读穿到后端并回填", func() {
			So(inner.Insert(ctx, "users", int64(2), `{"name":"carol"}`), ShouldBeNil)
			data, ok, err := c.Get(ctx, "users", int64(2))
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(data, ShouldEqual, `{"name":"carol"}`)

			_, _, err = c.Get(ctx, "users", int64(2))
			So(err, ShouldBeNil)
			So(c.HitRate(), ShouldEqual, 0.5)
		})

		Convey("不存在的行不缓存", func() {
			_, ok, err := c.Get(ctx, "users", int64(3))
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			So(inner.Insert(ctx, "users", int64(3), `{}`), ShouldBeNil)
			_, ok, err = c.Get(ctx, "users", int64(3))
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("更新和删除同步缓存", func() {
			So(c.Insert(ctx, "users", int64(1), `{"name":"alice"}`), ShouldBeNil)
			So(c.Update(ctx, "users", int64(1), `{"name":"dave"}`), ShouldBeNil)
			data, _, err := c.Get(ctx, "users", int64(1))
			So(err, ShouldBeNil)
			So(data, ShouldEqual, `{"name":"dave"}`)

			So(c.Delete(ctx, "users", int64(1)), ShouldBeNil)
			_, ok, err := c.Get(ctx, "users", int64(1))
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Reset 清空缓存", func() {
			So(c.Insert(ctx, "users", int64(1), `{}`), ShouldBeNil)
			So(c.Reset(ctx), ShouldBeNil)
			_, ok, err := c.Get(ctx, "users", int64(1))
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("不同表的相同标识互不影响", func() {
			So(c.CreateTable(ctx, "tags", IDString), ShouldBeNil)
			So(c.Insert(ctx, "users", int64(1), `{"name":"alice"}`), ShouldBeNil)
			So(c.Insert(ctx, "tags", "1", `{"color":"red"}`), ShouldBeNil)

			data, _, err := c.Get(ctx, "tags", "1")
			So(err, ShouldBeNil)
			So(data, ShouldEqual, `{"color":"red"}`)
		})
	})
}
