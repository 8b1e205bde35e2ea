package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hatlonely/resx/log"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewFixtureWatcher(t *testing.T) {
	Convey("NewFixtureWatcher", t, func() {
		s, err := NewStore(context.Background(), NewMemoryBackend(), WithLogger(log.Discard()))
		So(err, ShouldBeNil)

		Convey("options为nil时返回错误", func() {
			w, err := NewFixtureWatcher(s, nil, nil, nil)
			So(err, ShouldNotBeNil)
			So(w, ShouldBeNil)
		})

		Convey("store为nil时返回错误", func() {
			w, err := NewFixtureWatcher(nil, &FixtureWatcherOptions{FilePath: "fixtures.json"}, nil, nil)
			So(err, ShouldNotBeNil)
			So(w, ShouldBeNil)
		})

		Convey("相对路径转换为绝对路径", func() {
			w, err := NewFixtureWatcher(s, &FixtureWatcherOptions{FilePath: "fixtures.json"}, nil, nil)
			So(err, ShouldBeNil)
			So(filepath.IsAbs(w.filePath), ShouldBeTrue)
		})
	})
}

func TestFixtureWatcher(t *testing.T) {
	ctx := context.Background()

	Convey("FixtureWatcher", t, func() {
		s, err := NewStore(ctx, NewMemoryBackend(), WithLogger(log.Discard()))
		So(err, ShouldBeNil)

		path := filepath.Join(t.TempDir(), "fixtures.json")
		So(os.WriteFile(path, []byte(`[{"resource": "users", "id": 1, "name": "alice"}]`), 0644), ShouldBeNil)

		reloaded := make(chan error, 8)
		w, err := NewFixtureWatcher(s, &FixtureWatcherOptions{FilePath: path}, log.Discard(), func(err error) {
			reloaded <- err
		})
		So(err, ShouldBeNil)
		defer w.Close()

		Convey("启动时加载夹具", func() {
			So(w.Start(ctx), ShouldBeNil)
			record, err := s.Get(ctx, "users", 1)
			So(err, ShouldBeNil)
			So(record["name"], ShouldEqual, "alice")
		})

		Convey("文件变化时重新加载", func() {
			So(w.Start(ctx), ShouldBeNil)
			So(os.WriteFile(path, []byte(`[{"resource": "users", "id": 2, "name": "bob"}]`), 0644), ShouldBeNil)

			// 一次写入可能触发多个事件，等到内容符合预期
			deadline := time.After(5 * time.Second)
			var record Record
			for record == nil {
				select {
				case err := <-reloaded:
					if err != nil {
						continue
					}
					record, _ = s.Get(ctx, "users", 2)
				case <-deadline:
					t.Fatal("fixtures not reloaded")
				}
			}
			So(record["name"], ShouldEqual, "bob")

			old, err := s.Get(ctx, "users", 1)
			So(err, ShouldBeNil)
			So(old, ShouldBeNil)
		})

		Convey("初始文件无效时 Start 返回错误", func() {
			So(os.WriteFile(path, []byte(`{"resource": "users"}`), 0644), ShouldBeNil)
			So(w.Start(ctx), ShouldNotBeNil)
		})

		Convey("重复关闭", func() {
			So(w.Start(ctx), ShouldBeNil)
			So(w.Close(), ShouldBeNil)
			So(w.Close(), ShouldBeNil)
		})
	})
}
