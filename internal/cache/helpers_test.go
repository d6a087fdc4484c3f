package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rpki-cache/rpki-cache/internal/uri"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeClock 手工推进的时钟，用于模拟跨轮次的时间流逝。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// fakeRsync 计数式 Rsyncer，成功时在本地仓库落一个带文件的目录。
type fakeRsync struct {
	repo  string
	calls int
	err   error
}

func (f *fakeRsync) Download(_ context.Context, u *uri.URI) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	dst := filepath.Join(f.repo, filepath.FromSlash(u.Local()))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dst, "payload.cer"), []byte("x"), 0o644)
}

// fakeHTTP 计数式 Fetcher，成功时在本地仓库落一个普通文件。
type fakeHTTP struct {
	repo  string
	calls int
	err   error
}

func (f *fakeHTTP) Download(_ context.Context, u *uri.URI) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	dst := filepath.Join(f.repo, filepath.FromSlash(u.Local()))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(dst, []byte("x"), 0o644)
}

// codedError 模拟携带结果码的下载错误。
type codedError struct {
	code int
}

func (e codedError) Error() string {
	return fmt.Sprintf("fake download error (code %d)", e.code)
}

func (e codedError) ErrorCode() int {
	return e.code
}

func newTestCache(t *testing.T) (*Cache, *fakeRsync, *fakeHTTP, *fakeClock) {
	t.Helper()

	repo := t.TempDir()
	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	rs := &fakeRsync{repo: repo}
	ht := &fakeHTTP{repo: repo}

	c, err := New(Options{
		LocalRepository: repo,
		Logger:          quietLogger(),
		Rsync:           rs,
		HTTP:            ht,
		Now:             clock.Now,
	})
	if err != nil {
		t.Fatalf("构造缓存失败: %v", err)
	}
	return c, rs, ht, clock
}

func mustURI(t *testing.T, typ uri.Type, global string) *uri.URI {
	t.Helper()
	u, err := uri.New(typ, global)
	if err != nil {
		t.Fatalf("解析 URI %q 失败: %v", global, err)
	}
	return u
}

// findNode 沿路径段在树里定位节点，供断言树形状使用。
func findNode(root *node, segments ...string) *node {
	n := root
	for _, seg := range segments {
		if n == nil {
			return nil
		}
		n = n.findChild(seg)
	}
	return n
}
