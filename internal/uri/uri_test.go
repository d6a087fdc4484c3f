package uri

import (
	"strings"
	"testing"
)

func TestNewMapsRsyncToLocalPath(t *testing.T) {
	u, err := New(TypeRsync, "rsync://rpki.example.net/repository/ta.cer")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if u.Local() != "rsync/rpki.example.net/repository/ta.cer" {
		t.Fatalf("local 路径不符: %s", u.Local())
	}
	segments := u.Segments()
	if len(segments) != 4 || segments[0] != "rsync" || segments[3] != "ta.cer" {
		t.Fatalf("路径段不符: %v", segments)
	}
	if !u.IsRsync() || u.IsHTTPS() {
		t.Fatalf("协议类型判断错误")
	}
}

func TestNewMapsHTTPSToLocalPath(t *testing.T) {
	u, err := New(TypeHTTPS, "https://rrdp.example.net/notification.xml")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if u.Local() != "https/rrdp.example.net/notification.xml" {
		t.Fatalf("local 路径不符: %s", u.Local())
	}
	if !u.IsHTTPS() {
		t.Fatalf("应识别为 HTTPS")
	}
}

func TestNewNormalizesDotSegments(t *testing.T) {
	u, err := New(TypeRsync, "rsync://a.example/x/./y/../z.cer")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if u.Local() != "rsync/a.example/x/z.cer" {
		t.Fatalf("归一化结果不符: %s", u.Local())
	}
}

func TestNewRejectsInvalidURIs(t *testing.T) {
	cases := []struct {
		name   string
		typ    Type
		global string
	}{
		{"错误前缀", TypeRsync, "https://a.example/x"},
		{"缺少路径", TypeRsync, "rsync://"},
		{"dot-dot 逃逸", TypeRsync, "rsync://../../etc/passwd"},
		{"不可打印字符", TypeHTTPS, "https://a.example/\x01bad"},
		{"非 ASCII", TypeHTTPS, "https://a.example/路径"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.typ, tc.global); err == nil {
				t.Fatalf("应拒绝 %q", tc.global)
			}
		})
	}
}

func TestFromManifestBuildsSiblingURI(t *testing.T) {
	mft, err := New(TypeRsync, "rsync://a.example/repo/x.mft")
	if err != nil {
		t.Fatalf("解析 manifest URI 失败: %v", err)
	}

	u, err := FromManifest(mft, "cert_1-A.cer")
	if err != nil {
		t.Fatalf("推导失败: %v", err)
	}
	if u.Global() != "rsync://a.example/repo/cert_1-A.cer" {
		t.Fatalf("推导结果不符: %s", u.Global())
	}
}

func TestFromManifestRejectsBadEntries(t *testing.T) {
	mft, err := New(TypeRsync, "rsync://a.example/repo/x.mft")
	if err != nil {
		t.Fatalf("解析 manifest URI 失败: %v", err)
	}

	for _, name := range []string{"a.ce", "noext", "ba d.cer", "a/b.cer", "x.c"} {
		if _, err := FromManifest(mft, name); err == nil {
			t.Fatalf("应拒绝 fileList 条目 %q", name)
		}
	}
}

func TestHelpers(t *testing.T) {
	u, err := New(TypeRsync, "rsync://a.example/repo/ta.cer")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !u.IsCertificate() {
		t.Fatalf(".cer 应被识别为证书")
	}
	if u.Filename() != "ta.cer" {
		t.Fatalf("Filename 不符: %s", u.Filename())
	}
	other, _ := New(TypeRsync, "rsync://a.example/repo/ta.cer")
	if !u.Equals(other) {
		t.Fatalf("同一 global 的 URI 应相等")
	}
}

func TestTypeString(t *testing.T) {
	if TypeRsync.String() != "rsync" || TypeHTTPS.String() != "https" {
		t.Fatalf("协议名不符")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("未知类型应 panic")
		} else if !strings.Contains(r.(string), "unexpected URI type") {
			t.Fatalf("panic 信息不符: %v", r)
		}
	}()
	_ = Type(42).String()
}
