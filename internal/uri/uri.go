package uri

import (
	"fmt"
	"path"
	"strings"
)

// Type 区分两种取回协议：rsync 一次镜像整棵子树，HTTPS 逐文件拉取。
type Type int

const (
	TypeRsync Type = iota
	TypeHTTPS
)

const (
	rsyncPrefix = "rsync://"
	httpsPrefix = "https://"
)

// String 输出协议名，同时也是缓存树根节点与磁盘目录的名字。
func (t Type) String() string {
	switch t {
	case TypeRsync:
		return "rsync"
	case TypeHTTPS:
		return "https"
	}
	panic(fmt.Sprintf("unexpected URI type: %d", int(t)))
}

// URI 将远端地址（global）与其在本地仓库内的相对路径（local）绑定。
// local 形如 "rsync/a.b.c/d/e.cer"，永远以协议目录开头且已归一化。
// 实例创建后不可变。
type URI struct {
	global string
	local  string
	typ    Type
}

// New 校验 global 地址并推导 local 相对路径。
// global 的字符集必须是可打印 ASCII：local 直接嵌入文件系统路径，
// 我们无法假设系统的文件名编码能容纳更多。
func New(typ Type, global string) (*URI, error) {
	for i := 0; i < len(global); i++ {
		if global[i] < 0x20 || global[i] > 0x7E {
			return nil, fmt.Errorf("URL 含有不可打印字符（编码 %d）", global[i])
		}
	}

	var prefix string
	switch typ {
	case TypeRsync:
		prefix = rsyncPrefix
	case TypeHTTPS:
		prefix = httpsPrefix
	default:
		panic(fmt.Sprintf("unexpected URI type: %d", int(typ)))
	}

	if !strings.HasPrefix(global, prefix) {
		return nil, fmt.Errorf("URI '%s' 不以 '%s' 开头", global, prefix)
	}

	rest := path.Clean(strings.TrimPrefix(global, prefix))
	if rest == "." || rest == "/" || rest == "" {
		return nil, fmt.Errorf("URI '%s' 缺少主机与路径", global)
	}
	if rest == ".." || strings.HasPrefix(rest, "../") || strings.HasPrefix(rest, "/") {
		return nil, fmt.Errorf("URI '%s' 试图用 .. 逃出协议目录", global)
	}

	return &URI{
		global: global,
		local:  typ.String() + "/" + rest,
		typ:    typ,
	}, nil
}

// FromManifest 根据 manifest 的 URI 与其 fileList 中的简单文件名推导完整 URI。
// 例如 mft 为 "rsync://a/b/c.mft"、name 为 "d.cer" 时得到 "rsync://a/b/d.cer"。
func FromManifest(mft *URI, name string) (*URI, error) {
	if err := validateManifestEntry(name); err != nil {
		return nil, err
	}
	slash := strings.LastIndexByte(mft.global, '/')
	if slash < 0 {
		return nil, fmt.Errorf("manifest URL '%s' 不含斜杠", mft.global)
	}
	return New(TypeRsync, mft.global[:slash+1]+name)
}

// validateManifestEntry 按 RFC 6486bis §4.2.2 校验 fileList 条目：
// 字母数字、'-'、'_'，加一个三字母扩展名。
func validateManifestEntry(name string) error {
	if len(name) < 5 {
		return fmt.Errorf("文件名过短（%d < 5）", len(name))
	}
	dot := len(name) - 4
	if name[dot] != '.' {
		return fmt.Errorf("文件名 '%s' 缺少三字母扩展名", name)
	}
	for i := 0; i < len(name); i++ {
		if i == dot {
			continue
		}
		c := name[i]
		ok := ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') ||
			('0' <= c && c <= '9') || c == '-' || c == '_'
		if !ok {
			return fmt.Errorf("文件名 '%s' 含有非法字符 %q", name, c)
		}
	}
	return nil
}

// Global 返回远端地址（含协议头）。
func (u *URI) Global() string {
	return u.global
}

// Local 返回相对本地仓库根目录的路径，首段为协议目录。
func (u *URI) Local() string {
	return u.local
}

// Segments 返回 local 的各级路径段，首段为协议根的名字。
func (u *URI) Segments() []string {
	return strings.Split(u.local, "/")
}

// Type 返回协议类型。
func (u *URI) Type() Type {
	return u.typ
}

// IsRsync reports whether the URI uses the recursive rsync protocol.
func (u *URI) IsRsync() bool {
	return u.typ == TypeRsync
}

// IsHTTPS reports whether the URI uses the per-file HTTPS protocol.
func (u *URI) IsHTTPS() bool {
	return u.typ == TypeHTTPS
}

// Equals 只比较 global：local 是派生值。
func (u *URI) Equals(other *URI) bool {
	return u.global == other.global
}

// HasExtension 判断扩展名，ext 需要带句点。
func (u *URI) HasExtension(ext string) bool {
	return strings.HasSuffix(u.global, ext)
}

// IsCertificate reports whether the URI points at a .cer object.
func (u *URI) IsCertificate() bool {
	return u.HasExtension(".cer")
}

// Filename 返回 global 的末段文件名，供紧凑日志输出使用。
func (u *URI) Filename() string {
	if slash := strings.LastIndexByte(u.global, '/'); slash >= 0 {
		return u.global[slash+1:]
	}
	return u.global
}
