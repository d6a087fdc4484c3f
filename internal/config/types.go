package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rpki-cache/rpki-cache/internal/uri"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	LocalRepository    string   `mapstructure:"LocalRepository"`
	ValidationInterval Duration `mapstructure:"ValidationInterval"`
	MaxRetries         int      `mapstructure:"MaxRetries"`
	InitialBackoff     Duration `mapstructure:"InitialBackoff"`
	HTTPTimeout        Duration `mapstructure:"HTTPTimeout"`
	RsyncProgram       string   `mapstructure:"RsyncProgram"`
	RsyncTimeout       Duration `mapstructure:"RsyncTimeout"`
}

// TalConfig 描述一个信任锚定位器：每轮验证从它列出的 URI 开始拉取。
type TalConfig struct {
	Name string   `mapstructure:"Name"`
	URIs []string `mapstructure:"URIs"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Tals   []TalConfig  `mapstructure:"Tal"`
}

// ParseURIs 把 TAL 的地址列表解析为带协议标签的 URI；
// 协议由地址前缀决定（rsync:// 或 https://）。
func (t TalConfig) ParseURIs() ([]*uri.URI, error) {
	result := make([]*uri.URI, 0, len(t.URIs))
	for _, raw := range t.URIs {
		u, err := parseSeedURI(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, nil
}

func parseSeedURI(raw string) (*uri.URI, error) {
	switch {
	case strings.HasPrefix(raw, "rsync://"):
		return uri.New(uri.TypeRsync, raw)
	case strings.HasPrefix(raw, "https://"):
		return uri.New(uri.TypeHTTPS, raw)
	default:
		return nil, fmt.Errorf("仅支持 rsync:// 与 https:// 地址: %s", raw)
	}
}
