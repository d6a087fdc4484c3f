package config

import (
	"errors"
	"fmt"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LocalRepository == "" {
		return newFieldError("Global.LocalRepository", "不能为空")
	}
	if g.ValidationInterval.DurationValue() <= 0 {
		return newFieldError("Global.ValidationInterval", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.HTTPTimeout.DurationValue() <= 0 {
		return newFieldError("Global.HTTPTimeout", "必须大于 0")
	}
	if g.RsyncTimeout.DurationValue() < 0 {
		return newFieldError("Global.RsyncTimeout", "不能为负数")
	}

	if len(c.Tals) == 0 {
		return errors.New("至少需要配置一个 Tal")
	}

	seenNames := map[string]struct{}{}
	for _, tal := range c.Tals {
		if tal.Name == "" {
			return newFieldError("Tal[].Name", "不能为空")
		}
		if _, exists := seenNames[tal.Name]; exists {
			return newFieldError(talField(tal.Name, "Name"), "重复")
		}
		seenNames[tal.Name] = struct{}{}

		if len(tal.URIs) == 0 {
			return newFieldError(talField(tal.Name, "URIs"), "不能为空")
		}
		for _, raw := range tal.URIs {
			if _, err := parseSeedURI(raw); err != nil {
				return fmt.Errorf("%s: %w", talField(tal.Name, "URIs"), err)
			}
		}
	}

	return nil
}
