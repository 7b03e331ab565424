package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
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
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.QueuePath == "" {
		return newFieldError("Global.QueuePath", "不能为空")
	}
	if g.Generation <= 0 {
		return newFieldError("Global.Generation", "必须大于 0")
	}
	if g.DynamicMaxEntries <= 0 {
		return newFieldError("Global.DynamicMaxEntries", "必须大于 0")
	}
	if g.NetworkTimeout.DurationValue() <= 0 {
		return newFieldError("Global.NetworkTimeout", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}

	r := c.Routes
	for _, prefix := range r.StaticPrefixes {
		if err := validatePrefix(prefix); err != nil {
			return fmt.Errorf("%s: %w", routesField("StaticPrefixes"), err)
		}
	}
	for _, prefix := range r.APIPrefixes {
		if err := validatePrefix(prefix); err != nil {
			return fmt.Errorf("%s: %w", routesField("APIPrefixes"), err)
		}
	}
	for _, pattern := range r.APIPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%s: 非法正则 %q: %w", routesField("APIPatterns"), pattern, err)
		}
	}
	for _, ext := range append(append([]string{}, r.StaticExtensions...), r.ImageExtensions...) {
		if !strings.HasPrefix(ext, ".") {
			return newFieldError(routesField("Extensions"), fmt.Sprintf("扩展名必须以 . 开头: %s", ext))
		}
	}
	for _, path := range r.RefreshPaths {
		if err := validatePrefix(path); err != nil {
			return fmt.Errorf("%s: %w", routesField("RefreshPaths"), err)
		}
	}
	if !strings.HasPrefix(r.RootDocument, "/") {
		return newFieldError(routesField("RootDocument"), "必须以 / 开头")
	}

	return nil
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return errors.New("不能为空")
	}
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("必须以 / 开头: %s", prefix)
	}
	if strings.Contains(prefix, " ") {
		return fmt.Errorf("不允许包含空格: %s", prefix)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
