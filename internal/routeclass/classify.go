package routeclass

import (
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/field-hub/field-hub/internal/config"
)

// Class 是请求归类结果，唯一决定后续采用的缓存策略。
type Class string

const (
	ClassPassthrough Class = "passthrough"
	ClassStaticAsset Class = "static-asset"
	ClassAPI         Class = "api"
	ClassNavigation  Class = "navigation"
	ClassImage       Class = "image"
	ClassOther       Class = "other"
)

// Request 是分类所需的最小请求视图，避免直接依赖具体 HTTP 框架。
type Request struct {
	Method string
	Path   string
	Accept string
	// Mode 对应浏览器的 Sec-Fetch-Mode；navigate 表示页面导航请求。
	Mode string
}

// Selector 持有预编译的前缀/扩展名/正则表，分类过程无副作用。
type Selector struct {
	staticPrefixes []string
	staticExts     map[string]struct{}
	apiPrefixes    []string
	apiPatterns    []*regexp.Regexp
	imageExts      map[string]struct{}
}

// NewSelector 根据路由配置构建分类器，非法正则在此一次性暴露。
func NewSelector(cfg config.RoutesConfig) (*Selector, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.APIPatterns))
	for _, raw := range cfg.APIPatterns {
		compiled, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile api pattern %q: %w", raw, err)
		}
		patterns = append(patterns, compiled)
	}

	return &Selector{
		staticPrefixes: cfg.StaticPrefixes,
		staticExts:     extensionSet(cfg.StaticExtensions),
		apiPrefixes:    cfg.APIPrefixes,
		apiPatterns:    patterns,
		imageExts:      extensionSet(cfg.ImageExtensions),
	}, nil
}

// Classify 按固定优先级返回唯一的路由类别：
// 非 GET → passthrough；静态前缀/扩展名 → static-asset；API 前缀/正则 → api；
// 导航模式或 Accept: text/html → navigation；图片扩展名 → image；其余 → other。
func (s *Selector) Classify(req Request) Class {
	if !strings.EqualFold(req.Method, http.MethodGet) {
		return ClassPassthrough
	}

	clean := path.Clean("/" + req.Path)
	ext := strings.ToLower(path.Ext(clean))

	if s.matchesPrefix(clean, s.staticPrefixes) {
		return ClassStaticAsset
	}
	if _, ok := s.staticExts[ext]; ok {
		return ClassStaticAsset
	}

	if s.matchesPrefix(clean, s.apiPrefixes) {
		return ClassAPI
	}
	for _, pattern := range s.apiPatterns {
		if pattern.MatchString(clean) {
			return ClassAPI
		}
	}

	if strings.EqualFold(req.Mode, "navigate") || acceptsHTML(req.Accept) {
		return ClassNavigation
	}

	if _, ok := s.imageExts[ext]; ok {
		return ClassImage
	}

	return ClassOther
}

func (s *Selector) matchesPrefix(clean string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(clean, prefix) {
			return true
		}
		// 前缀本身（去掉末尾 /）也视为命中，如 /api 对应前缀 /api/。
		if trimmed := strings.TrimSuffix(prefix, "/"); trimmed != "" && clean == trimmed {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(mediaType, "text/html") {
			return true
		}
	}
	return false
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return set
}
