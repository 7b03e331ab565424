package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyRouteDefaults(&cfg.Routes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	absQueue, err := filepath.Abs(cfg.Global.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析队列文件路径: %w", err)
	}
	cfg.Global.QueuePath = absQueue

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("QueuePath", "./storage/queue.db")
	v.SetDefault("Generation", 1)
	v.SetDefault("DynamicMaxEntries", 50)
	v.SetDefault("NetworkTimeout", "5s")
	v.SetDefault("UpstreamTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.Generation == 0 {
		g.Generation = 1
	}
	if g.DynamicMaxEntries == 0 {
		g.DynamicMaxEntries = 50
	}
	if g.NetworkTimeout.DurationValue() == 0 {
		g.NetworkTimeout = Duration(5 * time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyRouteDefaults(r *RoutesConfig) {
	if len(r.StaticPrefixes) == 0 {
		r.StaticPrefixes = []string{"/static/"}
	}
	if len(r.StaticExtensions) == 0 {
		r.StaticExtensions = []string{".css", ".js", ".map", ".woff", ".woff2", ".ttf", ".ico"}
	}
	if len(r.APIPrefixes) == 0 {
		r.APIPrefixes = []string{"/api/"}
	}
	if len(r.ImageExtensions) == 0 {
		r.ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}
	}
	if r.RootDocument == "" {
		r.RootDocument = "/"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
