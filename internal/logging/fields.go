package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由类别/策略/命中状态字段，供拦截请求日志复用。
func RequestFields(routeClass, strategy, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"route_class": routeClass,
		"strategy":    strategy,
		"path":        path,
		"cache_hit":   cacheHit,
	}
}

// SyncFields 提供同步触发相关字段，供协调器日志复用。
func SyncFields(tag, queue string) logrus.Fields {
	return logrus.Fields{
		"action": "sync",
		"tag":    tag,
		"queue":  queue,
	}
}
