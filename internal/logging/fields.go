package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供策略/origin/命中状态字段，供拦截请求日志复用。
func RequestFields(strategy, origin, method, url string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"strategy":  strategy,
		"origin":    origin,
		"method":    method,
		"url":       url,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 描述 install/activate 阶段与当前缓存代。
func LifecycleFields(phase, version string) logrus.Fields {
	return logrus.Fields{
		"action":  "lifecycle",
		"phase":   phase,
		"version": version,
	}
}
