package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// DownloadFields 提供下载日志的公共字段，供验证轮次内的请求日志复用。
func DownloadFields(runID, protocol, uri string, code int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"run_id":    runID,
		"protocol":  protocol,
		"uri":       uri,
		"code":      code,
		"cache_hit": cacheHit,
	}
}

// RunFields 提供验证轮次级别的汇总字段。
func RunFields(runID string, downloads, failures int) logrus.Fields {
	return logrus.Fields{
		"run_id":    runID,
		"downloads": downloads,
		"failures":  failures,
	}
}
