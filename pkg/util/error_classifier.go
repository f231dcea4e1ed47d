package util

import (
	"context"
	"errors"
	"net"
	"net/url"
)

type permanentError interface {
	Permanent() bool
}

type statusCoder interface {
	StatusCode() int
}

// ClassifyDeliveryError 对投递错误分类
// Returns: (isPermanent, errorType)
// 只有明确声明 Permanent() 的错误才视为永久失败（端点失效），其他一律按临时失败处理
func ClassifyDeliveryError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var pe permanentError
	if errors.As(err, &pe) && pe.Permanent() {
		return true, "endpoint_gone"
	}

	// Context timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return false, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// URL errors wrap net errors, check them first
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return false, "network_timeout"
		}
		return false, "network_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return false, "network_timeout"
		}
		return false, "network_error"
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code == 429:
			return false, "rate_limited"
		case code >= 500:
			return false, "provider_5xx"
		case code >= 400:
			return false, "provider_4xx"
		}
	}

	return false, "unknown_error"
}
