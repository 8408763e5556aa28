package browser

import (
	"context"
	"errors"
	"strings"
)

var (
	blockedTitles = []string{
		"just a moment",
		"attention required",
		"access denied",
		"403 forbidden",
		"robot check",
	}
	disconnectHints = []string{
		"use of closed network connection",
		"websocket: close",
		"connection closed",
		"target closed",
		"session closed",
		"broken pipe",
		"connection reset by peer",
	}
)

// containsAny 检查文本是否包含任意一个关键词
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// detectBlockType 检测页面被拦截的类型，正常页面返回空字符串
func detectBlockType(title, html string) string {
	lowerTitle := strings.ToLower(title)
	lowerHTML := strings.ToLower(html)

	// Cloudflare 拦截
	if strings.Contains(lowerTitle, "just a moment") ||
		strings.Contains(lowerHTML, "cf-browser-verification") ||
		strings.Contains(lowerHTML, "challenges.cloudflare.com") ||
		strings.Contains(lowerHTML, `id="challenge-form"`) ||
		strings.Contains(lowerHTML, `id="challenge-running"`) ||
		strings.Contains(lowerHTML, "cf-turnstile") {
		return "cloudflare_challenge"
	}

	// 人机验证
	if strings.Contains(lowerTitle, "captcha") ||
		strings.Contains(lowerTitle, "robot check") ||
		strings.Contains(lowerHTML, "verify you are human") ||
		strings.Contains(lowerHTML, `class="g-recaptcha"`) ||
		strings.Contains(lowerHTML, `class="h-captcha"`) ||
		strings.Contains(lowerHTML, "/errors/validatecaptcha") {
		return "captcha"
	}

	// 403 Forbidden（IP 被封）
	if strings.Contains(lowerTitle, "403") ||
		strings.Contains(lowerTitle, "forbidden") ||
		containsAny(lowerTitle, blockedTitles) {
		return "403_forbidden"
	}

	// 429 Too Many Requests（速率限制）
	if strings.Contains(lowerTitle, "429") ||
		strings.Contains(lowerTitle, "too many requests") {
		return "429_rate_limited"
	}

	// 完全空白页
	if (title == "" || title == "about:blank") && len(strings.TrimSpace(html)) < 100 {
		return "blank_page"
	}

	// 连接错误
	if strings.Contains(lowerHTML, "err_connection") ||
		strings.Contains(lowerHTML, "err_proxy") ||
		strings.Contains(lowerHTML, "err_name_not_resolved") {
		return "connection_error"
	}

	return ""
}

// errClass 驱动错误类型
type errClass int

const (
	errClassUnknown errClass = iota
	errClassTimeout
	errClassBlocked
	errClassNetwork
	errClassDisconnected
)

// classifyError 按错误链与关键词对驱动错误分类
func classifyError(err error) errClass {
	if err == nil {
		return errClassUnknown
	}
	if errors.Is(err, ErrDisconnected) {
		return errClassDisconnected
	}
	if errors.Is(err, ErrBlocked) {
		return errClassBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errClassTimeout
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, disconnectHints) {
		return errClassDisconnected
	}
	for _, kw := range []string{"cloudflare", "access denied", "403", "429", "forbidden", "too many requests"} {
		if strings.Contains(msg, kw) {
			return errClassBlocked
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return errClassTimeout
	}
	for _, kw := range []string{"net::", "connection", "navigate", "eof"} {
		if strings.Contains(msg, kw) {
			return errClassNetwork
		}
	}
	return errClassUnknown
}

// isDisconnect 判断驱动错误是否意味着连接已不可用
func isDisconnect(err error) bool {
	return classifyError(err) == errClassDisconnected
}
