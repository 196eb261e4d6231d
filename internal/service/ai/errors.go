package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Kind classifies upstream failures.
type Kind string

const (
	// KindTransient 可重试：超时、连接重置、429/5xx。
	KindTransient Kind = "transient"
	// KindTimeout 是超过截止时间的调用。
	KindTimeout Kind = "timeout"
	// KindRejected 不可重试：凭证无效、请求格式错误、未配置等，需要调整配置。
	KindRejected Kind = "rejected"
	// KindCanceled 表示调用方已放弃。
	KindCanceled Kind = "canceled"
)

// Error wraps a backend failure with its kind.
type Error struct {
	Kind     Kind
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the call may be repeated.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindTimeout
}

var (
	transientStatus = regexp.MustCompile(`\b(429|500|502|503|504)\b`)
	transientHints  = []string{
		"timeout", "timed out", "connection reset", "econnreset", "etimedout",
		"connection refused", "too many requests", "unavailable", "resource_exhausted",
		"rate limit", "broken pipe", "unexpected eof",
	}
)

// Classify wraps err as *Error. An existing *Error is returned unchanged.
func Classify(provider, model string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	e := &Error{Kind: KindRejected, Provider: provider, Model: model, Err: err}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		e.Kind = KindCanceled
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrUnknownProvider), errors.Is(err, ErrUnknownModel):
		e.Kind = KindRejected
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			e.Kind = KindTimeout
			break
		}
		msg := strings.ToLower(err.Error())
		if transientStatus.MatchString(msg) {
			e.Kind = KindTransient
			break
		}
		for _, hint := range transientHints {
			if strings.Contains(msg, hint) {
				e.Kind = KindTransient
				break
			}
		}
	}
	return e
}
