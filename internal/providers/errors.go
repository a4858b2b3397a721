package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// Failover reports whether another provider may succeed where this one
// failed.
func (t ErrorType) Failover() bool {
	return t == ErrorQuota || t == ErrorRate || t == ErrorTransient
}

// StatusError is an HTTP error reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, e.Body)
}

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return ErrorTransient
	}
	return classifyText(strings.ToLower(err.Error()))
}

func classifyStatus(se *StatusError) ErrorType {
	body := strings.ToLower(se.Body)
	switch {
	case se.StatusCode == 402:
		return ErrorQuota
	case se.StatusCode == 429:
		if strings.Contains(body, "quota") {
			return ErrorQuota
		}
		return ErrorRate
	case se.StatusCode == 408 || se.StatusCode >= 500:
		return ErrorTransient
	case strings.Contains(body, "context_length") || strings.Contains(body, "maximum context") || strings.Contains(body, "too long"):
		return ErrorContext
	default:
		return ErrorPermanent
	}
}

func classifyText(e string) ErrorType {
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"), strings.Contains(e, "connection refused"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}
