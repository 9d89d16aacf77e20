package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed     = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError  = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status

	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrOutOfScope       = errors.New("URL outside crawl boundary")
	ErrExcludedPattern  = errors.New("URL matches exclude pattern")
	ErrMaxDepthExceeded = errors.New("maximum crawl depth exceeded")

	ErrFetchTimeout = errors.New("fetch timed out") // Per-fetch deadline expired; the page failed, the run did not

	ErrParsing          = errors.New("parsing error") // Wraps specific parsing error (HTML, URL, XML)
	ErrStorage          = errors.New("storage error") // Wraps checkpoint/registry/content write errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// WrapErrorf wraps a sentinel error with a formatted message, keeping the
// sentinel matchable via errors.Is.
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CategorizeError maps an error to a stable category string used in
// PageEntry.ErrorMessage and failure logs, so a retry is auditable.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return "RetryFailed_NetworkTimeout"
		}
		if strings.Contains(msg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		if strings.Contains(msg, "no such host") {
			return "RetryFailed_DNSLookup"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "RetryFailed_NetworkTimeout"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrClientHTTPError):
		msg := err.Error()
		if strings.Contains(msg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(msg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(msg, " 401 ") {
			return "HTTP_401"
		}
		if strings.Contains(msg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrFetchTimeout):
		return "Network_FetchTimeout"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrOutOfScope):
		return "Policy_Scope"
	case errors.Is(err, ErrExcludedPattern):
		return "Policy_ExcludedPattern"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrParsing):
		msg := err.Error()
		if strings.Contains(msg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(msg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(msg, "XML") {
			return "Content_ParsingXML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrStorage):
		if errors.Is(err, os.ErrPermission) {
			return "Storage_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Storage_NotExist"
		}
		return "Storage_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// Fallbacks for errors that never passed through our sentinels.
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(msg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(msg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return "Network_TLS"
	case strings.Contains(msg, "reset by peer"):
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
