package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErrorfKeepsSentinelMatchable(t *testing.T) {
	err := WrapErrorf(ErrStorage, "writing %s", "state.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Contains(t, err.Error(), "state.json")
}

func TestCategorizeError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "None"},
		{"404", WrapErrorf(ErrClientHTTPError, "status 404 Not Found fetching x"), "HTTP_404"},
		{"403", WrapErrorf(ErrClientHTTPError, "status 403 Forbidden fetching x"), "HTTP_403"},
		{"429", WrapErrorf(ErrClientHTTPError, "status 429 Too Many Requests fetching x"), "HTTP_429"},
		{"generic 4xx", WrapErrorf(ErrClientHTTPError, "status 410 Gone fetching x"), "HTTP_4xx"},
		{"5xx", WrapErrorf(ErrServerHTTPError, "status 503"), "HTTP_5xx"},
		{"other status", WrapErrorf(ErrOtherHTTPError, "status 301"), "HTTP_OtherStatus"},
		{"fetch timeout", WrapErrorf(ErrFetchTimeout, "no response within 30s"), "Network_FetchTimeout"},
		{"robots", ErrRobotsDisallowed, "Policy_Robots"},
		{"scope", ErrOutOfScope, "Policy_Scope"},
		{"excluded", ErrExcludedPattern, "Policy_ExcludedPattern"},
		{"depth", ErrMaxDepthExceeded, "Policy_MaxDepth"},
		{"storage", WrapErrorf(ErrStorage, "disk full"), "Storage_Other"},
		{"body read", WrapErrorf(ErrResponseBodyRead, "unexpected EOF"), "Network_BodyRead"},
		{"config", WrapErrorf(ErrConfigValidation, "bad scope"), "Config_Validation"},
		{"context canceled", context.Canceled, "System_ContextCanceled"},
		{"context deadline", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		{"plain unknown", errors.New("something odd"), "Unknown"},
		{"connection refused", errors.New("dial tcp: connection refused"), "Network_ConnectionRefused"},
		{"dns", errors.New("lookup x: no such host"), "Network_DNSLookup"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CategorizeError(tc.err))
		})
	}
}

func TestCategorizeErrorRetryFailed(t *testing.T) {
	server := fmt.Errorf("%w: %w", ErrRetryFailed, WrapErrorf(ErrServerHTTPError, "status 502"))
	assert.Equal(t, "RetryFailed_HTTPServer", CategorizeError(server))

	client := fmt.Errorf("%w: %w", ErrRetryFailed, WrapErrorf(ErrClientHTTPError, "status 429"))
	assert.Equal(t, "RetryFailed_HTTPClient", CategorizeError(client))

	network := fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: connection refused"))
	assert.Equal(t, "RetryFailed_ConnectionRefused", CategorizeError(network))

	timeout := fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("context deadline exceeded"))
	assert.Equal(t, "RetryFailed_NetworkTimeout", CategorizeError(timeout))
}

func TestURLDigestStable(t *testing.T) {
	a := URLDigest("https://example.com/docs")
	b := URLDigest("https://example.com/docs")
	c := URLDigest("https://example.com/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestContentDigestDiffersFromURLDigestInput(t *testing.T) {
	body := []byte("<html><body>hello</body></html>")
	assert.Len(t, ContentDigest(body), 64)
	assert.Equal(t, ContentDigest(body), ContentDigest([]byte("<html><body>hello</body></html>")))
	assert.NotEqual(t, ContentDigest(body), ContentDigest([]byte("x")))
}

func TestCompileRegexPatterns(t *testing.T) {
	compiled, err := CompileRegexPatterns([]string{`/private/`, "", `\.pdf$`})
	require.NoError(t, err)
	assert.Len(t, compiled, 2) // Empty pattern skipped

	_, err = CompileRegexPatterns([]string{`([`})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigValidation))
}
