package parse

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases scheme and host", "HTTP://EXAMPLE.COM/Docs", "http://example.com/Docs"},
		{"strips default http port", "http://example.com:80/docs", "http://example.com/docs"},
		{"strips default https port", "https://example.com:443/docs", "https://example.com/docs"},
		{"keeps non-default port", "http://example.com:8080/docs", "http://example.com:8080/docs"},
		{"empty path becomes root", "https://example.com", "https://example.com/"},
		{"trims trailing slash", "https://example.com/docs/", "https://example.com/docs"},
		{"root slash kept", "https://example.com/", "https://example.com/"},
		{"strips fragment", "https://example.com/docs#install", "https://example.com/docs"},
		{"keeps query string", "https://example.com/search?q=go&page=2", "https://example.com/search?q=go&page=2"},
		{"path case preserved", "https://example.com/Docs/API", "https://example.com/Docs/API"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, NormalizeURL(u))
		})
	}
}

func TestNormalizeURLNil(t *testing.T) {
	assert.Equal(t, "", NormalizeURL(nil))
}

func TestNormalizeURLDoesNotMutateInput(t *testing.T) {
	u, err := url.Parse("https://Example.COM/docs/#frag")
	require.NoError(t, err)
	_ = NormalizeURL(u)
	assert.Equal(t, "Example.COM", u.Host)
	assert.Equal(t, "/docs/", u.Path)
	assert.Equal(t, "frag", u.Fragment)
}

func TestParseAndNormalize(t *testing.T) {
	normalized, parsed, err := ParseAndNormalize("HTTPS://Example.com/docs/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/docs", normalized)
	assert.Equal(t, "Example.com", parsed.Host)
}

func TestParseAndNormalizeRejectsRelative(t *testing.T) {
	_, _, err := ParseAndNormalize("/docs/page")
	assert.Error(t, err)
}

func TestNormalizeURLEquivalentForms(t *testing.T) {
	// All of these should collapse to the same normalized string.
	forms := []string{
		"https://example.com/docs",
		"https://EXAMPLE.com/docs",
		"https://example.com:443/docs",
		"https://example.com/docs/",
		"https://example.com/docs#section",
	}
	first, _, err := ParseAndNormalize(forms[0])
	require.NoError(t, err)
	for _, form := range forms[1:] {
		got, _, err := ParseAndNormalize(form)
		require.NoError(t, err)
		assert.Equal(t, first, got, "form %s", form)
	}
}
