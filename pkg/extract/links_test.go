package extract

import (
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExtractor() *LinkExtractor {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewLinkExtractor(logrus.NewEntry(logger))
}

func base(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://example.com/docs/guide")
	require.NoError(t, err)
	return u
}

func TestExtractResolvesRelativeLinks(t *testing.T) {
	html := `<html><body>
		<a href="intro">Intro</a>
		<a href="/pricing">Pricing</a>
		<a href="../api">API</a>
		<a href="https://other.com/page">Other</a>
	</body></html>`

	data := testExtractor().Extract([]byte(html), base(t))
	assert.Equal(t, []string{
		"https://example.com/docs/intro",
		"https://example.com/pricing",
		"https://example.com/api",
		"https://other.com/page",
	}, data.Links)
}

func TestExtractFiltersNonHTTPSchemes(t *testing.T) {
	html := `<html><body>
		<a href="mailto:team@example.com">Mail</a>
		<a href="javascript:void(0)">JS</a>
		<a href="tel:+15551234">Call</a>
		<a href="ftp://files.example.com/x">FTP</a>
		<a href="">Empty</a>
		<a href="   ">Blank</a>
		<a href="/ok">OK</a>
	</body></html>`

	data := testExtractor().Extract([]byte(html), base(t))
	assert.Equal(t, []string{"https://example.com/ok"}, data.Links)
}

func TestExtractStripsFragmentsAndDedupes(t *testing.T) {
	html := `<html><body>
		<a href="/page#top">Top</a>
		<a href="/page#bottom">Bottom</a>
		<a href="/page">Plain</a>
		<a href="/other">Other</a>
		<a href="/other">Again</a>
	</body></html>`

	data := testExtractor().Extract([]byte(html), base(t))
	assert.Equal(t, []string{"https://example.com/page", "https://example.com/other"}, data.Links)
}

func TestExtractTitleAndChars(t *testing.T) {
	html := `<html><head><title>  Guide — Example  </title></head>
	<body><p>Hello    world</p></body></html>`

	data := testExtractor().Extract([]byte(html), base(t))
	assert.Equal(t, "Guide — Example", data.Title)
	assert.Greater(t, data.ExtractedChars, 0)
}

func TestExtractMalformedHTML(t *testing.T) {
	// html.Parse is lenient; even tag soup yields a document. The contract is
	// simply that garbage never panics and never produces broken links.
	html := `<html><body><a href="/ok"><div><a href=`
	data := testExtractor().Extract([]byte(html), base(t))
	for _, link := range data.Links {
		u, err := url.Parse(link)
		require.NoError(t, err)
		assert.NotEmpty(t, u.Hostname())
	}
}

func TestExtractEmptyBody(t *testing.T) {
	data := testExtractor().Extract(nil, base(t))
	assert.Empty(t, data.Links)
	assert.Empty(t, data.Title)
}

func TestExtractPreservesDocumentOrder(t *testing.T) {
	html := `<html><body>
		<a href="/c">C</a><a href="/a">A</a><a href="/b">B</a>
	</body></html>`
	data := testExtractor().Extract([]byte(html), base(t))
	assert.Equal(t, []string{
		"https://example.com/c",
		"https://example.com/a",
		"https://example.com/b",
	}, data.Links)
}
