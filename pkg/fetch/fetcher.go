package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"sitecrawl/pkg/config"
	"sitecrawl/pkg/utils"
)

// Result holds the interesting parts of a completed HTTP exchange. On HTTP
// error statuses a partial Result (status code, final URL, no body) is
// returned alongside the error so the caller can still record the status.
type Result struct {
	FinalURL    *url.URL // URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher retrieves single pages over the shared HTTP client, retrying
// transient failures (network errors, 5xx, 429) with exponential backoff.
// Client errors (other 4xx) are terminal on the first response.
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig
	log    *logrus.Entry
}

// NewFetcher creates a Fetcher
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{client: client, cfg: cfg, log: log}
}

// Fetch performs a GET for rawURL with retries, honoring ctx and the
// per-fetch timeout. The returned error wraps one of the fetch sentinels;
// callers classify it with utils.CategorizeError. An expired FetchTimeout
// surfaces as ErrFetchTimeout; only the caller's own context ending comes
// back as a bare context error.
func (f *Fetcher) Fetch(parent context.Context, rawURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, f.cfg.FetchTimeout)
	defer cancel()

	flog := f.log.WithField("url", rawURL)

	var lastErr error
	var lastResult *Result

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoffDelay(attempt)
			flog.WithFields(logrus.Fields{
				"attempt": attempt, "max_retries": f.cfg.MaxRetries, "delay": delay,
			}).Debugf("Retrying after error: %v", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, f.ctxErr(parent, rawURL)
			}
		}

		result, retryable, err := f.doOnce(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, f.ctxErr(parent, rawURL)
		}
		if !retryable {
			return result, err
		}
		lastErr = err
		lastResult = result
	}

	flog.Warnf("Giving up after %d attempts: %v", f.cfg.MaxRetries+1, lastErr)
	return lastResult, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// doOnce performs one request/response cycle. retryable reports whether the
// returned error is worth another attempt.
func (f *Fetcher) doOnce(ctx context.Context, rawURL string) (result *Result, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, utils.WrapErrorf(utils.ErrRequestCreation, "%s: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err // Network-level errors are retryable
	}
	defer resp.Body.Close()

	result = &Result{
		FinalURL:    resp.Request.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Read at most MaxPageSizeBytes; a longer body is an error, not a
		// silent truncation.
		limited := io.LimitReader(resp.Body, f.cfg.MaxPageSizeBytes+1)
		body, readErr := io.ReadAll(limited)
		if readErr != nil {
			return result, true, utils.WrapErrorf(utils.ErrResponseBodyRead, "%s: %v", rawURL, readErr)
		}
		if int64(len(body)) > f.cfg.MaxPageSizeBytes {
			return result, false, utils.WrapErrorf(utils.ErrResponseBodyRead,
				"%s: body exceeds %d bytes", rawURL, f.cfg.MaxPageSizeBytes)
		}
		result.Body = body
		return result, false, nil

	case resp.StatusCode >= 500:
		drain(resp.Body)
		return result, true, utils.WrapErrorf(utils.ErrServerHTTPError,
			"status %d %s fetching %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL)

	case resp.StatusCode == http.StatusTooManyRequests:
		drain(resp.Body)
		return result, true, utils.WrapErrorf(utils.ErrClientHTTPError,
			"status %d %s fetching %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL)

	case resp.StatusCode >= 400:
		drain(resp.Body)
		return result, false, utils.WrapErrorf(utils.ErrClientHTTPError,
			"status %d %s fetching %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL)

	default:
		drain(resp.Body)
		return result, false, utils.WrapErrorf(utils.ErrOtherHTTPError,
			"status %d %s fetching %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL)
	}
}

// ctxErr translates a context failure. The per-fetch deadline expiring is a
// failure of this page, so it maps to the fetch taxonomy; the parent context
// ending means the whole run is stopping and passes through untouched.
func (f *Fetcher) ctxErr(parent context.Context, rawURL string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return utils.WrapErrorf(utils.ErrFetchTimeout, "%s: no response within %s", rawURL, f.cfg.FetchTimeout)
}

// backoffDelay computes the exponential delay before retry attempt n,
// capped at MaxRetryDelay, with +/- 10% jitter.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	delay := f.cfg.InitialRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= f.cfg.MaxRetryDelay {
			delay = f.cfg.MaxRetryDelay
			break
		}
	}
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		delay += time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// drain discards the remainder of a body so the connection can be reused
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}
