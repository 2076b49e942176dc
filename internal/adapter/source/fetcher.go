// Package source downloads the published case workbook over HTTP.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultMaxBodyBytes caps the workbook download. The real file is well under 1 MiB.
const DefaultMaxBodyBytes int64 = 32 << 20

// FetchReason classifies a failed download.
type FetchReason string

const (
	ReasonNetwork    FetchReason = "network"
	ReasonHTTPStatus FetchReason = "http-status"
	ReasonTimeout    FetchReason = "timeout"
)

// FetchError reports why the workbook could not be retrieved.
type FetchError struct {
	Reason     FetchReason
	URL        string
	StatusCode int // set for ReasonHTTPStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Reason == ReasonHTTPStatus {
		return fmt.Sprintf("fetch %s: %s %d", e.URL, e.Reason, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves the raw workbook bytes with a single GET.
// It implements pipeline.Fetcher.
type Fetcher struct {
	url          string
	httpClient   *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewFetcher creates a Fetcher for url. The timeout bounds the whole request
// including the body download.
func NewFetcher(url string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger,
	}
}

// Fetch downloads the workbook. There are no retries; the next scheduled
// cycle is the retry.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "corona-report-bot")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, f.classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{Reason: ReasonHTTPStatus, URL: f.url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, f.classify(err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &FetchError{Reason: ReasonNetwork, URL: f.url, Err: fmt.Errorf("body exceeds %d bytes", f.maxBodyBytes)}
	}

	f.logger.Debug("workbook downloaded", "bytes", len(body), "duration", time.Since(start))
	return body, nil
}

func (f *Fetcher) classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Reason: ReasonTimeout, URL: f.url, Err: err}
	}
	return &FetchError{Reason: ReasonNetwork, URL: f.url, Err: err}
}
