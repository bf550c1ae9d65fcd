// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/whisper/internal/logging"
)

// transport performs the single HTTP exchange behind every adapter.
type transport struct {
	family  Family
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
}

func newTransport(f Family, opts Options) *transport {
	opts = opts.withDefaults()
	t := &transport{
		family: f,
		opts:   opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
	if opts.RequestsPerMinute > 0 {
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return t
}

// post sends payload as JSON to endpoint once. A non-nil *Error means no
// usable response was received; HTTP error statuses are returned with the
// body so the caller can extract the provider's message.
func (t *transport) post(ctx context.Context, endpoint string, header http.Header, payload interface{}, key string) ([]byte, int, *Error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, configError(err, "failed to encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, 0, t.classify(ctx, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, configError(err, "invalid endpoint for %s", t.family)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.opts.UserAgent)

	t.logRequest(req, key)
	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		logging.Warn("%s: request failed after %v", t.family, time.Since(start).Round(time.Millisecond))
		return nil, 0, t.classify(ctx, err)
	}
	defer resp.Body.Close()
	t.logResponse(resp, time.Since(start))

	data, rerr := readResponse(resp, t.opts.MaxResponseBytes)
	if rerr != nil {
		return nil, resp.StatusCode, rerr
	}
	return data, resp.StatusCode, nil
}

// classify maps a transport error to a network failure without exposing
// the request URL, which may carry credentials for some providers.
func (t *transport) classify(ctx context.Context, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return networkError(ErrTimeout, fmt.Sprintf("request timed out after %v", t.opts.Timeout))
	case errors.As(err, &netErr) && netErr.Timeout():
		return networkError(ErrTimeout, fmt.Sprintf("request timed out after %v", t.opts.Timeout))
	case errors.Is(err, context.Canceled):
		return networkError(err, "request canceled")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return networkError(err, "network error: "+err.Error())
}

// readResponse reads the body up to limit bytes.
func readResponse(resp *http.Response, limit int64) ([]byte, *Error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, networkError(err, "failed to read response: "+err.Error())
	}
	if int64(len(body)) > limit {
		return nil, networkError(ErrResponseTooLarge, fmt.Sprintf("response exceeded maximum size of %d bytes", limit))
	}
	return body, nil
}

// statusError builds a provider failure. message is the provider's text
// when it sent one and is kept verbatim.
func statusError(status int, code, message string) *Error {
	var cause error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		cause = ErrAuthFailed
	case status == http.StatusPaymentRequired:
		cause = ErrInsufficientCredits
	case status == http.StatusNotFound:
		cause = ErrModelNotFound
	case status == http.StatusTooManyRequests:
		cause = ErrRateLimited
	}
	if message == "" {
		message = fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	}
	return &Error{Kind: KindProvider, Message: message, Code: code, Status: status, Cause: cause}
}

// =============================================================================
// SECURE LOGGING
// =============================================================================

// logRequest logs method, host and path. Headers, query and body are never
// logged since they can carry credentials or user code.
func (t *transport) logRequest(req *http.Request, key string) {
	logging.Debug("%s: API Request: %s %s%s key=%s", t.family, req.Method, req.URL.Host, req.URL.Path, keyFingerprint(key))
}

func (t *transport) logResponse(resp *http.Response, d time.Duration) {
	logging.Debug("%s: API Response: %s (%v)", t.family, resp.Status, d.Round(time.Millisecond))
}

// keyFingerprint returns the first 8 hex chars of the key's SHA-256.
func keyFingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// KeyFingerprint is the exported form of the log fingerprint.
func KeyFingerprint(key string) string {
	return keyFingerprint(key)
}
