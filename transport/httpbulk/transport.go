// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package httpbulk is a concrete strategy.Strategy binding: it POSTs a
// batch's serialized body to a bulk-write HTTP endpoint, compressing
// with gzip when configured. A request-level failure (connection error,
// non-2xx status) classifies through IsRetryableError; a 2xx response
// carrying a bulk-style JSON body (`items[]` per event) classifies
// per-item through Zip/IsRetryable/IsRejection, or whole-batch through
// ShouldRetryAllItems when every item was rate-limited or unavailable.
//
// Grounded on the teacher's internal/write.Service.WriteBatch (gzip,
// POST, LastWriteAttempt bookkeeping) and inluxclient.Client.makeAPICall
// /resolveHTTPError (query param encoding, Authorization/User-Agent
// headers, Retry-After parsing) — both deleted from this tree once their
// behavior was folded in here, per DESIGN.md.
package httpbulk

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/deepmap/oapi-codegen/pkg/runtime"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/batchkit/ingestchannel/strategy"
)

// UserAgent is sent on every request, matching the teacher's convention
// of identifying the client library to the server.
const UserAgent = "ingestchannel-httpbulk"

// Codec renders a batch's events into a wire body. SerializeBatch
// delegates to it; transport/lineprotocol.Serializer is the reference
// implementation.
type Codec interface {
	Encode(events []strategy.Event) (io.Reader, error)
}

// Config configures a Strategy.
type Config struct {
	// ServerURL is the base URL of the bulk-write endpoint, e.g.
	// "http://localhost:8086/api/v2/write".
	ServerURL string
	// Org and Bucket are encoded as query parameters on every request,
	// in the teacher's write-URL style.
	Org    string
	Bucket string
	// Precision is encoded as a query parameter if non-empty.
	Precision string
	// Token authenticates every request via an Authorization header.
	Token string
	// UseGZip compresses the request body before sending.
	UseGZip bool
	// Codec serializes batches; required.
	Codec Codec
	// HTTPClient is used to make requests. If nil, a client configured
	// for HTTP/2 is created.
	HTTPClient *http.Client
}

// Strategy is the httpbulk binding of strategy.Strategy.
type Strategy struct {
	client  *http.Client
	url     string
	token   string
	useGZip bool
	codec   Codec
}

// New builds a Strategy from cfg.
func New(cfg Config) (*Strategy, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("httpbulk: ServerURL is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("httpbulk: Codec is required")
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, errors.Wrap(err, "httpbulk: parsing ServerURL")
	}
	q := u.Query()
	for _, p := range []struct {
		name  string
		value string
	}{
		{"org", cfg.Org},
		{"bucket", cfg.Bucket},
		{"precision", cfg.Precision},
	} {
		if p.value == "" {
			continue
		}
		encoded, err := runtime.StyleParamWithLocation("form", true, p.name, runtime.ParamLocationQuery, p.value)
		if err != nil {
			return nil, errors.Wrapf(err, "httpbulk: encoding %s parameter", p.name)
		}
		// encoded is "name=value"; split it back out rather than
		// re-deriving the value, so StyleParamWithLocation's escaping
		// rules are still the ones applied.
		if kv := splitQueryParam(encoded); kv != nil {
			q.Set(kv[0], kv[1])
		}
	}
	u.RawQuery = q.Encode()

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{}},
		}
	}
	if t, ok := client.Transport.(*http.Transport); ok {
		_ = http2.ConfigureTransport(t)
	}

	return &Strategy{
		client:  client,
		url:     u.String(),
		token:   cfg.Token,
		useGZip: cfg.UseGZip,
		codec:   cfg.Codec,
	}, nil
}

func splitQueryParam(kv string) []string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return []string{kv[:i], kv[i+1:]}
		}
	}
	return nil
}

// SerializeBatch implements strategy.Strategy by delegating to the
// configured Codec, then gzip-compressing the result if UseGZip is set.
func (s *Strategy) SerializeBatch(batch *strategy.Batch) (io.Reader, error) {
	body, err := s.codec.Encode(batch.Events)
	if err != nil {
		return nil, errors.Wrap(err, "httpbulk: encoding batch")
	}
	if !s.useGZip {
		return body, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, body); err != nil {
		return nil, errors.Wrap(err, "httpbulk: gzip compressing batch")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "httpbulk: gzip compressing batch")
	}
	return &buf, nil
}

// Send implements strategy.Transport: it POSTs body to the configured
// endpoint and returns a *Response on any 2xx; on any other status it
// returns a nil Response and an *Error, and on a failure to make the
// request at all, a nil Response and the wrapped client error. A 2xx
// response body is opportunistically
// decoded as a bulk-style JSON response
// (`{"errors":bool,"items":[{"index":{"status":int,"error":...}}]}`); a
// body that isn't that shape (e.g. an empty 204 No Content) just leaves
// Response.Items nil, and later classification falls back to the
// whole-batch paths.
func (s *Strategy) Send(ctx context.Context, body io.Reader, batch *strategy.Batch) (strategy.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return nil, errors.Wrap(err, "httpbulk: building request")
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if s.useGZip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Token "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "httpbulk: posting batch %d", batch.ID)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := resolveHTTPError(resp)
		return nil, httpErr
	}

	out := &Response{StatusCode: resp.StatusCode}
	var decoded bulkResponseBody
	if json.NewDecoder(resp.Body).Decode(&decoded) == nil {
		out.Errors = decoded.Errors
		out.Items = decoded.Items
	}
	return out, nil
}

// bulkItemResult is a single item's outcome within a bulk response,
// InfluxData-style: status carries the per-item HTTP-like status code,
// error the per-item error message, if any.
type bulkItemResult struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// bulkItem wraps bulkItemResult under the "index" action key, matching
// the bulk-style JSON shape SPEC_FULL.md §6.2 documents.
type bulkItem struct {
	Index bulkItemResult `json:"index"`
}

// bulkResponseBody is the on-wire shape of a bulk-write response.
type bulkResponseBody struct {
	Errors bool       `json:"errors"`
	Items  []bulkItem `json:"items"`
}

// Response is the Response value Send returns on success. Items is nil
// when the server's 2xx body carried no bulk-style per-item information
// (or none at all), in which case Zip returns nil and ShouldRetry drives
// whole-batch classification instead.
type Response struct {
	StatusCode int
	Errors     bool
	Items      []bulkItem
}

// ShouldRetry reports whether resp warrants any retry consideration. It
// always returns false: a non-2xx status comes back from Send as an
// *Error and is classified by IsRetryableError, so any Response that
// reaches ShouldRetry is a 2xx without per-item detail, which is not
// retried.
func (s *Strategy) ShouldRetry(resp strategy.Response) bool {
	return false
}

// ShouldRetryAllItems reports whether every item in resp's bulk body was
// rejected with a rate-limited (429) or unavailable (503) status, even
// though the outer HTTP response was itself 2xx — a bulk sink may accept
// the request but fail every contained action because it is overloaded.
// A request-level 429/503 is handled earlier, by Send returning an
// *Error instead of a Response.
func (s *Strategy) ShouldRetryAllItems(resp strategy.Response) bool {
	r, ok := resp.(*Response)
	if !ok || !r.Errors || len(r.Items) == 0 {
		return false
	}
	for _, item := range r.Items {
		if item.Index.Status != http.StatusTooManyRequests && item.Index.Status != http.StatusServiceUnavailable {
			return false
		}
	}
	return true
}

// Zip maps each event in batch to its corresponding item in resp's bulk
// body, in order. It returns nil if resp carries no per-item
// information or the item count doesn't match the batch (the core then
// falls back to ShouldRetry for whole-batch classification).
func (s *Strategy) Zip(resp strategy.Response, batch *strategy.Batch) []strategy.Outcome {
	r, ok := resp.(*Response)
	if !ok || len(r.Items) != len(batch.Events) {
		return nil
	}
	out := make([]strategy.Outcome, len(batch.Events))
	for i, e := range batch.Events {
		out[i] = strategy.Outcome{Event: e, Item: r.Items[i].Index}
	}
	return out
}

// IsRetryable reports whether o's item carries a status of 429 or
// higher: rate-limited or server-side, and so worth resending.
func (s *Strategy) IsRetryable(o strategy.Outcome) bool {
	item, ok := o.Item.(bulkItemResult)
	return ok && item.Status >= http.StatusTooManyRequests
}

// IsRejection reports whether o's item carries a 4xx status other than
// 429 (rate limiting is retryable, not a permanent rejection).
func (s *Strategy) IsRejection(o strategy.Outcome) bool {
	item, ok := o.Item.(bulkItemResult)
	if !ok {
		return false
	}
	return item.Status >= 400 && item.Status < 500 && item.Status != http.StatusTooManyRequests
}

// IsRetryableError classifies a transport-level failure. An *Error with
// a retryable status code (429, 502, 503, 504, or any 5xx) is
// retryable, and an *Error with any other status (a 4xx rejection such
// as a malformed request) is not. An error that is not an *Error is
// treated as retryable.
func (s *Strategy) IsRetryableError(err error) bool {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr.retryable()
	}
	// A non-HTTP error (connection refused, DNS failure, context
	// deadline) is presumed transient.
	return true
}
