// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package httpbulk

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"
)

// Error holds a bulk-sink server error response: an HTTP status, a
// sink-specific error code/message pulled from the response body, and
// the server's requested Retry-After delay, if any.
//
// Grounded on the teacher's inluxclient.Error/NewError plus
// Client.resolveHTTPError (inluxclient/client.go), adapted to carry
// RetryAfter as a time.Duration rather than a raw uint seconds count.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("httpbulk: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("httpbulk: %s", e.Message)
}

// resolveHTTPError parses a non-2xx HTTP response into an *Error,
// draining and closing the body so the underlying connection can be
// reused.
func resolveHTTPError(r *http.Response) *Error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}()

	e := &Error{StatusCode: r.StatusCode, Code: r.Status}

	if v := r.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseUint(v, 10, 32); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	ctype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ctype == "application/json" {
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if body.Code != "" {
				e.Code = body.Code
			}
			e.Message = body.Message
		}
	} else {
		b, err := io.ReadAll(r.Body)
		if err == nil {
			e.Message = string(b)
		}
	}

	if e.Message == "" {
		switch r.StatusCode {
		case http.StatusTooManyRequests:
			e.Code = "too many requests"
			e.Message = "exceeded rate limit"
		case http.StatusServiceUnavailable:
			e.Code = "unavailable"
			e.Message = "service temporarily unavailable"
		default:
			e.Message = r.Header.Get("X-Influxdb-Error")
		}
	}
	return e
}

// retryable reports whether a response with this status should ever be
// retried: rate limiting and transient server-side failures, but not
// client errors (bad request, unauthorized, not found, payload too
// large, etc) which will never succeed on resend.
func (e *Error) retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return e.StatusCode >= 500
}
