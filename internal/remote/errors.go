// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by endpoints when the remote resource is gone
// (deleted or made private).
var ErrNotFound = errors.New("remote resource not found")

// FetchError is a non-successful remote response. It carries the status,
// the final URL and up to maxErrorBodySize bytes of the body.
type FetchError struct {
	Status int
	URL    string
	Body   []byte
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("FetchError: %s [%d]", e.URL, e.Status)
}

// ThrottledFetchError is returned for HTTP 429. It is never retried by the
// client; callers back off and consult the rate limiter.
type ThrottledFetchError struct {
	FetchError
}

func (e *ThrottledFetchError) Error() string {
	return fmt.Sprintf("ThrottledFetchError: %s [%d]", e.URL, e.Status)
}

// As lets errors.As match a throttled error as a *FetchError too.
func (e *ThrottledFetchError) As(target any) bool {
	if fe, ok := target.(**FetchError); ok {
		*fe = &e.FetchError
		return true
	}
	return false
}

// IsThrottled reports whether err is a 429 response.
func IsThrottled(err error) bool {
	var te *ThrottledFetchError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is a 404 response or ErrNotFound.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == http.StatusNotFound
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

func newFetchError(resp *Response) error {
	fe := FetchError{Status: resp.Status, URL: resp.URL, Body: resp.Body}
	if resp.Status == http.StatusTooManyRequests {
		return &ThrottledFetchError{FetchError: fe}
	}
	return &fe
}
