// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package workerpool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by Exec after Close.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrInvalidMessage is returned when a worker reply carries no call id.
	ErrInvalidMessage = errors.New("invalid worker message")
)

// CallError is a failure raised by the called function inside a worker.
type CallError struct {
	Call string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("worker call %s: %v", e.Call, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
