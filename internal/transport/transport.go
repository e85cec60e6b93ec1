// SPDX-License-Identifier: MIT

// Package transport delivers analysis results to observers outside the
// process. Results are plain values that marshal to JSON.
package transport

import "errors"

// Transport sends analysis results or events. Implementations are safe for
// concurrent use and must not block the caller for long.
type Transport interface {
	Send(data any) error
	Close() error
}

// Multi fans every Send out to several transports. Errors from individual
// transports are joined.
type Multi []Transport

func (m Multi) Send(data any) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
