// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"sync/atomic"

	"pcmframe/internal/log"
)

// LoggingTransport writes every result to the debug log as JSON.
type LoggingTransport struct {
	sent atomic.Int64
}

func NewLoggingTransport() *LoggingTransport {
	log.Debugf("transport: using LoggingTransport")
	return &LoggingTransport{}
}

func (lt *LoggingTransport) Send(data any) error {
	lt.sent.Add(1)
	if !log.Enabled(log.LevelDebug) {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		log.Debugf("transport: %T %+v (json: %v)", data, data, err)
		return nil
	}
	log.Debugf("transport: %s", b)
	return nil
}

// Sent returns the number of results passed to Send.
func (lt *LoggingTransport) Sent() int64 {
	return lt.sent.Load()
}

func (lt *LoggingTransport) Close() error {
	log.Debugf("transport: LoggingTransport closed after %d results", lt.sent.Load())
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
