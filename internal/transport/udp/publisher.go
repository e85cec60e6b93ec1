// SPDX-License-Identifier: MIT
package udp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pcmframe/internal/log"
	"pcmframe/pkg/frame"
)

// PacketSender is satisfied by *Sender.
type PacketSender interface {
	Send(data []byte) error
}

// failureLogInterval limits how often send failures are logged.
const failureLogInterval = 5 * time.Second

// Publisher sends every frame it consumes as one datagram with a
// monotonically increasing sequence number. A failed send still uses up
// its sequence number, so receivers see it as loss.
type Publisher struct {
	sender PacketSender

	mu         sync.Mutex
	seq        uint32
	packet     []byte
	lastLogged time.Time
	unlogged   int64

	sent    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

func NewPublisher(sender PacketSender) *Publisher {
	return &Publisher{
		sender: sender,
		packet: make([]byte, 0, MaxPacketSize),
	}
}

// Publish encodes and sends f. Frames too large for one datagram are
// skipped and send failures are counted and logged; neither stops the
// publisher. Only encoding errors are returned.
func (p *Publisher) Publish(f *frame.Audio) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pkt, err := MarshalFrame(p.packet[:0], p.seq, f)
	if errors.Is(err, ErrPacketTooLarge) {
		if p.skipped.Add(1) == 1 {
			log.Warnf("udp: skipping frames that do not fit a datagram: %v", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	p.packet = pkt

	seq := p.seq
	p.seq++
	if err := p.sender.Send(pkt); err != nil {
		p.failed.Add(1)
		p.logFailure(seq, err)
		return nil
	}
	log.Debugf("udp: sent frame %d (%d bytes)", seq, len(pkt))
	p.sent.Add(1)
	return nil
}

// logFailure reports at most one send failure per failureLogInterval,
// with the number of failures suppressed since the last report.
// p.mu must be held.
func (p *Publisher) logFailure(seq uint32, err error) {
	now := time.Now()
	if now.Sub(p.lastLogged) < failureLogInterval {
		p.unlogged++
		return
	}
	if p.unlogged > 0 {
		log.Warnf("udp: frame %d not sent (%d more failures since last report): %v", seq, p.unlogged, err)
	} else {
		log.Warnf("udp: frame %d not sent: %v", seq, err)
	}
	p.lastLogged = now
	p.unlogged = 0
}

// Consume publishes f and releases it.
func (p *Publisher) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	return p.Publish(f)
}

// Sent returns the number of datagrams sent.
func (p *Publisher) Sent() int64 { return p.sent.Load() }

// Skipped returns the number of oversized frames not sent.
func (p *Publisher) Skipped() int64 { return p.skipped.Load() }

// Failed returns the number of datagrams the sender could not send.
func (p *Publisher) Failed() int64 { return p.failed.Load() }
