// SPDX-License-Identifier: MIT
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"pcmframe/internal/log"
	"pcmframe/pkg/frame"
)

// pollInterval bounds how long a read blocks before the context is
// checked again.
const pollInterval = 200 * time.Millisecond

// Receiver reads datagrams and turns them into borrowing frames. Each frame
// aliases a pooled packet buffer that returns to the pool when the frame's
// last reference is released.
type Receiver struct {
	conn *net.UDPConn
	pool sync.Pool

	mu      sync.Mutex
	nextSeq uint32
	started bool

	received  atomic.Int64
	lost      atomic.Int64
	malformed atomic.Int64
	closed    atomic.Bool
}

// Listen binds a receiver to listenAddress (":9090", "127.0.0.1:0").
func Listen(listenAddress string) (*Receiver, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddress)
	if err != nil {
		return nil, fmt.Errorf("udp: resolving %q: %w", listenAddress, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: listening on %q: %w", listenAddress, err)
	}
	log.Infof("udp: receiving frames on %s", conn.LocalAddr())

	r := &Receiver{conn: conn}
	r.pool.New = func() any {
		b := make([]byte, MaxPacketSize)
		return &b
	}
	return r, nil
}

// Addr returns the local address.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Next blocks until a valid frame arrives, ctx is done or the receiver is
// closed. Malformed datagrams are logged and skipped. The caller owns the
// returned frame and must Release it.
func (r *Receiver) Next(ctx context.Context) (*frame.Audio, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bufp := r.pool.Get().(*[]byte)
		buf := *bufp

		_ = r.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			r.pool.Put(bufp)
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if r.closed.Load() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("udp: reading: %w", err)
		}

		f, h, err := UnmarshalFrame(buf[:n], frame.WithReleaseHook(func() { r.pool.Put(bufp) }))
		if err != nil {
			r.pool.Put(bufp)
			r.malformed.Add(1)
			log.Warnf("udp: dropping datagram: %v", err)
			continue
		}

		r.track(h.Seq)
		r.received.Add(1)
		return f, nil
	}
}

// track counts the sequence numbers skipped since the previous frame.
func (r *Receiver) track(seq uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started && seq != r.nextSeq {
		// Differences beyond half the range are reordered or restarted
		// streams, not losses.
		if gap := seq - r.nextSeq; gap < 1<<31 {
			r.lost.Add(int64(gap))
			log.Debugf("udp: %d frames lost before %d", gap, seq)
		}
	}
	r.started = true
	r.nextSeq = seq + 1
}

// Received returns the number of frames decoded.
func (r *Receiver) Received() int64 { return r.received.Load() }

// Lost returns the number of frames missing from the sequence.
func (r *Receiver) Lost() int64 { return r.lost.Load() }

// Malformed returns the number of datagrams that failed to decode.
func (r *Receiver) Malformed() int64 { return r.malformed.Load() }

// Close stops the receiver. Frames already returned stay valid until
// released.
func (r *Receiver) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.conn.Close()
}
