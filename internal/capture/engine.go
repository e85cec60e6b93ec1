// SPDX-License-Identifier: MIT

/*
Package capture records audio from a PortAudio input device and produces
owning frames in packed 32-bit signed format.

The PortAudio callback runs on a real-time thread. It copies each buffer
into a frame drawn from the configured allocator and hands it to a bounded
queue without blocking; when the reader falls behind the frame is released
and counted as dropped. A pool allocator recycles plane memory between
buffers.
*/
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"pcmframe/internal/config"
	"pcmframe/internal/log"
	"pcmframe/pkg/frame"
)

// DefaultQueueSize is the number of captured frames buffered for the reader.
const DefaultQueueSize = 16

var ErrStopped = errors.New("capture: engine stopped")

// Engine captures one input stream. Next makes it a pipeline source.
type Engine struct {
	desc    *frame.Description
	opts    []frame.Option
	samples int // Per channel per buffer.

	device  *portaudio.DeviceInfo
	latency time.Duration
	stream  *portaudio.Stream

	mu       sync.Mutex // Guards stream and closed.
	closed   bool
	frames   chan *frame.Audio
	position int64 // Samples captured, callback only.

	captured atomic.Int64
	dropped  atomic.Int64
	gate     gate
}

// NewEngine opens the input device named by cfg. Frames are built with
// cfg's frame options and alloc.
func NewEngine(cfg *config.Config, alloc frame.Allocator) (*Engine, error) {
	device, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}
	desc, err := cfg.CaptureDescription()
	if err != nil {
		return nil, err
	}
	if cfg.Audio.InputChannels > device.MaxInputChannels {
		return nil, fmt.Errorf("capture: %s supports %d input channels, %d requested",
			device.Name, device.MaxInputChannels, cfg.Audio.InputChannels)
	}

	e := newEngine(desc, cfg.Audio.FramesPerBuffer, DefaultQueueSize, cfg.FrameOptions(alloc)...)
	e.device = device
	e.latency = device.DefaultHighInputLatency
	if cfg.Audio.LowLatency {
		e.latency = device.DefaultLowInputLatency
	}
	e.SetGateThreshold(cfg.Audio.GateThreshold)
	return e, nil
}

func newEngine(desc *frame.Description, samples, queue int, opts ...frame.Option) *Engine {
	return &Engine{
		desc:    desc,
		opts:    opts,
		samples: samples,
		frames:  make(chan *frame.Audio, queue),
	}
}

func (e *Engine) Description() *frame.Description { return e.desc }

// Device returns the name of the opened device.
func (e *Engine) Device() string {
	if e.device == nil {
		return ""
	}
	return e.device.Name
}

// Start opens and starts the input stream.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStopped
	}
	if e.stream != nil {
		return nil
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.desc.Channels(),
			Device:   e.device,
			Latency:  e.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: e.samples,
		SampleRate:      float64(e.desc.SampleRate()),
	}

	stream, err := portaudio.OpenStream(params, e.process)
	if err != nil {
		return fmt.Errorf("capture: opening stream on %s: %w", e.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("capture: starting stream: %w", err)
	}
	e.stream = stream

	log.Infof("capture: %s at %s, %d samples per buffer, latency %s",
		e.device.Name, e.desc, e.samples, e.latency)
	return nil
}

// Stop halts the stream. Frames already queued remain readable; Next
// returns io.EOF once they are drained.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	if e.stream != nil {
		// Stop returns once the callback has finished for good.
		err = errors.Join(e.stream.Stop(), e.stream.Close())
		e.stream = nil
	}
	close(e.frames)

	if n := e.dropped.Load(); n > 0 {
		log.Warnf("capture: dropped %d of %d buffers", n, e.captured.Load())
	}
	return err
}

// Close stops the stream and releases every frame still queued.
func (e *Engine) Close() error {
	err := e.Stop()
	for f := range e.frames {
		f.Release()
	}
	return err
}

// Next returns the next captured frame. It returns io.EOF after Stop once
// the queue is empty.
func (e *Engine) Next(ctx context.Context) (*frame.Audio, error) {
	select {
	case f, ok := <-e.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// process is the PortAudio callback. It must not block.
func (e *Engine) process(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	channels := e.desc.Channels()
	n := len(in) / channels
	e.gate.observe(in)

	start := e.position
	e.position += int64(n)
	e.captured.Add(1)

	opts := append(e.opts[:len(e.opts):len(e.opts)],
		frame.WithTiming(e.desc.DurationOf(int(start)), e.desc.DurationOf(n)),
		frame.WithZeroFill(false))
	f, err := frame.NewOwning(e.desc, n, opts...)
	if err != nil {
		e.dropped.Add(1)
		return
	}

	order := e.desc.ByteOrder()
	p := f.Plane(0)
	for i, s := range in[:n*channels] {
		order.PutUint32(p[i*4:], uint32(s))
	}

	select {
	case e.frames <- f:
	default:
		f.Release()
		e.dropped.Add(1)
	}
}

// Captured returns the number of buffers delivered by PortAudio.
func (e *Engine) Captured() int64 { return e.captured.Load() }

// Dropped returns the number of buffers lost to a full queue or a failed
// allocation.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }
