// SPDX-License-Identifier: MIT
package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"

	"pcmframe/internal/config"
	"pcmframe/pkg/frame"
)

func newTestEngine(t *testing.T, queue int) (*Engine, *frame.PoolAllocator) {
	t.Helper()
	alloc := frame.NewPoolAllocator(0)
	desc := frame.MustDescription(frame.S32, 48000, 2)
	e := newEngine(desc, 4, queue, frame.WithAllocator(alloc))
	t.Cleanup(func() { e.Close() })
	return e, alloc
}

func TestProcessBuildsFrames(t *testing.T) {
	e, alloc := newTestEngine(t, 4)

	e.process([]int32{1, -1, math.MaxInt32, math.MinInt32, 0, 0, 7, -7})
	e.process([]int32{2, -2, 0, 0, 0, 0, 0, 0})

	f, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.NumberOfSamples() != 4 || f.Mode() != frame.Owning {
		t.Errorf("frame = %s", f)
	}
	if got := f.Float32(1, 1); got != -1 {
		t.Errorf("MinInt32 decoded to %v, want -1", got)
	}
	if f.Timestamp() != 0 {
		t.Errorf("first timestamp = %s", f.Timestamp())
	}
	f.Release()

	f, err = e.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := e.desc.DurationOf(4); f.Timestamp() != want || f.Duration() != want {
		t.Errorf("second frame timing = %s+%s, want %s+%s", f.Timestamp(), f.Duration(), want, want)
	}
	f.Release()

	if e.Captured() != 2 || e.Dropped() != 0 {
		t.Errorf("captured %d dropped %d", e.Captured(), e.Dropped())
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes live after releasing every frame", alloc.Live())
	}
}

func TestProcessDropsWhenQueueFull(t *testing.T) {
	e, alloc := newTestEngine(t, 1)
	buf := make([]int32, 8)

	for range 5 {
		e.process(buf)
	}
	if e.Dropped() != 4 {
		t.Errorf("Dropped() = %d, want 4", e.Dropped())
	}
	if e.Captured() != 5 {
		t.Errorf("Captured() = %d, want 5", e.Captured())
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	f, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("queued frame lost after Stop: %v", err)
	}
	f.Release()
	if _, err := e.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next after drain = %v, want io.EOF", err)
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes live", alloc.Live())
	}
	if err := e.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v", err)
	}
}

func TestCloseReleasesQueued(t *testing.T) {
	alloc := frame.NewHeapAllocator(0)
	e := newEngine(frame.MustDescription(frame.S32, 8000, 1), 16, 8, frame.WithAllocator(alloc))
	for range 3 {
		e.process(make([]int32, 16))
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes live after Close", alloc.Live())
	}
}

func TestNextHonoursContext(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := e.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want deadline exceeded", err)
	}
}

func TestGate(t *testing.T) {
	e, _ := newTestEngine(t, 8)

	e.SetGateThreshold(2)
	if e.GateThreshold() != 1 {
		t.Errorf("threshold = %v, want clamped to 1", e.GateThreshold())
	}
	e.SetGateThreshold(0.5)

	e.process([]int32{0, 100, -math.MaxInt32 / 4, 0, 0, 0, 0, 0})
	if e.GateOpen() {
		t.Error("gate open below threshold")
	}
	if p := e.Peak(); math.Abs(p-0.25) > 1e-6 {
		t.Errorf("Peak() = %v, want 0.25", p)
	}

	e.process([]int32{math.MinInt32, 0, 0, 0, 0, 0, 0, 0})
	if !e.GateOpen() || e.Peak() != 1 {
		t.Errorf("gate open = %v, peak = %v after a full-scale sample", e.GateOpen(), e.Peak())
	}

	e.SetGateThreshold(0)
	e.process(make([]int32, 8))
	if !e.GateOpen() {
		t.Error("a zero threshold keeps the gate open")
	}
}

func TestGateObserveZeroAllocs(t *testing.T) {
	buf := make([]int32, 1024)
	for i := range buf {
		buf[i] = int32((i%100)*10000000) * int32(1-2*(i%2))
	}
	var g gate
	allocs := testing.AllocsPerRun(100, func() {
		g.observe(buf)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in gate hot path, got %.1f", allocs)
	}
	if g.peak.Load() != 990000000 {
		t.Errorf("peak = %d", g.peak.Load())
	}
}

func stubDevices(t *testing.T, devices []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) {
	t.Helper()
	origDevices, origDefault := paDevicesFunc, paDefaultInputFunc
	t.Cleanup(func() { paDevicesFunc, paDefaultInputFunc = origDevices, origDefault })
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return devices, nil }
	paDefaultInputFunc = func() (*portaudio.DeviceInfo, error) {
		if def == nil {
			return nil, errors.New("no default input")
		}
		return def, nil
	}
}

func TestHostDevices(t *testing.T) {
	mic := &portaudio.DeviceInfo{Name: "Mic", MaxInputChannels: 2, DefaultSampleRate: 48000,
		DefaultLowInputLatency: 5 * time.Millisecond, HostApi: &portaudio.HostApiInfo{Name: "ALSA"}}
	speakers := &portaudio.DeviceInfo{Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 44100}
	stubDevices(t, []*portaudio.DeviceInfo{speakers, mic}, mic)

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices: %v", err)
	}
	if len(devices) != 2 || devices[1].ID != 1 || !devices[1].IsDefaultInput || devices[1].HostAPI != "ALSA" {
		t.Errorf("devices = %+v", devices)
	}
	if devices[0].Kind() != "Output" || devices[1].Kind() != "Input" {
		t.Errorf("kinds = %s, %s", devices[0].Kind(), devices[1].Kind())
	}

	inputs, err := InputDevices()
	if err != nil || len(inputs) != 1 || inputs[0].Name != "Mic" {
		t.Errorf("InputDevices = %+v, %v", inputs, err)
	}

	if d, err := InputDevice(config.MinDeviceID); err != nil || d != mic {
		t.Errorf("default InputDevice = %v, %v", d, err)
	}
	if _, err := InputDevice(0); err == nil {
		t.Error("expected error for an output-only device")
	}
	if _, err := InputDevice(5); err == nil {
		t.Error("expected error for an unknown device")
	}

	var buf bytes.Buffer
	if err := ListDevices(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[1] Mic (Input) *") {
		t.Errorf("listing missing default marker:\n%s", buf.String())
	}
}

func TestHostDevicesError(t *testing.T) {
	orig := paDevicesFunc
	defer func() { paDevicesFunc = orig }()
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, errors.New("mock error")
	}
	if _, err := HostDevices(); err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestSystemDevices(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Skipf("PortAudio unavailable: %v", err)
	}
	t.Cleanup(func() { Terminate() })

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices error: %v", err)
	}
	if len(devices) == 0 {
		t.Skip("No audio devices found on system")
	}
	for i, d := range devices {
		if d.ID != i || d.Name == "" {
			t.Errorf("device %d = %+v", i, d)
		}
	}
}

func BenchmarkProcess(b *testing.B) {
	desc := frame.MustDescription(frame.S32, 48000, 2)
	e := newEngine(desc, 1024, 1, frame.WithAllocator(frame.NewPoolAllocator(0)))
	defer e.Close()
	buf := make([]int32, 2048)

	b.ReportAllocs()
	for b.Loop() {
		e.process(buf)
		if f, err := e.Next(context.Background()); err == nil {
			f.Release()
		}
	}
}
