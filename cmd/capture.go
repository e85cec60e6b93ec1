// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pcmframe/internal/analysis"
	"pcmframe/internal/capture"
	"pcmframe/internal/config"
	"pcmframe/internal/log"
	"pcmframe/internal/metrics"
	"pcmframe/internal/pipeline"
	"pcmframe/internal/sink"
	"pcmframe/internal/transport"
	"pcmframe/internal/transport/udp"
	"pcmframe/pkg/frame"
)

// deviceFlags override the audio section of the configuration.
type deviceFlags struct {
	device          int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
}

func (d *deviceFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&d.device, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use the 'devices' command to see available devices.")
	fs.IntVarP(&d.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (1=mono, 2=stereo)")
	fs.Float64VarP(&d.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	fs.IntVarP(&d.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of samples per buffer (affects latency)")
	fs.BoolVarP(&d.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
}

// apply copies the flags the user set onto cfg and revalidates it.
func (d *deviceFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("device") {
		cfg.Audio.InputDevice = d.device
	}
	if fs.Changed("channels") {
		cfg.Audio.InputChannels = d.channels
	}
	if fs.Changed("sample-rate") {
		cfg.Audio.SampleRate = d.sampleRate
	}
	if fs.Changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = d.framesPerBuffer
	}
	if fs.Changed("low-latency") {
		cfg.Audio.LowLatency = d.lowLatency
	}
	return cfg.Validate()
}

// withEngine initialises PortAudio, opens the configured input and runs fn
// with it. The engine is closed and PortAudio terminated afterwards.
func withEngine(cfg *config.Config, alloc frame.Allocator, fn func(*capture.Engine) error) error {
	if err := capture.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := capture.Terminate(); err != nil {
			log.Errorf("%v", err)
		}
	}()

	engine, err := capture.NewEngine(cfg, alloc)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}

// runCapture starts engine, feeds p until ctx is done, then stops the
// engine and lets p drain the frames already captured.
func runCapture(ctx context.Context, engine *capture.Engine, p *pipeline.Pipeline) error {
	if err := engine.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if err := engine.Stop(); err != nil {
					log.Errorf("%v", err)
				}
				return
			case <-done:
				return
			case <-ticker.C:
				log.Debugf("capture: peak %.3f, gate open %v, %d buffers, %d dropped",
					engine.Peak(), engine.GateOpen(), engine.Captured(), engine.Dropped())
			}
		}
	}()

	// The pipeline ends at io.EOF once the stopped engine is drained.
	err := p.Run(context.Background())
	stats := p.Stats()
	log.Infof("capture: %d frames processed, %d dropped in the pipeline, %d dropped by the device callback",
		stats.Frames, stats.Dropped(), engine.Dropped())
	return err
}

func newRecordCmd(opts *options) *cobra.Command {
	var (
		dev      deviceFlags
		output   string
		bitDepth int
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the input device to a WAV file until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if err := dev.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("bit-depth") {
				cfg.Recording.BitDepth = bitDepth
			}
			if output == "" {
				output = recordingPath(cfg.Recording.OutputDir, time.Now())
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			return withEngine(cfg, cfg.Allocator(), func(engine *capture.Engine) error {
				rec, err := sink.NewWAVRecorder(output, engine.Description(), cfg.Recording.BitDepth)
				if err != nil {
					return err
				}
				defer rec.Close()

				fmt.Fprintf(cmd.OutOrStdout(), "Recording %s to %s, press Ctrl+C to stop.\n", engine.Device(), output)
				p := pipeline.New(engine, pipeline.WithDropWhenFull(true)).Add("recorder", rec)
				if err := runCapture(ctx, engine, p); err != nil {
					return err
				}
				if err := rec.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nRecording saved to: %s (%s)\n",
					output, engine.Description().DurationOf(int(rec.Samples())))
				return nil
			})
		},
	}

	dev.register(cmd.Flags())
	cmd.Flags().StringVarP(&output, "output", "o", "",
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav in recording.output_dir")
	cmd.Flags().IntVar(&bitDepth, "bit-depth", config.DefaultBitDepth, "WAV bit depth (16, 24 or 32)")
	return cmd
}

func recordingPath(dir string, now time.Time) string {
	return filepath.Join(dir, "recording-"+now.UTC().Format("02-01-2006-150405")+".wav")
}

func newServeCmd(opts *options) *cobra.Command {
	var (
		dev     deviceFlags
		noWS    bool
		udpAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Capture audio and stream analysis results over WebSocket",
		Long: "Capture audio and stream spectrum band energy, levels and onsets to WebSocket\n" +
			"clients on /ws. Optionally publish raw frames over UDP and record to WAV.\n" +
			"Prometheus metrics are served on /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if err := dev.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			if noWS {
				cfg.Transport.WebSocketEnabled = false
			}
			if udpAddr != "" {
				cfg.Transport.UDPEnabled = true
				cfg.Transport.UDPTargetAddress = udpAddr
			}

			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg)
		},
	}

	dev.register(cmd.Flags())
	cmd.Flags().BoolVar(&noWS, "no-websocket", false, "Disable the WebSocket server")
	cmd.Flags().StringVar(&udpAddr, "udp", "", "Publish raw frames over UDP to this host:port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	window, err := analysis.ParseWindowFunc(cfg.Audio.FFTWindow)
	if err != nil {
		return err
	}

	provider, err := metrics.InitProvider()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer provider.Shutdown(context.Background())
	m, err := metrics.New(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	results := transport.Multi{transport.NewLoggingTransport()}
	routes := map[string]http.Handler{"/metrics": provider.Handler}
	if cfg.Transport.MetricsAddress != "" && (!cfg.Transport.WebSocketEnabled || cfg.Transport.MetricsAddress != cfg.Transport.WebSocketAddress) {
		srv, err := serveMetrics(cfg.Transport.MetricsAddress, provider.Handler)
		if err != nil {
			return err
		}
		defer srv.Close()
		routes = nil
	}
	if cfg.Transport.WebSocketEnabled {
		ws, err := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress, routes)
		if err != nil {
			return err
		}
		results = append(results, ws)
	}
	defer results.Close()

	alloc := metrics.Instrument(cfg.Allocator(), m)
	return withEngine(cfg, alloc, func(engine *capture.Engine) error {
		p, closeStages, err := buildServePipeline(cfg, engine, engine.Description(), results, m, window)
		if err != nil {
			return err
		}
		defer closeStages()
		return runCapture(ctx, engine, p)
	})
}

// gatedSpectrum measures each frame's level and runs the spectrum stages
// only while the noise gate is open.
type gatedSpectrum struct {
	meter   *analysis.LevelMeter
	fft     *analysis.FFTProcessor
	bands   *analysis.BandEnergyProcessor
	results transport.Transport
}

func (g *gatedSpectrum) Consume(ctx context.Context, f *frame.Audio) error {
	defer f.Release()

	lvl := g.meter.Measure(f)
	if err := g.results.Send(lvl); err != nil {
		log.Warnf("serve: sending level: %v", err)
	}
	if !lvl.GateOpen {
		return nil
	}
	if err := g.fft.ProcessFrame(f); err != nil {
		return err
	}
	return g.bands.Consume(ctx, f.Retain())
}

// buildServePipeline wires the analysis, publishing and recording stages
// fed by src. The returned func closes the stages that hold resources.
func buildServePipeline(cfg *config.Config, src pipeline.Source, desc *frame.Description, results transport.Transport, m *metrics.Metrics, window analysis.WindowFunc) (*pipeline.Pipeline, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Errorf("%v", err)
			}
		}
	}
	fail := func(err error) (*pipeline.Pipeline, func(), error) {
		closeAll()
		return nil, func() {}, err
	}

	fftSize := cfg.Audio.FFTSize
	if fftSize == 0 {
		fftSize = cfg.Audio.FramesPerBuffer
	}
	fft, err := analysis.NewFFTProcessor(fftSize, float64(desc.SampleRate()), window, analysis.MixDown)
	if err != nil {
		return fail(err)
	}
	bands, err := analysis.NewBandEnergyProcessor(results, fft, nil)
	if err != nil {
		return fail(err)
	}

	p := pipeline.New(src, pipeline.WithDropWhenFull(true), pipeline.WithMetrics(m))
	p.Add("spectrum", &gatedSpectrum{
		meter:   analysis.NewLevelMeter(cfg.Audio.GateThreshold, nil),
		fft:     fft,
		bands:   bands,
		results: results,
	})
	p.Add("onsets", analysis.NewBeatDetector(0.1, 1.5, 150*time.Millisecond, results))

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, sender.Close)
		p.Add("publish", udp.NewPublisher(sender))
	}

	if cfg.Recording.Enabled {
		if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
			return fail(err)
		}
		rec, err := sink.NewWAVRecorder(recordingPath(cfg.Recording.OutputDir, time.Now()), desc, cfg.Recording.BitDepth)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rec.Close)
		p.Add("recorder", rec)
		log.Infof("serve: recording to %s", rec.Path())
	}

	return p, closeAll, nil
}

// serveMetrics serves h on addr under /metrics until the server is closed.
func serveMetrics(addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Infof("metrics: serving on %s/metrics", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics: %v", err)
		}
	}()
	return srv, nil
}
