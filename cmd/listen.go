// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"pcmframe/internal/analysis"
	"pcmframe/internal/pipeline"
	"pcmframe/internal/sink"
	"pcmframe/internal/transport/udp"
	"pcmframe/pkg/frame"
)

const meterWidth = 40

var (
	meterOn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	meterHot = lipgloss.NewStyle().Foreground(lipgloss.Color("#E0443E")).Bold(true)
	meterOff = lipgloss.NewStyle().Foreground(lipgloss.Color("#3C3C3C"))
)

// meterPrinter writes one level line per channel at most once per
// interval of stream time. A timestamp earlier than the last printed one
// starts the throttle over.
type meterPrinter struct {
	w        io.Writer
	meter    *analysis.LevelMeter
	interval time.Duration

	mu   sync.Mutex
	next time.Duration
}

func (p *meterPrinter) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	lvl := p.meter.Measure(f)

	p.mu.Lock()
	defer p.mu.Unlock()
	ts := f.Timestamp()
	if ts < p.next-p.interval {
		// The publisher restarted its clock.
		p.next = 0
	}
	if ts < p.next {
		return nil
	}
	p.next = ts + p.interval

	var sb strings.Builder
	for ch := range lvl.RMS {
		fmt.Fprintf(&sb, "%10s ch%d %s %6.1f dBFS\n",
			f.Timestamp().Truncate(time.Millisecond), ch, renderMeter(lvl.RMS[ch], lvl.Peak[ch]), dbfs(lvl.RMS[ch]))
	}
	_, err := io.WriteString(p.w, sb.String())
	return err
}

func dbfs(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// renderMeter draws rms as a bar on a -60..0 dBFS scale; cells above -6
// dBFS are highlighted when the peak clips.
func renderMeter(rms, peak float64) string {
	db := max(-60, min(0, dbfs(rms)))
	lit := int(math.Round((db + 60) / 60 * meterWidth))
	hotFrom := int(float64(meterWidth) * 54 / 60)

	var sb strings.Builder
	for i := range meterWidth {
		switch {
		case i >= lit:
			sb.WriteString(meterOff.Render("░"))
		case i >= hotFrom && peak >= 1:
			sb.WriteString(meterHot.Render("█"))
		default:
			sb.WriteString(meterOn.Render("█"))
		}
	}
	return sb.String()
}

// lazyRecorder opens its WAV file on the first frame, once the stream
// format is known.
type lazyRecorder struct {
	path     string
	bitDepth int

	mu  sync.Mutex
	rec *sink.WAVRecorder
}

func (l *lazyRecorder) Consume(ctx context.Context, f *frame.Audio) error {
	l.mu.Lock()
	if l.rec == nil {
		rec, err := sink.NewWAVRecorder(l.path, f.Description(), l.bitDepth)
		if err != nil {
			l.mu.Unlock()
			f.Release()
			return err
		}
		l.rec = rec
	}
	rec := l.rec
	l.mu.Unlock()
	return rec.Consume(ctx, f)
}

func (l *lazyRecorder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec == nil {
		return nil
	}
	return l.rec.Close()
}

func newListenCmd(opts *options) *cobra.Command {
	var (
		addr     string
		interval time.Duration
		record   string
		bitDepth int
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive frames published over UDP and print level meters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr == "" {
				addr = cfg.Transport.UDPListenAddress
			}

			recv, err := udp.Listen(addr)
			if err != nil {
				return err
			}
			defer recv.Close()

			ctx, stop := signalContext()
			defer stop()

			p := pipeline.New(recv, pipeline.WithDropWhenFull(true))
			p.Add("meter", &meterPrinter{
				w:        cmd.OutOrStdout(),
				meter:    analysis.NewLevelMeter(cfg.Audio.GateThreshold, nil),
				interval: interval,
			})
			if record != "" {
				rec := &lazyRecorder{path: record, bitDepth: bitDepth}
				defer rec.Close()
				p.Add("recorder", rec)
			}

			err = p.Run(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d frames received, %d lost, %d malformed\n",
				recv.Received(), recv.Lost(), recv.Malformed())
			if interrupted(err) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&addr, "listen", "a", "", "UDP address to listen on (default: transport.udp_listen_address)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 250*time.Millisecond, "Minimum stream time between meter lines")
	cmd.Flags().StringVarP(&record, "record", "r", "", "Also write the received audio to this WAV file")
	cmd.Flags().IntVar(&bitDepth, "bit-depth", 16, "Bit depth used with --record (16, 24 or 32)")
	return cmd
}
