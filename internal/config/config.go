// SPDX-License-Identifier: MIT
package config

// Defaults and limits applied by LoadConfig and Validate.
const (
	DefaultLogLevel        = "info"
	DefaultAlignment       = 32
	DefaultSampleFormat    = "s16"
	DefaultSamplesPerFrame = 1024
	DefaultDeviceID        = MinDeviceID
	DefaultSampleRate      = 44100
	DefaultChannels        = 2
	DefaultFramesPerBuffer = 1024
	DefaultFFTWindow       = "Hann"
	DefaultGateThreshold   = 0.01
	DefaultOutputDir       = "./recordings"
	DefaultBitDepth        = 16
	DefaultWSAddress       = ":8080"
	DefaultUDPTarget       = "127.0.0.1:9090"
	DefaultUDPListen       = ":9090"
	DefaultMetricsAddress  = ":9464"

	// -1 selects the system default input device.
	MinDeviceID     = -1
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
	MaxChannels     = 64
)

// Config is the complete application configuration.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
	Frame     FrameConfig     `yaml:"frame"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// FrameConfig controls how audio frames are allocated.
type FrameConfig struct {
	Alignment       int    `yaml:"alignment"`         // Plane alignment in bytes, a power of two.
	ZeroFill        bool   `yaml:"zero_fill"`         // Zero new planes before use.
	Pool            bool   `yaml:"pool"`              // Recycle plane memory through size-class pools.
	MaxAllocBytes   int64  `yaml:"max_alloc_bytes"`   // Limit on live plane memory, 0 for none.
	SampleFormat    string `yaml:"sample_format"`     // Format of decoded frames (s16, s32p, f32p, ...).
	SamplesPerFrame int    `yaml:"samples_per_frame"` // Samples per channel in each decoded frame.
}

// AudioConfig holds capture and analysis settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`
	SampleRate      float64 `yaml:"sample_rate"`
	InputChannels   int     `yaml:"input_channels"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	LowLatency      bool    `yaml:"low_latency"`
	FFTWindow       string  `yaml:"fft_window"`
	FFTSize         int     `yaml:"fft_size"` // 0 uses frames_per_buffer.
	GateThreshold   float64 `yaml:"gate_threshold"`
}

type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	BitDepth  int    `yaml:"bit_depth"`
}

// TransportConfig holds network settings. Empty addresses disable the
// corresponding listener.
type TransportConfig struct {
	WebSocketEnabled bool   `yaml:"websocket_enabled"`
	WebSocketAddress string `yaml:"websocket_address"`
	UDPEnabled       bool   `yaml:"udp_enabled"`
	UDPTargetAddress string `yaml:"udp_target_address"`
	UDPListenAddress string `yaml:"udp_listen_address"`
	MetricsAddress   string `yaml:"metrics_address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Frame: FrameConfig{
			Alignment:       DefaultAlignment,
			ZeroFill:        true,
			SampleFormat:    DefaultSampleFormat,
			SamplesPerFrame: DefaultSamplesPerFrame,
		},
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			InputChannels:   DefaultChannels,
			FramesPerBuffer: DefaultFramesPerBuffer,
			FFTWindow:       DefaultFFTWindow,
			GateThreshold:   DefaultGateThreshold,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultOutputDir,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			WebSocketEnabled: true,
			WebSocketAddress: DefaultWSAddress,
			UDPTargetAddress: DefaultUDPTarget,
			UDPListenAddress: DefaultUDPListen,
			MetricsAddress:   DefaultMetricsAddress,
		},
	}
}
