// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"pcmframe/internal/log"
	"pcmframe/pkg/bitint"
	"pcmframe/pkg/frame"
)

// candidates are searched in order when LoadConfig is given no path.
var candidates = []string{
	"pcmframe.yaml",
	"config.yaml",
}

// LoadConfig reads the YAML file at path on top of the built-in defaults.
// An empty path searches the working directory for a known file name and
// falls back to the defaults when none exists. Environment overrides are
// applied last, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Debugf("configuration: loaded %s", path)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not a known level", c.LogLevel))
	}

	if c.Frame.Alignment < 1 || !bitint.IsPowerOfTwo(c.Frame.Alignment) {
		errs = append(errs, fmt.Errorf("frame.alignment %d must be a positive power of two", c.Frame.Alignment))
	}
	if c.Frame.MaxAllocBytes < 0 {
		errs = append(errs, errors.New("frame.max_alloc_bytes must not be negative"))
	}
	if _, err := frame.ParseSampleFormat(c.Frame.SampleFormat); err != nil {
		errs = append(errs, fmt.Errorf("frame.sample_format: %w", err))
	}
	if c.Frame.SamplesPerFrame < 1 {
		errs = append(errs, errors.New("frame.samples_per_frame must be positive"))
	}

	if c.Audio.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device %d is below %d", c.Audio.InputDevice, MinDeviceID))
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]", c.Audio.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if c.Audio.InputChannels < 1 || c.Audio.InputChannels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.input_channels %d outside [1, %d]", c.Audio.InputChannels, MaxChannels))
	}
	if c.Audio.FramesPerBuffer < 1 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d outside [1, %d]", c.Audio.FramesPerBuffer, MaxBufferFrames))
	}
	if c.Audio.FFTSize < 0 {
		errs = append(errs, errors.New("audio.fft_size must not be negative"))
	}
	if c.Audio.GateThreshold < 0 || c.Audio.GateThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.gate_threshold %g outside [0, 1]", c.Audio.GateThreshold))
	}

	if c.Recording.Enabled && c.Recording.OutputDir == "" {
		errs = append(errs, errors.New("recording.output_dir must be set when recording is enabled"))
	}
	switch c.Recording.BitDepth {
	case 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("recording.bit_depth %d must be 16, 24 or 32", c.Recording.BitDepth))
	}

	if c.Transport.UDPEnabled && !strings.Contains(c.Transport.UDPTargetAddress, ":") {
		errs = append(errs, fmt.Errorf("transport.udp_target_address %q is missing a port", c.Transport.UDPTargetAddress))
	}
	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddress == "" {
		errs = append(errs, errors.New("transport.websocket_address must be set when the websocket is enabled"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Values that fail to parse are logged and ignored.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Debug = b
			log.Debugf("configuration: overriding debug from env: %v", b)
		} else {
			log.Warnf("configuration: ignoring ENV_DEBUG=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		log.Debugf("configuration: overriding log_level from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_FRAME_ALIGNMENT"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Frame.Alignment = n
			log.Debugf("configuration: overriding frame.alignment from env: %d", n)
		} else {
			log.Warnf("configuration: ignoring ENV_FRAME_ALIGNMENT=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = b
			log.Debugf("configuration: overriding transport.udp_enabled from env: %v", b)
		} else {
			log.Warnf("configuration: ignoring ENV_UDP_ENABLED=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		log.Debugf("configuration: overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		c.Transport.WebSocketAddress = val
		log.Debugf("configuration: overriding transport.websocket_address from env: %s", val)
	}
}
