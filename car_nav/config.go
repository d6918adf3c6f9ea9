package car_nav

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. CARNAV_CHANNEL_ADDR.
const EnvPrefix = "CARNAV_"

// CameraConfig selects the frame source for one camera slot.
type CameraConfig struct {
	UDPAddr      string        `toml:"udp_addr" env:"UDP_ADDR"`
	ReadBuffer   int           `toml:"read_buffer" env:"READ_BUFFER"`
	FrameTimeout time.Duration `toml:"frame_timeout" env:"FRAME_TIMEOUT"`
	ReplayPath   string        `toml:"replay_path" env:"REPLAY_PATH"`
}

// ChannelConfig controls the outbound actuator link.
type ChannelConfig struct {
	Transport      string        `toml:"transport" env:"TRANSPORT"`
	Addr           string        `toml:"addr" env:"ADDR"`
	SerialPath     string        `toml:"serial_path" env:"SERIAL_PATH"`
	Serial         PortOptions   `toml:"serial" envPrefix:"SERIAL_"`
	ConnectTimeout time.Duration `toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	WriteTimeout   time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	AutoReconnect  bool          `toml:"auto_reconnect" env:"AUTO_RECONNECT"`
	Backoff        BackoffConfig `toml:"backoff" envPrefix:"BACKOFF_"`
}

// EventLogConfig controls where per-cycle records are written.
type EventLogConfig struct {
	Dir        string `toml:"dir" env:"DIR"`
	SQLitePath string `toml:"sqlite_path" env:"SQLITE_PATH"`
}

// LoopConfig controls control-loop pacing.
type LoopConfig struct {
	Hz                  float64       `toml:"hz" env:"HZ"`
	CommandPadding      time.Duration `toml:"command_padding" env:"COMMAND_PADDING"`
	ArrivedStopRepeats  int           `toml:"arrived_stop_repeats" env:"ARRIVED_STOP_REPEATS"`
	ArrivedStopInterval time.Duration `toml:"arrived_stop_interval" env:"ARRIVED_STOP_INTERVAL"`
	MaxFrameMisses      int           `toml:"max_frame_misses" env:"MAX_FRAME_MISSES"`
}

// OperatorConfig maps clicked pixels on the camera A view to targets.
type OperatorConfig struct {
	ScaleX float64 `toml:"scale_x" env:"SCALE_X"`
	ScaleZ float64 `toml:"scale_z" env:"SCALE_Z"`
	CX     float64 `toml:"cx" env:"CX"`
	CY     float64 `toml:"cy" env:"CY"`
	Stdin  bool    `toml:"stdin" env:"STDIN"`
}

// LogConfig controls console logging.
type LogConfig struct {
	Level   string `toml:"level" env:"LEVEL"`
	NoColor bool   `toml:"no_color" env:"NO_COLOR"`
}

// AppConfig aggregates all configuration sections.
type AppConfig struct {
	CameraA    CameraConfig   `toml:"camera_a" envPrefix:"CAMERA_A_"`
	CameraB    CameraConfig   `toml:"camera_b" envPrefix:"CAMERA_B_"`
	Navigation Tolerances     `toml:"navigation" envPrefix:"NAV_"`
	Channel    ChannelConfig  `toml:"channel" envPrefix:"CHANNEL_"`
	EventLog   EventLogConfig `toml:"event_log" envPrefix:"EVENT_LOG_"`
	Loop       LoopConfig     `toml:"loop" envPrefix:"LOOP_"`
	Operator   OperatorConfig `toml:"operator" envPrefix:"OPERATOR_"`
	Viz        VizConfig      `toml:"viz" envPrefix:"VIZ_"`
	Log        LogConfig      `toml:"log" envPrefix:"LOG_"`
}

// DefaultConfig returns the reference rig configuration.
func DefaultConfig() AppConfig {
	return AppConfig{
		CameraA:    CameraConfig{UDPAddr: "127.0.0.1:7101", ReadBuffer: 2048, FrameTimeout: 200 * time.Millisecond},
		CameraB:    CameraConfig{UDPAddr: "127.0.0.1:7102", ReadBuffer: 2048, FrameTimeout: 200 * time.Millisecond},
		Navigation: DefaultTolerances(),
		Channel: ChannelConfig{
			Transport:      "tcp",
			Addr:           "127.0.0.1:50000",
			ConnectTimeout: 3 * time.Second,
			WriteTimeout:   500 * time.Millisecond,
			Backoff: BackoffConfig{
				InitialDelay: 250 * time.Millisecond,
				Multiplier:   2.0,
				MaxDelay:     5 * time.Second,
				Jitter:       true,
			},
		},
		EventLog: EventLogConfig{Dir: "."},
		Loop: LoopConfig{
			Hz:                  30,
			CommandPadding:      100 * time.Millisecond,
			ArrivedStopRepeats:  3,
			ArrivedStopInterval: 50 * time.Millisecond,
			MaxFrameMisses:      50,
		},
		Operator: OperatorConfig{ScaleX: 1000, ScaleZ: 850, CX: 320, CY: 240, Stdin: true},
		Viz:      VizConfig{Addr: "127.0.0.1:7070"},
		Log:      LogConfig{Level: "info"},
	}
}

// LoadConfig layers the TOML file (if any) and CARNAV_* environment
// variables over the defaults.
func LoadConfig(path string) (AppConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("config env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields the loop cannot run without.
func (c AppConfig) Validate() error {
	if c.Loop.Hz <= 0 {
		return fmt.Errorf("loop.hz must be > 0")
	}
	if err := c.CameraA.validate("camera_a"); err != nil {
		return err
	}
	if err := c.CameraB.validate("camera_b"); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Channel.Transport)) {
	case "tcp":
		if strings.TrimSpace(c.Channel.Addr) == "" {
			return fmt.Errorf("channel.addr must be set for tcp transport")
		}
	case "serial":
		if strings.TrimSpace(c.Channel.SerialPath) == "" {
			return fmt.Errorf("channel.serial_path must be set for serial transport")
		}
		if _, err := c.Channel.Serial.Normalize(); err != nil {
			return fmt.Errorf("channel.serial: %w", err)
		}
	default:
		return fmt.Errorf("channel.transport %q: expected tcp or serial", c.Channel.Transport)
	}
	if c.Navigation.Distance <= 0 {
		return fmt.Errorf("navigation.distance must be > 0")
	}
	if c.Navigation.Angle <= 0 {
		return fmt.Errorf("navigation.angle must be > 0")
	}
	if c.Operator.ScaleX == 0 || c.Operator.ScaleZ == 0 {
		return fmt.Errorf("operator.scale_x and operator.scale_z must be non-zero")
	}
	if _, ok := parseLevel(c.Log.Level); !ok && strings.TrimSpace(c.Log.Level) != "" {
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	return nil
}

func (c CameraConfig) validate(name string) error {
	if strings.TrimSpace(c.UDPAddr) == "" && strings.TrimSpace(c.ReplayPath) == "" {
		return fmt.Errorf("%s: udp_addr or replay_path must be set", name)
	}
	return nil
}

// Dialer builds the actuator dialer selected by the channel section.
func (c ChannelConfig) Dialer() Dialer {
	if strings.EqualFold(strings.TrimSpace(c.Transport), "serial") {
		return SerialDialer{Path: c.SerialPath, Options: c.Serial}
	}
	return TCPDialer{Addr: c.Addr, Timeout: c.ConnectTimeout, WriteTimeout: c.WriteTimeout}
}

// ParseCommand converts a wire keyword into a Command.
func ParseCommand(value string) (Command, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "STOP":
		return CommandStop, nil
	case "FORWARD":
		return CommandForward, nil
	case "BACK":
		return CommandBack, nil
	case "LEFT":
		return CommandLeft, nil
	case "RIGHT":
		return CommandRight, nil
	default:
		return CommandStop, fmt.Errorf("unknown command %q", value)
	}
}
