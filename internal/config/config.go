// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config defines the global configuration structure
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Network NetworkConfig `mapstructure:"network"`
	Bus     BusConfig     `mapstructure:"bus"`
	Sim     SimConfig     `mapstructure:"sim"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Wait    WaitConfig    `mapstructure:"wait"`

	// ConfigFile is the file the configuration was read from, empty if none.
	ConfigFile string `mapstructure:"-"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// NetworkConfig holds the addresses programmed into the controller at startup.
type NetworkConfig struct {
	MAC     string `mapstructure:"mac"`     // e.g. "00:16:36:DE:58:F6"
	IP      string `mapstructure:"ip"`      // e.g. "192.168.2.10"
	Subnet  string `mapstructure:"subnet"`  // e.g. "255.255.255.0"
	Gateway string `mapstructure:"gateway"` // e.g. "192.168.2.1"
}

// BusConfig selects how the controller is reached.
type BusConfig struct {
	Type   string       `mapstructure:"type"`   // "serial" or "sim"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "serial"
}

// SerialConfig defines the serial link to the SPI bridge
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SimConfig defines the simulated controller used when Bus.Type is "sim".
type SimConfig struct {
	Address string        `mapstructure:"address"` // TCP address peers connect to
	Storage StorageConfig `mapstructure:"storage"`
}

// StorageConfig defines where the simulated register file lives
type StorageConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "sql"
	Path string `mapstructure:"path"` // File path for "file/mmap", sqlite DSN for "sql"
}

// HTTPConfig tunes the request dispatch loop.
type HTTPConfig struct {
	Port          uint16        `mapstructure:"port"`
	Field         string        `mapstructure:"field"`
	RequestSize   int           `mapstructure:"request_size"`
	PayloadSize   int           `mapstructure:"payload_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ListenBackoff time.Duration `mapstructure:"listen_backoff"`
	RecvSettle    time.Duration `mapstructure:"recv_settle"`
}

// WaitConfig bounds the register polling loops. Zero retries means poll forever.
type WaitConfig struct {
	SendInterval    time.Duration `mapstructure:"send_interval"`
	SendRetries     int           `mapstructure:"send_retries"`
	CommandInterval time.Duration `mapstructure:"command_interval"`
	CommandRetries  int           `mapstructure:"command_retries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("network.mac", "00:16:36:DE:58:F6")
	v.SetDefault("network.ip", "192.168.2.10")
	v.SetDefault("network.subnet", "255.255.255.0")
	v.SetDefault("network.gateway", "192.168.2.1")

	v.SetDefault("bus.type", "sim")
	v.SetDefault("bus.serial.device", "/dev/ttyUSB0")
	v.SetDefault("bus.serial.baud_rate", 115200)
	v.SetDefault("bus.serial.data_bits", 8)
	v.SetDefault("bus.serial.parity", "N")
	v.SetDefault("bus.serial.stop_bits", 1)
	v.SetDefault("bus.serial.timeout", 500*time.Millisecond)

	v.SetDefault("sim.address", "127.0.0.1:8080")
	v.SetDefault("sim.storage.type", "memory")
	v.SetDefault("sim.storage.path", "")

	v.SetDefault("http.port", 80)
	v.SetDefault("http.field", "code")
	v.SetDefault("http.request_size", 1024)
	v.SetDefault("http.payload_size", 1024)
	v.SetDefault("http.poll_interval", time.Millisecond)
	v.SetDefault("http.listen_backoff", time.Millisecond)
	v.SetDefault("http.recv_settle", 5*time.Microsecond)

	v.SetDefault("wait.send_interval", time.Millisecond)
	v.SetDefault("wait.send_retries", 5000)
	v.SetDefault("wait.command_interval", time.Duration(0))
	v.SetDefault("wait.command_retries", 0)
}

// LoadConfig loads configuration from defaults, the config file and command-line arguments.
// args excludes the program name.
func LoadConfig(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("openremote", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("log.level", "v", v.GetString("log.level"), "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log.file", "L", v.GetString("log.file"), "Log file name ('-' for logging to STDOUT only).")
	fs.StringP("bus.type", "b", v.GetString("bus.type"), "Controller bus (serial, sim).")
	fs.StringP("bus.serial.device", "p", v.GetString("bus.serial.device"), "Serial device of the SPI bridge.")
	fs.IntP("bus.serial.baud_rate", "s", v.GetInt("bus.serial.baud_rate"), "Serial port speed.")
	fs.StringP("sim.address", "A", v.GetString("sim.address"), "Listen address of the simulated controller.")
	fs.Uint16P("http.port", "P", uint16(v.GetUint("http.port")), "TCP port opened on the controller.")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	// Only flags that were set explicitly override file values.
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = multierr.Append(bindErr, err)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind pflags: %w", bindErr)
	}

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/openremote/")
		v.AddConfigPath("$HOME/.openremote")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Defaults and flags are enough to run without a file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.ConfigFile = v.ConfigFileUsed()

	if err := config.validate(); err != nil {
		return nil, err
	}
	fixupSerial(&config.Bus.Serial)
	fixupHTTP(&config.HTTP)

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Bus.Type {
	case "serial", "sim":
	default:
		return fmt.Errorf("unknown bus type %q", c.Bus.Type)
	}
	switch c.Sim.Storage.Type {
	case "memory", "":
	case "file", "mmap", "sql":
		if c.Bus.Type == "sim" && c.Sim.Storage.Path == "" {
			return fmt.Errorf("%s storage needs a path", c.Sim.Storage.Type)
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Sim.Storage.Type)
	}
	if c.HTTP.Field == "" {
		return fmt.Errorf("http.field must not be empty")
	}
	if c.Wait.SendRetries <= 0 {
		return fmt.Errorf("wait.send_retries must be positive, got %d", c.Wait.SendRetries)
	}
	if c.Wait.CommandRetries < 0 {
		return fmt.Errorf("wait.command_retries must not be negative")
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}

func fixupHTTP(h *HTTPConfig) {
	// recv needs room for the data and a terminator
	if h.RequestSize < 3 {
		h.RequestSize = 1024
	}
	if h.PayloadSize <= 0 {
		h.PayloadSize = 1024
	}
	if h.PollInterval == 0 {
		h.PollInterval = time.Millisecond
	}
	if h.ListenBackoff == 0 {
		h.ListenBackoff = time.Millisecond
	}
}
