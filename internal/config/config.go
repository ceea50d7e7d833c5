package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rescp17/grillo/pkg/discovery"
	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/modem"
	"github.com/rescp17/grillo/pkg/packet"
)

// Config holds everything the grillo CLI needs to build a link and a modem.
type Config struct {
	// Framing
	DataLen        int  `json:"data_len" yaml:"data_len"`
	LegacyChainLen bool `json:"legacy_chain_len" yaml:"legacy_chain_len"`

	// Confirmation mode
	WithConfirmation bool          `json:"with_confirmation" yaml:"with_confirmation"`
	AckTimeout       time.Duration `json:"ack_timeout" yaml:"ack_timeout"`
	AckDelay         time.Duration `json:"ack_delay" yaml:"ack_delay"`
	MaxAckRounds     int           `json:"max_ack_rounds" yaml:"max_ack_rounds"` // 0 = unlimited

	// Link
	ListenAddr    string `json:"listen_addr" yaml:"listen_addr"`
	PeerAddr      string `json:"peer_addr" yaml:"peer_addr"` // empty = browse mDNS
	MaxPacketSize int    `json:"max_packet_size" yaml:"max_packet_size"`

	// Receiving side
	OutputDir   string `json:"output_dir" yaml:"output_dir"`
	ServiceType string `json:"service_type" yaml:"service_type"`
}

// Default returns a configuration matching the acoustic link's limits.
func Default() *Config {
	return &Config{
		DataLen:          packet.DefaultDataLen,
		WithConfirmation: false,
		AckTimeout:       modem.DefaultAckTimeout,
		AckDelay:         modem.DefaultAckDelay,
		MaxAckRounds:     10,
		ListenAddr:       ":7355",
		MaxPacketSize:    link.DefaultMaxPacketSize,
		OutputDir:        ".",
		ServiceType:      discovery.ServiceType,
	}
}

// Load reads a YAML file on top of the defaults. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if c.MaxPacketSize <= packet.HeaderLen {
		return fmt.Errorf("max_packet_size must be greater than %d", packet.HeaderLen)
	}
	if c.DataLen <= 0 {
		return errors.New("data_len must be positive")
	}
	if c.DataLen > c.MaxPacketSize-packet.HeaderLen {
		return fmt.Errorf("data_len cannot exceed max_packet_size - %d", packet.HeaderLen)
	}

	if c.AckTimeout <= 0 {
		return errors.New("ack_timeout must be positive")
	}
	if c.AckDelay <= 0 {
		return errors.New("ack_delay must be positive")
	}
	if c.AckDelay >= c.AckTimeout {
		return errors.New("ack_delay must be shorter than ack_timeout")
	}
	if c.MaxAckRounds < 0 {
		return errors.New("max_ack_rounds cannot be negative")
	}

	if c.ListenAddr == "" {
		return errors.New("listen_addr cannot be empty")
	}
	if c.ServiceType == "" {
		return errors.New("service_type cannot be empty")
	}
	return nil
}

// ModemOptions translates the configuration into modem options.
func (c *Config) ModemOptions(logger *slog.Logger) []modem.Option {
	return []modem.Option{
		modem.WithDataLen(c.DataLen),
		modem.WithLegacyChainLen(c.LegacyChainLen),
		modem.WithConfirmation(c.WithConfirmation),
		modem.WithAckTimeout(c.AckTimeout),
		modem.WithAckDelay(c.AckDelay),
		modem.WithMaxAckRounds(c.MaxAckRounds),
		modem.WithLogger(logger),
	}
}

// LinkOptions translates the configuration into UDP link options.
func (c *Config) LinkOptions() []link.UDPOption {
	return []link.UDPOption{
		link.WithUDPMaxPacketSize(c.MaxPacketSize),
		link.WithWriteTimeout(c.AckTimeout),
	}
}
