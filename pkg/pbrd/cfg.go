package pbrd

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, including the declared
// policy-based-routing state applied at startup.
type Config struct {
	// Logging configuration.
	Logging LoggingConfig `yaml:"logging"`
	// API is the read-only status API configuration.
	API APIConfig `yaml:"api"`
	// NexthopGroups declares the externally managed nexthop-groups.
	NexthopGroups []NexthopGroupConfig `yaml:"nexthop_groups" validate:"dive"`
	// Maps declares the policy maps and their sequences.
	Maps []MapConfig `yaml:"maps" validate:"dive"`
	// Interfaces declares which policy map is applied on which interface.
	Interfaces []BindingConfig `yaml:"interfaces" validate:"dive"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: zapcore.InfoLevel,
		},
		API: APIConfig{
			Addr: "127.0.0.1:8695",
		},
	}
}

// LoadConfig loads and validates the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration's structural invariants.
func (m *Config) Validate() error {
	return validator.New().Struct(m)
}

// LoggingConfig is the configuration for the logging subsystem.
type LoggingConfig struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
}

// APIConfig is the configuration for the status API.
type APIConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// NexthopGroupConfig declares one nexthop-group known to the resolver.
type NexthopGroupConfig struct {
	Name string `yaml:"name" validate:"required"`
	// Table is the routing table the group resolves to; zero allocates one
	// from the registry's range.
	Table uint32 `yaml:"table"`
	// Nexthops is the group's installed-nexthop count.
	Nexthops int `yaml:"nexthops" validate:"gte=0"`
}

// MapConfig declares one policy map.
type MapConfig struct {
	Name      string           `yaml:"name" validate:"required"`
	Sequences []SequenceConfig `yaml:"sequences" validate:"dive"`
}

// SequenceConfig declares one sequence of a policy map.
type SequenceConfig struct {
	Seq uint32 `yaml:"seq" validate:"required,gt=0"`
	// MatchSrc and MatchDst are optional CIDR match clauses.
	MatchSrc string `yaml:"match_src" validate:"omitempty,cidr"`
	MatchDst string `yaml:"match_dst" validate:"omitempty,cidr"`
	// NexthopGroup and Nexthop are mutually exclusive forwarding actions.
	NexthopGroup string         `yaml:"nexthop_group"`
	Nexthop      *NexthopConfig `yaml:"nexthop"`
}

// NexthopConfig declares an inline nexthop.
type NexthopConfig struct {
	Gateway   string `yaml:"gateway" validate:"required,ip"`
	Interface string `yaml:"interface"`
	VRF       string `yaml:"vrf"`
}

// BindingConfig applies a policy map on an interface.
type BindingConfig struct {
	Interface string `yaml:"interface" validate:"required"`
	Map       string `yaml:"map" validate:"required"`
}
