package types

import "errors"

// Config holds backend selection and parameters for EntityStore.Attach.
type Config struct {
	Backend    string `json:"backend" yaml:"backend" mapstructure:"backend"`
	Driver     string `json:"driver,omitempty" yaml:"driver,omitempty" mapstructure:"driver"`
	DataDir    string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	MaxRetries int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty" mapstructure:"max_retries"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// SQL drivers accepted by the sqlite backend. DriverModernc is the pure-Go
// driver and the default; DriverMattn requires cgo.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// DefaultMaxRetries bounds the retries of a conflicting GetOrCreate.
const DefaultMaxRetries = 5

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrDriverUnknown  = errors.New("unknown sqlite driver")
	ErrRetriesInvalid = errors.New("max retries must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendBolt:   true,
	BackendMemory: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendSQLite {
		switch c.Driver {
		case "", DriverModernc, DriverMattn:
		default:
			return ErrDriverUnknown
		}
	}
	if c.MaxRetries < 0 {
		return ErrRetriesInvalid
	}
	return nil
}

// SQLDriver returns the database/sql driver name for the sqlite backend,
// defaulting to the pure-Go driver.
func (c Config) SQLDriver() string {
	if c.Driver == "" {
		return DriverModernc
	}
	return c.Driver
}

// Retries returns MaxRetries, or DefaultMaxRetries when unset.
func (c Config) Retries() int {
	if c.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}
