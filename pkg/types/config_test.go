package types

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "postgres", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "valid sqlite config",
			config:  Config{Backend: "sqlite", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "sqlite with mattn driver",
			config:  Config{Backend: "sqlite", Driver: "sqlite3", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "sqlite with unknown driver returns ErrDriverUnknown",
			config:  Config{Backend: "sqlite", Driver: "pgx"},
			wantErr: ErrDriverUnknown,
		},
		{
			name:    "bolt ignores driver",
			config:  Config{Backend: "bolt", Driver: "pgx"},
			wantErr: nil,
		},
		{
			name:    "memory with empty DataDir is valid",
			config:  Config{Backend: "memory"},
			wantErr: nil,
		},
		{
			name:    "negative retries returns ErrRetriesInvalid",
			config:  Config{Backend: "memory", MaxRetries: -1},
			wantErr: ErrRetriesInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{Backend: BackendSQLite}
	if got := c.SQLDriver(); got != DriverModernc {
		t.Errorf("SQLDriver() = %q, want %q", got, DriverModernc)
	}
	if got := c.Retries(); got != DefaultMaxRetries {
		t.Errorf("Retries() = %d, want %d", got, DefaultMaxRetries)
	}

	c.Driver = DriverMattn
	c.MaxRetries = 2
	if got := c.SQLDriver(); got != DriverMattn {
		t.Errorf("SQLDriver() = %q, want %q", got, DriverMattn)
	}
	if got := c.Retries(); got != 2 {
		t.Errorf("Retries() = %d, want 2", got)
	}
}
