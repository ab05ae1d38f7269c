package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StoreOptions)(nil)

const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
)

// StoreOptions selects and configures the device/vehicle/campaign record store.
type StoreOptions struct {
	// Driver is either "memory" or "sqlite".
	Driver string `json:"driver" mapstructure:"driver"`

	// Path is the SQLite database file.
	Path string `json:"path" mapstructure:"path"`

	// PoolSize is the number of pooled SQLite connections.
	PoolSize int `json:"pool-size" mapstructure:"pool-size"`

	// SeedFile is an optional JSON document loaded into the store at startup.
	SeedFile string `json:"seed-file" mapstructure:"seed-file"`

	// FlushInterval is how often buffered status updates are written to the store.
	FlushInterval time.Duration `json:"flush-interval" mapstructure:"flush-interval"`
}

// NewStoreOptions creates StoreOptions with default values.
func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		Driver:        StoreDriverMemory,
		Path:          "adfleet.db",
		PoolSize:      4,
		FlushInterval: time.Second,
	}
}

// Validate checks the store selection.
func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	switch o.Driver {
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if o.Path == "" {
			errs = append(errs, fmt.Errorf("--store.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("--store.driver must be %q or %q, got %q", StoreDriverMemory, StoreDriverSQLite, o.Driver))
	}
	if o.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("--store.flush-interval must be positive"))
	}

	return errs
}

// AddFlags adds flags for StoreOptions to the specified FlagSet.
func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, "store.driver", o.Driver, "Record store driver ('memory' or 'sqlite').")
	fs.StringVar(&o.Path, "store.path", o.Path, "SQLite database file.")
	fs.IntVar(&o.PoolSize, "store.pool-size", o.PoolSize, "Number of pooled SQLite connections.")
	fs.StringVar(&o.SeedFile, "store.seed-file", o.SeedFile, "Optional JSON seed document loaded at startup.")
	fs.DurationVar(&o.FlushInterval, "store.flush-interval", o.FlushInterval, "Status pipeline flush interval.")
}
