// Package config provides functionality for managing configuration options
// for the application using command-line flags, environment variables and
// an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto option keys, so EJAUTH_USERS_FILE sets users_file.
const EnvPrefix = "EJAUTH_"

// MaxBcryptCost caps bcrypt_cost. Hashing at the cap takes a few seconds,
// and one hash blocks the session until it finishes.
const MaxBcryptCost = 16

// Credential store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite3"
	StoreFile     = "file"
)

// Options holds the configuration values for the application.
type Options struct {
	// Once answers a single request and exits.
	Once bool `koanf:"once"`

	// Store selects the credential backend: postgres, sqlite3 or file.
	Store string `koanf:"store"`
	// DatabaseDSN holds the database connection string for SQL stores.
	DatabaseDSN string `koanf:"dsn"`
	// UsersFile is the YAML account file used by the file store.
	UsersFile string `koanf:"users_file"`
	// StoreTimeout is the context deadline of each credential store call;
	// zero disables it. It does not interrupt bcrypt work.
	StoreTimeout time.Duration `koanf:"store_timeout"`
	// BcryptCost is used when hashing new passwords.
	BcryptCost int `koanf:"bcrypt_cost"`

	// AdminAddr enables the admin HTTP API when non-empty.
	AdminAddr string `koanf:"admin_addr"`
	TLSCert   string `koanf:"tls_cert"`
	TLSKey    string `koanf:"tls_key"`
	// TLSCA enables client certificate verification.
	TLSCA string `koanf:"tls_ca"`

	// AuditRetention is how long audit events are kept.
	AuditRetention time.Duration `koanf:"audit_retention"`
	// CleanupInterval is the period of the audit cleaner.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	LogLevel string `koanf:"log_level"`
	// LogFile receives logs instead of stderr when set.
	LogFile string `koanf:"log_file"`

	// Config is the path to the YAML config file.
	Config string `koanf:"-"`
}

// Default returns the options used when nothing else is configured.
func Default() *Options {
	return &Options{
		Store:           StoreFile,
		UsersFile:       "users.yaml",
		StoreTimeout:    5 * time.Second,
		BcryptCost:      bcrypt.DefaultCost,
		AuditRetention:  30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		LogLevel:        "info",
	}
}

// TLSEnabled reports whether the admin API serves HTTPS.
func (o *Options) TLSEnabled() bool {
	return o.TLSCert != "" && o.TLSKey != ""
}

// UsesSQL reports whether the store is backed by database/sql.
func (o *Options) UsesSQL() bool {
	return o.Store == StorePostgres || o.Store == StoreSQLite
}

// Validate checks option combinations.
func (o *Options) Validate() error {
	var errs []error
	switch o.Store {
	case StorePostgres, StoreSQLite:
		if o.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("store %q requires dsn", o.Store))
		}
	case StoreFile:
		if o.UsersFile == "" {
			errs = append(errs, errors.New("store \"file\" requires users_file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", o.Store))
	}
	if (o.TLSCert == "") != (o.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if o.TLSCA != "" && !o.TLSEnabled() {
		errs = append(errs, errors.New("tls_ca requires tls_cert and tls_key"))
	}
	if o.AdminAddr != "" && o.TLSCA == "" && !isLoopback(o.AdminAddr) {
		errs = append(errs, fmt.Errorf("admin_addr %q without tls_ca must be a loopback address", o.AdminAddr))
	}
	if o.StoreTimeout < 0 {
		errs = append(errs, errors.New("store_timeout must not be negative"))
	}
	if o.UsesSQL() && (o.AuditRetention <= 0 || o.CleanupInterval <= 0) {
		errs = append(errs, errors.New("audit_retention and cleanup_interval must be positive"))
	}
	if o.BcryptCost < bcrypt.MinCost || o.BcryptCost > MaxBcryptCost {
		errs = append(errs, fmt.Errorf("bcrypt_cost must be within [%d, %d]", bcrypt.MinCost, MaxBcryptCost))
	}
	return errors.Join(errs...)
}

// isLoopback reports whether addr binds only to the local host. An empty
// host listens on every interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// newFlagSet registers one flag per option key, with dashes for underscores.
func newFlagSet(o *Options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ejauth", pflag.ContinueOnError)
	// Callers print Usage themselves on pflag.ErrHelp.
	fs.Usage = func() {}
	fs.BoolVar(&o.Once, "once", o.Once, "answer a single request and exit")
	fs.StringVarP(&o.Config, "config", "c", o.Config, "path to YAML config file")
	fs.StringVar(&o.Store, "store", o.Store, "credential store: postgres, sqlite3 or file")
	fs.StringVarP(&o.DatabaseDSN, "dsn", "d", o.DatabaseDSN, "database connection string")
	fs.StringVar(&o.UsersFile, "users-file", o.UsersFile, "YAML account file for the file store")
	fs.DurationVar(&o.StoreTimeout, "store-timeout", o.StoreTimeout, "timeout for each credential store call (0 disables)")
	fs.IntVar(&o.BcryptCost, "bcrypt-cost", o.BcryptCost, "bcrypt cost for new password hashes")
	fs.StringVarP(&o.AdminAddr, "admin-addr", "a", o.AdminAddr, "admin API listen address (empty disables)")
	fs.StringVar(&o.TLSCert, "tls-cert", o.TLSCert, "admin API certificate")
	fs.StringVar(&o.TLSKey, "tls-key", o.TLSKey, "admin API private key")
	fs.StringVar(&o.TLSCA, "tls-ca", o.TLSCA, "CA used to verify admin client certificates")
	fs.DurationVar(&o.AuditRetention, "audit-retention", o.AuditRetention, "how long audit events are kept")
	fs.DurationVar(&o.CleanupInterval, "cleanup-interval", o.CleanupInterval, "audit cleanup period")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&o.LogFile, "log-file", o.LogFile, "log to this file instead of stderr")
	return fs
}

// Parse builds Options from defaults, the YAML config file, EJAUTH_*
// environment variables and explicitly set flags, in increasing precedence.
// args excludes the program name. pflag.ErrHelp is returned unwrapped.
func Parse(args []string) (*Options, error) {
	return parse(args, os.Environ)
}

func parse(args []string, environ func() []string) (*Options, error) {
	opts := Default()
	fs := newFlagSet(opts)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	k := koanf.New(".")

	path := opts.Config
	if path == "" {
		for _, kv := range environ() {
			if v, ok := strings.CutPrefix(kv, EnvPrefix+"CONFIG="); ok {
				path = v
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error while reading config file: %w", err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:      EnvPrefix,
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			if key == "config" {
				return "", nil
			}
			return key, value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error while reading environment: %w", err)
	}

	var setErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		setErr = errors.Join(setErr, k.Set(key, f.Value.String()))
	})
	if setErr != nil {
		return nil, setErr
	}

	if err := k.UnmarshalWithConf("", opts, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("error while parsing config: %w", err)
	}
	opts.Config = path

	return opts, nil
}

// Usage writes the command line help to w.
func Usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: ejauth [flags]\n\n"+
		"Answers ejabberd external authentication requests on stdin.\n"+
		"Options are read from flags, %s* variables and --config, highest first.\n\n"+
		"Flags:\n%s", EnvPrefix, newFlagSet(Default()).FlagUsages())
}
