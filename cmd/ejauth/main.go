// Package main is the external authentication program spawned by ejabberd.
//
// It reads length-prefixed requests on stdin and writes one boolean reply
// per request on stdout. Logs go to stderr or a file; stdout carries nothing
// but reply frames.
package main

import (
	"bufio"
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atinyakov/ejauth/internal/bridge"
	"github.com/atinyakov/ejauth/internal/config"
	"github.com/atinyakov/ejauth/internal/db"
	"github.com/atinyakov/ejauth/internal/logger"
	"github.com/atinyakov/ejauth/internal/metrics"
	"github.com/atinyakov/ejauth/internal/proto"
	"github.com/atinyakov/ejauth/internal/repository"
	"github.com/atinyakov/ejauth/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			config.Usage(os.Stderr)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "ejauth: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	options, err := config.Parse(args)
	if err != nil {
		return err
	}
	if err := options.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New()
	if err := log.Init(options.LogLevel, options.LogFile); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	mode := bridge.ModeContinuous
	if options.Once {
		mode = bridge.ModeOnce
	}
	zapLogger.Info("starting ejauth",
		zap.String("version", cmp.Or(version, "N/A")),
		zap.String("build_date", cmp.Or(buildDate, "N/A")),
		zap.String("store", options.Store),
		zap.Stringer("mode", mode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, options)
	if err != nil {
		zapLogger.Error("cannot init credential store", zap.Error(err))
		return err
	}
	defer func() { err = multierr.Append(err, b.Close()) }()

	svcOpts := []service.Option{
		service.WithBcryptCost(options.BcryptCost),
		service.WithLogger(zapLogger),
	}
	if b.events != nil {
		svcOpts = append(svcOpts, service.WithEvents(b.events))
		db.StartAuditCleaner(ctx, b.events, options.CleanupInterval, options.AuditRetention, zapLogger)
	}
	authService := service.NewAuthService(b.users, svcOpts...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("ejauth", registry)

	dispatcher := bridge.NewDispatcher(authService,
		bridge.WithLogger(zapLogger),
		bridge.WithObserver(collector),
		bridge.WithStoreTimeout(options.StoreTimeout),
	)

	if options.AdminAddr != "" {
		admin, adminErr := startAdmin(options, authService, registry, zapLogger)
		if adminErr != nil {
			zapLogger.Error("cannot start admin API", zap.Error(adminErr))
			return adminErr
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = multierr.Append(err, admin.Shutdown(shutdownCtx))
		}()
	}

	// Closing stdin unblocks a pending read once a signal arrives.
	go func() {
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()

	session := bridge.NewSession(bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout), dispatcher, zapLogger)
	return sessionResult(ctx, session.Serve(ctx, mode), zapLogger)
}

// sessionResult maps the end of a session to the process result. End of
// input, a truncated final frame and shutdown by signal are normal exits.
func sessionResult(ctx context.Context, err error, log *zap.Logger) error {
	switch {
	case err == nil:
		log.Info("session finished")
		return nil
	case errors.Is(err, proto.ErrTruncatedFrame):
		log.Info("session finished on truncated frame", zap.Error(err))
		return nil
	case ctx.Err() != nil:
		log.Info("session interrupted", zap.Error(ctx.Err()))
		return nil
	default:
		log.Error("session failed", zap.Error(err))
		return fmt.Errorf("transport: %w", err)
	}
}

// backend bundles the user store and, for SQL stores, the audit trail and
// the connection pool behind them.
type backend struct {
	users  service.UserRepository
	events *repository.SQLEventRepository
	conn   *sql.DB
}

func openBackend(ctx context.Context, options *config.Options) (*backend, error) {
	if options.Store == config.StoreFile {
		users, err := repository.NewFileUserRepository(options.UsersFile)
		if err != nil {
			return nil, err
		}
		return &backend{users: users}, nil
	}

	conn, err := db.Open(ctx, options.Store, options.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return &backend{
		users:  repository.NewSQLUserRepository(conn),
		events: repository.NewSQLEventRepository(conn),
		conn:   conn,
	}, nil
}

// Close releases the connection pool, if any.
func (b *backend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
