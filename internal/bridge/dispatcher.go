package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/ejauth/internal/proto"
	"go.uber.org/zap"
)

// ErrStorePanic wraps a panic recovered from a CredentialStore call.
var ErrStorePanic = errors.New("bridge: credential store panicked")

// Malformed-frame reasons reported to the Observer.
const (
	ReasonEncoding = "encoding"
	ReasonUnknown  = "unknown_command"
	ReasonArity    = "arity"
)

// Dispatcher maps a parsed command to a CredentialStore call. It holds no
// per-request state; every call stands alone.
//
// Dispatch never fails: malformed commands, store errors, store panics and
// store timeouts all resolve to false.
type Dispatcher struct {
	store    CredentialStore
	log      *zap.Logger
	observer Observer
	timeout  time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used for malformed commands and store failures.
func WithLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithObserver sets the metrics sink.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithStoreTimeout sets a deadline on the context of each store call. Zero
// disables it. Only work that honours the context is cut short: a store
// blocked on a database query returns at the deadline, but bcrypt hashing
// and comparison run to completion, so their duration is bounded by the
// bcrypt cost instead.
func WithStoreTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher returns a Dispatcher backed by store.
func NewDispatcher(store CredentialStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		log:      zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchPayload parses a raw frame payload and dispatches it.
func (d *Dispatcher) DispatchPayload(ctx context.Context, payload []byte) bool {
	fields, err := proto.ParseCommand(payload)
	if err != nil {
		d.log.Warn("rejecting frame", zap.Int("bytes", len(payload)), zap.Error(err))
		d.observer.ObserveMalformed(ReasonEncoding)
		return false
	}
	return d.Dispatch(ctx, fields)
}

// Dispatch runs the command described by fields and returns its outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, fields []string) bool {
	cmd, err := proto.NewCommand(fields)
	if err != nil {
		reason := ReasonUnknown
		if errors.Is(err, proto.ErrArity) {
			reason = ReasonArity
		}
		// fields may carry a password; only the name and count are logged.
		name := ""
		if len(fields) > 0 {
			name = fields[0]
		}
		d.log.Warn("rejecting command",
			zap.String("name", name),
			zap.Int("fields", len(fields)),
			zap.String("reason", reason),
		)
		d.observer.ObserveMalformed(reason)
		return false
	}

	start := time.Now()
	ok, err := d.call(ctx, cmd)
	elapsed := time.Since(start)
	d.observer.ObserveCommand(string(cmd.Name), ok && err == nil, err, elapsed)

	if err != nil {
		d.log.Error("credential store failed",
			zap.Stringer("command", cmd),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return false
	}
	d.log.Debug("command handled",
		zap.Stringer("command", cmd),
		zap.Bool("result", ok),
		zap.Duration("elapsed", elapsed),
	)
	return ok
}

func (d *Dispatcher) call(ctx context.Context, cmd proto.Command) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%w: %v", ErrStorePanic, r)
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	switch cmd.Name {
	case proto.CmdAuth:
		return d.store.Verify(ctx, cmd.User, cmd.Server, cmd.Password)
	case proto.CmdIsUser:
		return d.store.Exists(ctx, cmd.User, cmd.Server)
	case proto.CmdSetPass:
		return d.store.SetPassword(ctx, cmd.User, cmd.Server, cmd.Password)
	default:
		return false, fmt.Errorf("%w: %q", proto.ErrUnknownCommand, cmd.Name)
	}
}
