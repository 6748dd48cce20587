package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/ejauth/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type account struct {
	password string
	active   bool
}

// memStore is an in-memory CredentialStore seeded like the fixture the
// messaging server is usually tested against.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*account
	calls    []string
	delay    map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]*account{
			"admin@localhost":  {password: "admin", active: true},
			"user01@localhost": {password: "password", active: false},
			"user02@localhost": {password: "password", active: true},
		},
		delay: map[string]time.Duration{},
	}
}

func (m *memStore) lookup(op, user, server string) *account {
	m.mu.Lock()
	m.calls = append(m.calls, op+":"+user)
	d := m.delay[op]
	m.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[user+"@"+server]
	if !ok || !acc.active {
		return nil
	}
	return acc
}

func (m *memStore) Exists(_ context.Context, user, server string) (bool, error) {
	return m.lookup("exists", user, server) != nil, nil
}

func (m *memStore) Verify(_ context.Context, user, server, password string) (bool, error) {
	acc := m.lookup("verify", user, server)
	return acc != nil && acc.password == password, nil
}

func (m *memStore) SetPassword(_ context.Context, user, server, newPassword string) (bool, error) {
	acc := m.lookup("setpass", user, server)
	if acc == nil {
		return false, nil
	}
	m.mu.Lock()
	acc.password = newPassword
	m.mu.Unlock()
	return true, nil
}

// funcStore lets a test control every store result.
type funcStore struct {
	exists  func(ctx context.Context) (bool, error)
	verify  func(ctx context.Context) (bool, error)
	setPass func(ctx context.Context) (bool, error)
}

func (f *funcStore) Exists(ctx context.Context, _, _ string) (bool, error) { return f.exists(ctx) }
func (f *funcStore) Verify(ctx context.Context, _, _, _ string) (bool, error) {
	return f.verify(ctx)
}
func (f *funcStore) SetPassword(ctx context.Context, _, _, _ string) (bool, error) {
	return f.setPass(ctx)
}

type recordingObserver struct {
	commands  []string
	results   []bool
	malformed []string
}

func (r *recordingObserver) ObserveCommand(command string, result bool, _ error, _ time.Duration) {
	r.commands = append(r.commands, command)
	r.results = append(r.results, result)
}

func (r *recordingObserver) ObserveMalformed(reason string) {
	r.malformed = append(r.malformed, reason)
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   bool
	}{
		{"auth ok", []string{"auth", "user02", "localhost", "password"}, true},
		{"auth wrong password", []string{"auth", "user02", "localhost", "WRONG"}, false},
		{"auth unknown user", []string{"auth", "User", "Server", "Password"}, false},
		{"auth inactive user", []string{"auth", "user01", "localhost", "password"}, false},
		{"auth other server", []string{"auth", "user02", "example.org", "password"}, false},
		{"isuser ok", []string{"isuser", "admin", "localhost"}, true},
		{"isuser unknown", []string{"isuser", "user_that_does_not_exist", "localhost"}, false},
		{"isuser inactive", []string{"isuser", "user01", "localhost"}, false},
		{"setpass ok", []string{"setpass", "user02", "localhost", "new_password"}, true},
		{"setpass unknown", []string{"setpass", "User", "Server", "Password"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(newMemStore())
			assert.Equal(t, tt.want, d.Dispatch(context.Background(), tt.fields))
		})
	}
}

func TestDispatch_SetPassThenAuth(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store)
	ctx := context.Background()

	require.True(t, d.Dispatch(ctx, []string{"setpass", "user02", "localhost", "new_password"}))

	ok, err := store.Verify(ctx, "user02", "localhost", "new_password")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, d.Dispatch(ctx, []string{"auth", "user02", "localhost", "password"}))
	assert.True(t, d.Dispatch(ctx, []string{"auth", "user02", "localhost", "new_password"}))
}

func TestDispatch_IsUserIdempotent(t *testing.T) {
	d := NewDispatcher(newMemStore())
	ctx := context.Background()
	for _, user := range []string{"admin", "user01", "nobody"} {
		first := d.Dispatch(ctx, []string{"isuser", user, "localhost"})
		second := d.Dispatch(ctx, []string{"isuser", user, "localhost"})
		assert.Equal(t, first, second, user)
	}
}

func TestDispatch_MalformedNeverReachesStore(t *testing.T) {
	store := newMemStore()
	obs := &recordingObserver{}
	d := NewDispatcher(store, WithObserver(obs))

	malformed := [][]string{
		nil,
		{""},
		{"tryregister", "user02", "localhost", "password"},
		{"auth", "user02", "localhost"},
		{"auth", "user02", "localhost", "pass", "word"},
		{"isuser", "admin"},
		{"setpass", "user02", "localhost"},
	}
	for _, fields := range malformed {
		assert.False(t, d.Dispatch(context.Background(), fields), "%q", fields)
	}
	assert.Empty(t, store.calls)
	assert.Equal(t, []string{
		ReasonUnknown, ReasonUnknown, ReasonUnknown,
		ReasonArity, ReasonArity, ReasonArity, ReasonArity,
	}, obs.malformed)
}

func TestDispatchPayload_InvalidUTF8(t *testing.T) {
	obs := &recordingObserver{}
	d := NewDispatcher(newMemStore(), WithObserver(obs))
	assert.False(t, d.DispatchPayload(context.Background(), []byte("isuser:\xff:localhost")))
	assert.Equal(t, []string{ReasonEncoding}, obs.malformed)
}

func TestDispatch_StoreFailuresFailClosed(t *testing.T) {
	boom := errors.New("database is down")
	tests := []struct {
		name  string
		store *funcStore
	}{
		{
			name: "error with true",
			store: &funcStore{
				exists:  func(context.Context) (bool, error) { return true, boom },
				verify:  func(context.Context) (bool, error) { return true, boom },
				setPass: func(context.Context) (bool, error) { return true, boom },
			},
		},
		{
			name: "panic",
			store: &funcStore{
				exists:  func(context.Context) (bool, error) { panic("nil map") },
				verify:  func(context.Context) (bool, error) { panic("nil map") },
				setPass: func(context.Context) (bool, error) { panic("nil map") },
			},
		},
	}
	commands := [][]string{
		{"auth", "u", "s", "p"},
		{"isuser", "u", "s"},
		{"setpass", "u", "s", "p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			d := NewDispatcher(tt.store, WithObserver(obs))
			for _, fields := range commands {
				assert.False(t, d.Dispatch(context.Background(), fields), "%q", fields)
			}
			assert.Equal(t, []string{"auth", "isuser", "setpass"}, obs.commands)
			assert.Equal(t, []bool{false, false, false}, obs.results)
		})
	}
}

func TestDispatch_StoreTimeout(t *testing.T) {
	slow := func(ctx context.Context) (bool, error) {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(time.Second):
			return true, nil
		}
	}
	d := NewDispatcher(&funcStore{exists: slow, verify: slow, setPass: slow}, WithStoreTimeout(20*time.Millisecond))

	start := time.Now()
	assert.False(t, d.Dispatch(context.Background(), []string{"isuser", "u", "s"}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatch_LogsNeverContainPasswords(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	boom := errors.New("boom")
	store := &funcStore{
		verify:  func(context.Context) (bool, error) { return false, boom },
		setPass: func(context.Context) (bool, error) { return true, nil },
	}
	d := NewDispatcher(store, WithLogger(zap.New(core)))
	ctx := context.Background()

	d.Dispatch(ctx, []string{"auth", "user02", "localhost", "s3cret-one"})
	d.Dispatch(ctx, []string{"setpass", "user02", "localhost", "s3cret-two"})
	d.Dispatch(ctx, []string{"auth", "user02", "localhost", "s3cret", "three"})

	require.Equal(t, 3, logs.Len())
	for _, entry := range logs.All() {
		for _, field := range entry.Context {
			assert.NotContains(t, field.String, "s3cret")
			if s, ok := field.Interface.(proto.Command); ok {
				assert.NotContains(t, s.String(), "s3cret")
			}
		}
	}
	assert.Equal(t, 1, logs.FilterMessage("credential store failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("rejecting command").Len())
}
