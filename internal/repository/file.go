package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atinyakov/ejauth/internal/models"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// fileUser is the on-disk form of an account.
type fileUser struct {
	ID           string    `yaml:"id"`
	Username     string    `yaml:"username"`
	Server       string    `yaml:"server"`
	PasswordHash string    `yaml:"password_hash"`
	Active       bool      `yaml:"active"`
	CreatedAt    time.Time `yaml:"created_at"`
}

type usersFile struct {
	Users []fileUser `yaml:"users"`
}

type userKey struct {
	username string
	server   string
}

// lockRetry is the polling interval while waiting for the file lock.
const lockRetry = 10 * time.Millisecond

// FileUserRepository keeps accounts in a YAML file shared by every bridge
// process pointed at the same path.
//
// Each operation holds an flock on "<path>.lock": shared for reads,
// exclusive for read-modify-write. The in-memory copy is reloaded whenever
// the file was replaced since it was last read. Mutations rewrite the file
// through a temporary file and a rename.
type FileUserRepository struct {
	path string
	lock *flock.Flock
	// mu serialises goroutines; the flock only excludes other processes.
	mu    sync.Mutex
	users map[userKey]fileUser
	// order preserves the file's account order across rewrites.
	order []userKey
	// info describes the file users was read from; nil forces a reload.
	info os.FileInfo
}

// NewFileUserRepository loads path. A missing file starts an empty store
// that is created on the first write.
func NewFileUserRepository(path string) (*FileUserRepository, error) {
	r := &FileUserRepository{
		path:  path,
		lock:  flock.New(path + ".lock"),
		users: make(map[userKey]fileUser),
	}
	if err := r.withLock(context.Background(), false, func() error { return nil }); err != nil {
		return nil, err
	}
	return r, nil
}

// withLock runs fn on an up-to-date copy of the file.
func (r *FileUserRepository) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	try := r.lock.TryRLockContext
	if exclusive {
		try = r.lock.TryLockContext
	}
	locked, err := try(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock users file: %w", err)
	}
	if !locked {
		return errors.New("lock users file: not acquired")
	}
	defer r.lock.Unlock()

	if err := r.refresh(); err != nil {
		return fmt.Errorf("load users file: %w", err)
	}
	return fn()
}

// refresh rereads the file if it changed since the last read. The caller
// holds the file lock.
func (r *FileUserRepository) refresh() error {
	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.users, r.order, r.info = make(map[userKey]fileUser), nil, nil
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if r.info != nil && os.SameFile(r.info, info) &&
		info.ModTime().Equal(r.info.ModTime()) && info.Size() == r.info.Size() {
		return nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	users, order, err := r.parse(data)
	if err != nil {
		return err
	}
	r.users, r.order, r.info = users, order, info
	return nil
}

func (r *FileUserRepository) parse(data []byte) (map[userKey]fileUser, []userKey, error) {
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	users := make(map[userKey]fileUser, len(f.Users))
	order := make([]userKey, 0, len(f.Users))
	for _, u := range f.Users {
		k := userKey{u.Username, u.Server}
		if _, dup := users[k]; dup {
			return nil, nil, fmt.Errorf("parse %s: duplicate account %s@%s", r.path, u.Username, u.Server)
		}
		users[k] = u
		order = append(order, k)
	}
	return users, order, nil
}

// save writes the in-memory accounts back. The caller holds the exclusive
// file lock. On failure the in-memory copy is discarded so the next
// operation rereads the file.
func (r *FileUserRepository) save() error {
	if err := r.write(); err != nil {
		r.info = nil
		return err
	}
	info, err := os.Stat(r.path)
	if err != nil {
		r.info = nil
		return nil
	}
	r.info = info
	return nil
}

func (r *FileUserRepository) write() error {
	f := usersFile{Users: make([]fileUser, 0, len(r.order))}
	for _, k := range r.order {
		f.Users = append(f.Users, r.users[k])
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".users-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace users file: %w", err)
	}
	return nil
}

// GetUser loads the account username@server.
func (r *FileUserRepository) GetUser(ctx context.Context, username, server string) (*models.User, error) {
	var found *models.User
	err := r.withLock(ctx, false, func() error {
		u, ok := r.users[userKey{username, server}]
		if !ok {
			return ErrUserNotFound
		}
		found = &models.User{
			ID:           u.ID,
			Username:     u.Username,
			Server:       u.Server,
			PasswordHash: []byte(u.PasswordHash),
			Active:       u.Active,
			CreatedAt:    u.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// CreateUser adds a new account and persists the file.
func (r *FileUserRepository) CreateUser(ctx context.Context, u models.User) error {
	return r.withLock(ctx, true, func() error {
		k := userKey{u.Username, u.Server}
		if _, ok := r.users[k]; ok {
			return ErrUserExists
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		r.users[k] = fileUser{
			ID:           u.ID,
			Username:     u.Username,
			Server:       u.Server,
			PasswordHash: string(u.PasswordHash),
			Active:       u.Active,
			CreatedAt:    u.CreatedAt,
		}
		r.order = append(r.order, k)
		return r.save()
	})
}

// UpdatePassword replaces the hash of an active account and persists the
// file. Disabled and unknown accounts are left untouched.
func (r *FileUserRepository) UpdatePassword(ctx context.Context, username, server string, hash []byte) (bool, error) {
	return r.update(ctx, username, server, func(u *fileUser) bool {
		if !u.Active {
			return false
		}
		u.PasswordHash = string(hash)
		return true
	})
}

// SetActive enables or disables an account and persists the file.
func (r *FileUserRepository) SetActive(ctx context.Context, username, server string, active bool) (bool, error) {
	return r.update(ctx, username, server, func(u *fileUser) bool {
		u.Active = active
		return true
	})
}

// update applies mutate under the exclusive lock; mutate returning false
// leaves the file unchanged.
func (r *FileUserRepository) update(ctx context.Context, username, server string, mutate func(*fileUser) bool) (bool, error) {
	var updated bool
	err := r.withLock(ctx, true, func() error {
		k := userKey{username, server}
		u, ok := r.users[k]
		if !ok || !mutate(&u) {
			return nil
		}
		r.users[k] = u
		if err := r.save(); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}
