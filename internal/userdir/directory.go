// Package userdir is an in-memory account directory for the authcore
// server. It implements authcore.UserLookup and authcore.AccountMutator
// and is seeded from a YAML file.
package userdir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/authcore"
)

// Entry is one account in the seed file. Password is hashed on load and is
// meant for development seeds only; production seeds carry PasswordHash.
type Entry struct {
	ID                 string   `yaml:"id"`
	Identifier         string   `yaml:"identifier"`
	Password           string   `yaml:"password"`
	PasswordHash       string   `yaml:"password_hash"`
	Roles              []string `yaml:"roles"`
	Status             string   `yaml:"status"`
	SubscriptionActive bool     `yaml:"subscription_active"`
}

type seedFile struct {
	Users []Entry `yaml:"users"`
}

// Directory is safe for concurrent use.
type Directory struct {
	mu           sync.RWMutex
	byID         map[string]authcore.UserRecord
	byIdentifier map[string]string
}

func New(users ...authcore.UserRecord) *Directory {
	d := &Directory{
		byID:         make(map[string]authcore.UserRecord, len(users)),
		byIdentifier: make(map[string]string, len(users)),
	}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Load reads a seed file. Plain passwords are hashed with hasher.
func Load(path string, hasher authcore.PasswordHasher) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("userdir: read %s: %w", path, err)
	}
	return Parse(raw, hasher)
}

func Parse(raw []byte, hasher authcore.PasswordHasher) (*Directory, error) {
	var seed seedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("userdir: decode: %w", err)
	}

	d := New()
	for i, e := range seed.Users {
		rec, err := e.record(hasher)
		if err != nil {
			return nil, fmt.Errorf("userdir: entry %d: %w", i, err)
		}
		if _, dup := d.byID[rec.UserID]; dup {
			return nil, fmt.Errorf("userdir: duplicate id %q", rec.UserID)
		}
		if _, dup := d.byIdentifier[normalize(rec.Identifier)]; dup {
			return nil, fmt.Errorf("userdir: duplicate identifier %q", rec.Identifier)
		}
		d.Put(rec)
	}
	return d, nil
}

func (e Entry) record(hasher authcore.PasswordHasher) (authcore.UserRecord, error) {
	if e.ID == "" || e.Identifier == "" {
		return authcore.UserRecord{}, errors.New("id and identifier are required")
	}
	status, err := parseStatus(e.Status)
	if err != nil {
		return authcore.UserRecord{}, err
	}

	hash := e.PasswordHash
	switch {
	case hash != "" && e.Password != "":
		return authcore.UserRecord{}, errors.New("set either password or password_hash")
	case hash == "" && e.Password != "":
		if hasher == nil {
			return authcore.UserRecord{}, errors.New("plain password needs a hasher")
		}
		if hash, err = hasher.Hash(e.Password); err != nil {
			return authcore.UserRecord{}, err
		}
	}

	return authcore.UserRecord{
		UserID:             e.ID,
		Identifier:         e.Identifier,
		PasswordHash:       hash,
		Roles:              append([]string(nil), e.Roles...),
		Status:             status,
		SubscriptionActive: e.SubscriptionActive,
	}, nil
}

func parseStatus(s string) (authcore.AccountStatus, error) {
	switch strings.ToLower(s) {
	case "", "active":
		return authcore.AccountActive, nil
	case "disabled":
		return authcore.AccountDisabled, nil
	case "deleted":
		return authcore.AccountDeleted, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

// identifiers are matched case-insensitively
func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Put inserts or replaces an account.
func (d *Directory) Put(u authcore.UserRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.byID[u.UserID]; ok {
		delete(d.byIdentifier, normalize(prev.Identifier))
	}
	d.byID[u.UserID] = u
	d.byIdentifier[normalize(u.Identifier)] = u.UserID
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

func (d *Directory) FindByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	u.Roles = append([]string(nil), u.Roles...)
	return u, nil
}

func (d *Directory) FindByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	d.mu.RLock()
	id, ok := d.byIdentifier[normalize(identifier)]
	d.mu.RUnlock()
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return d.FindByID(ctx, id)
}

func (d *Directory) ReplacePasswordHash(_ context.Context, userID, newHash string) error {
	return d.update(userID, func(u *authcore.UserRecord) { u.PasswordHash = newHash })
}

func (d *Directory) ActivateSubscription(_ context.Context, userID string) error {
	return d.update(userID, func(u *authcore.UserRecord) { u.SubscriptionActive = true })
}

func (d *Directory) update(userID string, fn func(*authcore.UserRecord)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	fn(&u)
	d.byID[userID] = u
	return nil
}
