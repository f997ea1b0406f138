package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/limiter"
	"github.com/and161185/authserver/internal/model"
	"github.com/and161185/authserver/internal/repository"
)

/************ roles ************/

type fakeRoles struct {
	mu       sync.Mutex
	byName   map[string]*model.Role
	assigned map[uuid.UUID][]uuid.UUID // user -> roles

	createErr error
}

var _ repository.RoleRepository = (*fakeRoles)(nil)

func newFakeRoles() *fakeRoles {
	return &fakeRoles{byName: map[string]*model.Role{}, assigned: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeRoles) Create(_ context.Context, r *model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byName[r.Name]; ok {
		return errs.ErrConflict
	}
	r.CreatedAt = time.Now()
	c := r.Clone()
	f.byName[r.Name] = &c
	return nil
}

func (f *fakeRoles) GetByName(_ context.Context, name string) (*model.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byName[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (f *fakeRoles) UpdatePermissions(_ context.Context, name string, patch map[string]model.AccessPolicy) (*model.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byName[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	for alias := range patch {
		if _, ok := r.Permissions[alias]; !ok {
			return nil, errs.ErrNotFound
		}
	}
	for alias, p := range patch {
		r.Permissions[alias] = p
	}
	c := r.Clone()
	return &c, nil
}

func (f *fakeRoles) DeleteByName(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byName[name]
	if !ok {
		return errs.ErrNotFound
	}
	delete(f.byName, name)
	for u, ids := range f.assigned {
		kept := ids[:0]
		for _, id := range ids {
			if id != r.ID {
				kept = append(kept, id)
			}
		}
		f.assigned[u] = kept
	}
	return nil
}

func (f *fakeRoles) Permissions(_ context.Context, roleID uuid.UUID) (map[string]model.AccessPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.byName {
		if r.ID == roleID {
			return r.Clone().Permissions, nil
		}
	}
	return map[string]model.AccessPolicy{}, nil
}

func (f *fakeRoles) EnsureOperations(_ context.Context, ops []model.Operation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.byName {
		for _, op := range ops {
			if _, ok := r.Permissions[op.Alias]; !ok {
				r.Permissions[op.Alias] = op.Default
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeRoles) Assign(_ context.Context, userID uuid.UUID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byName[roleName]
	if !ok {
		return errs.ErrNotFound
	}
	for _, id := range f.assigned[userID] {
		if id == r.ID {
			return nil
		}
	}
	f.assigned[userID] = append(f.assigned[userID], r.ID)
	return nil
}

/************ tokens ************/

type fakeTokens struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Token

	replaceErr error
}

var _ repository.TokenRepository = (*fakeTokens)(nil)

func newFakeTokens() *fakeTokens { return &fakeTokens{rows: map[uuid.UUID]model.Token{}} }

func (f *fakeTokens) Replace(_ context.Context, t *model.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	for id, row := range f.rows {
		if row.UserID == t.UserID {
			delete(f.rows, id)
		}
	}
	f.rows[t.ID] = *t
	return nil
}

func (f *fakeTokens) find(match func(model.Token) bool) (*model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if match(row) {
			c := row
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeTokens) GetByToken(_ context.Context, token string) (*model.Token, error) {
	return f.find(func(t model.Token) bool { return t.Token == token })
}

func (f *fakeTokens) GetByRefreshToken(_ context.Context, refresh string) (*model.Token, error) {
	return f.find(func(t model.Token) bool { return t.RefreshToken == refresh })
}

func (f *fakeTokens) GetByUserID(_ context.Context, userID uuid.UUID) (*model.Token, error) {
	return f.find(func(t model.Token) bool { return t.UserID == userID })
}

func (f *fakeTokens) Rotate(_ context.Context, id uuid.UUID, refresh, next string, validity time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.RefreshToken != refresh {
		return errs.ErrNotFound
	}
	row.Token = next
	row.TokenValidity = validity
	f.rows[id] = row
	return nil
}

func (f *fakeTokens) DeleteByID(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeTokens) DeleteByUserID(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rows {
		if row.UserID == userID {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeTokens) DeleteRefreshExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, row := range f.rows {
		if row.RefreshTokenValidity.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

/************ users / licenses / limiter ************/

type fakeUsers struct {
	byID map[uuid.UUID]*model.User
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) add(u model.User) *model.User {
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.User{}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV4())
	}
	f.byID[u.ID] = &u
	return &u
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, name string) (*model.User, error) {
	for _, u := range f.byID {
		if u.Username == name {
			c := *u
			c.Roles = nil
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByIdentifier(_ context.Context, ident string) (*model.User, error) {
	for _, u := range f.byID {
		if ident == u.ID.String() || ident == u.Username || (u.Email != "" && ident == u.Email) {
			c := *u
			c.Roles = nil
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

type fakeLicenses struct {
	byUser map[uuid.UUID]model.License
	putErr error
}

var _ repository.LicenseRepository = (*fakeLicenses)(nil)

func (f *fakeLicenses) GetByDigest(_ context.Context, digest []byte) (*model.License, error) {
	for _, l := range f.byUser {
		if string(l.Digest) == string(digest) {
			c := l
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeLicenses) Put(_ context.Context, l *model.License) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.byUser == nil {
		f.byUser = map[uuid.UUID]model.License{}
	}
	f.byUser[l.UserID] = *l
	return nil
}

type fakeLimiter struct {
	allowLeft time.Duration
	allowErr  error
	failLeft  time.Duration

	allowCalls, failCalls, resetCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, limiter.Key) (time.Duration, error) {
	l.allowCalls++
	return l.allowLeft, l.allowErr
}

func (l *fakeLimiter) Reset(context.Context, limiter.Key) error {
	l.resetCalls++
	return nil
}

func (l *fakeLimiter) Fail(context.Context, limiter.Key) (time.Duration, error) {
	l.failCalls++
	return l.failLeft, nil
}

/************ clock ************/

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
