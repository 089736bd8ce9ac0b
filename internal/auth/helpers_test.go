package auth

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/backoffice/internal/db"
	"github.com/ricemill/backoffice/internal/logger"
	"github.com/ricemill/backoffice/internal/metrics"
	"github.com/ricemill/backoffice/internal/revocation"
)

const testSecret = "test-secret-that-is-at-least-32-bytes"

// testAddr is the client address login tests attempt from.
const testAddr = "192.0.2.10"

// Cheap argon2 parameters keep the suite fast.
var testArgon2 = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type memUsers struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]db.User
	byEmail map[string]uuid.UUID
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[uuid.UUID]db.User{}, byEmail: map[string]uuid.UUID{}}
}

func (m *memUsers) Create(_ context.Context, u *db.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.EmailNormalized]; ok {
		return db.ErrEmailExists
	}
	m.byID[u.ID] = *u
	m.byEmail[u.EmailNormalized] = u.ID
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	u := m.byID[id]
	return &u, nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return &u, nil
}

func (m *memUsers) update(id uuid.UUID, fn func(*db.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return db.ErrUserNotFound
	}
	fn(&u)
	m.byID[id] = u
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, id uuid.UUID, name, phone string) error {
	return m.update(id, func(u *db.User) { u.Name, u.Phone = name, phone })
}

func (m *memUsers) UpdateCredential(_ context.Context, id uuid.UUID, cred db.Credential) error {
	return m.update(id, func(u *db.User) { u.Credential = cred })
}

func (m *memUsers) ReplaceCredential(_ context.Context, id uuid.UUID, cred db.Credential) error {
	return m.update(id, func(u *db.User) {
		u.Credential = cred
		u.SessionVersion++
	})
}

func (m *memUsers) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return m.update(id, func(u *db.User) { u.IsActive = active })
}

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Output: io.Discard})
}

type testEnv struct {
	users   *memUsers
	hasher  *PasswordHasher
	creds   *CredentialStore
	store   *revocation.MemoryStore
	issuer  *Issuer
	service *Service
	metrics *metrics.Metrics
	gateway *Gateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLimit(t, 0)
}

func newTestEnvWithLimit(t *testing.T, loginsPerMinute int) *testEnv {
	t.Helper()

	hasher, err := NewPasswordHasher(AlgorithmArgon2id, testArgon2, 4)
	require.NoError(t, err)

	users := newMemUsers()
	creds, err := NewCredentialStore(users, hasher, 8, quietLogger())
	require.NoError(t, err)

	m := metrics.New()
	store := revocation.NewMemoryStore()
	issuer := NewIssuer(IssuerConfig{
		Secret:     []byte(testSecret),
		Issuer:     "test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, store, m)

	return &testEnv{
		users:   users,
		hasher:  hasher,
		creds:   creds,
		store:   store,
		issuer:  issuer,
		service: NewService(creds, issuer, loginsPerMinute, quietLogger(), m),
		metrics: m,
		gateway: NewGateway(issuer, quietLogger()),
	}
}

func (e *testEnv) mustCreate(t *testing.T, email, password, name string, role Role) *db.User {
	t.Helper()
	u, err := e.creds.CreateUser(context.Background(), email, password, name, role)
	require.NoError(t, err)
	return u
}
