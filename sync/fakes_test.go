package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/aanfarhan/sso-sync/directory"
	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/errors"
)

// --- Mock directory ---

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) SearchUsers(ctx context.Context, filters directory.Filters) (*directory.UserPage, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*directory.UserPage), args.Error(1)
}

func (m *MockDirectory) FindUserByEmailOrUsername(ctx context.Context, email, username string) (domain.RemoteUser, error) {
	args := m.Called(ctx, email, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.RemoteUser), args.Error(1)
}

func (m *MockDirectory) CreateUser(ctx context.Context, payload map[string]any) *directory.MutationResult {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*directory.MutationResult)
}

func (m *MockDirectory) UpdateUser(ctx context.Context, id string, payload map[string]any) *directory.MutationResult {
	args := m.Called(ctx, id, payload)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*directory.MutationResult)
}

func (m *MockDirectory) GetRoles(ctx context.Context) ([]domain.Role, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Role), args.Error(1)
}

func (m *MockDirectory) GetMe(ctx context.Context, token string) (domain.RemoteUser, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.RemoteUser), args.Error(1)
}

// --- In-memory local store ---

// memStore is a deterministic LocalUserStore for tests. Updates are
// tracked so assertions can inspect exactly what was written.
type memStore struct {
	users   []*domain.LocalUser
	columns []string
	nextID  int

	updates map[string][]map[string]any
}

func newMemStore(columns []string, users ...*domain.LocalUser) *memStore {
	s := &memStore{
		columns: columns,
		nextID:  1,
		updates: make(map[string][]map[string]any),
	}
	for _, u := range users {
		if u.ID == "" {
			u.ID = strconv.Itoa(s.nextID)
		}
		s.nextID++
		s.users = append(s.users, u)
	}
	return s
}

func (s *memStore) FindByEmailOrOAuthID(_ context.Context, email, oauthID string) (*domain.LocalUser, error) {
	for _, u := range s.users {
		if (email != "" && strings.EqualFold(u.Email, email)) || (oauthID != "" && u.OAuthID == oauthID) {
			return u, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(_ context.Context, user *domain.LocalUser) error {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return errors.NewDataIntegrityError("duplicate email", nil)
		}
	}
	if user.ID == "" {
		user.ID = strconv.Itoa(s.nextID)
		s.nextID++
	}
	s.users = append(s.users, user)
	return nil
}

func (s *memStore) Update(_ context.Context, id string, fields map[string]any) error {
	for _, u := range s.users {
		if u.ID == id {
			snapshot := make(map[string]any, len(fields))
			for k, v := range fields {
				snapshot[k] = v
				u.SetField(k, v)
			}
			s.updates[id] = append(s.updates[id], snapshot)
			return nil
		}
	}
	return fmt.Errorf("no user with id %s", id)
}

func (s *memStore) Count(context.Context) (int64, error) {
	return int64(len(s.users)), nil
}

func (s *memStore) ChunkAll(ctx context.Context, batchSize int, fn func(ctx context.Context, users []*domain.LocalUser) error) error {
	for start := 0; start < len(s.users); start += batchSize {
		end := start + batchSize
		if end > len(s.users) {
			end = len(s.users)
		}
		if err := fn(ctx, s.users[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) DistinctValues(_ context.Context, column string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, u := range s.users {
		v, ok := u.Fields().Get(column)
		if !ok {
			continue
		}
		str := domain.ValueString(v)
		if str == "" || seen[str] {
			continue
		}
		seen[str] = true
		out = append(out, str)
	}
	return out, nil
}

func (s *memStore) Columns(context.Context) ([]string, error) {
	return s.columns, nil
}

// updateCount returns how many Update calls hit the given user.
func (s *memStore) updateCount(id string) int {
	return len(s.updates[id])
}

var _ domain.LocalUserStore = (*memStore)(nil)

// standardColumns is a typical host schema: standard fields plus a few
// host-only columns.
func standardColumns() []string {
	return []string{
		"id", "email", "username", "name", "password", "phone",
		"oauth_id", "oauth_data", "synced_at", "is_active",
		"created_at", "updated_at", "nik", "alamat",
	}
}

// expectSample wires the classification sample search that every engine
// path performs once.
func expectSample(dir *MockDirectory, sample domain.RemoteUser) {
	page := &directory.UserPage{}
	if sample != nil {
		page.Data = []domain.RemoteUser{sample}
	}
	dir.On("SearchUsers", mock.Anything, directory.Filters{"limit": "1"}).Return(page, nil).Maybe()
}
