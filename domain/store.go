package domain

import "context"

// LocalUserStore is the engine's view of the local user store. The
// engine is the sole writer of oauth_id, oauth_data and synced_at;
// Update must apply its fields as one atomic call so an interrupted run
// never leaves a record half-written.
type LocalUserStore interface {
	// FindByEmailOrOAuthID returns the matching user, or (nil, nil)
	// when no record matches.
	FindByEmailOrOAuthID(ctx context.Context, email, oauthID string) (*LocalUser, error)
	Create(ctx context.Context, user *LocalUser) error
	// Update applies the given columns to one record atomically.
	Update(ctx context.Context, id string, fields map[string]any) error
	Count(ctx context.Context) (int64, error)
	// ChunkAll iterates the whole population in batches of batchSize,
	// fetching lazily to bound memory.
	ChunkAll(ctx context.Context, batchSize int, fn func(ctx context.Context, users []*LocalUser) error) error
	// DistinctValues returns the distinct non-empty values of a column.
	DistinctValues(ctx context.Context, column string) ([]string, error)
	// Columns reports the local schema's column names.
	Columns(ctx context.Context) ([]string, error)
}

// RoleSource abstracts where a local user's role comes from. The variant
// is selected once at configuration time instead of probed per call.
type RoleSource interface {
	// RoleOf returns the user's local role name, "" when it has none.
	RoleOf(user *LocalUser) string
	// DistinctRoles returns every distinct local role value in the
	// population, for pre-run mapping setup.
	DistinctRoles(ctx context.Context) ([]string, error)
}

// NoRoles is the RoleSource for hosts without role data.
type NoRoles struct{}

func (NoRoles) RoleOf(*LocalUser) string { return "" }

func (NoRoles) DistinctRoles(context.Context) ([]string, error) { return nil, nil }

// SingleFieldRoleSource reads the role from one local column.
type SingleFieldRoleSource struct {
	Column string
	Store  LocalUserStore
}

func (s SingleFieldRoleSource) RoleOf(user *LocalUser) string {
	v, ok := user.Fields().Get(s.Column)
	if !ok {
		return ""
	}
	return toString(v)
}

func (s SingleFieldRoleSource) DistinctRoles(ctx context.Context) ([]string, error) {
	return s.Store.DistinctValues(ctx, s.Column)
}

// RoleTableSource resolves roles through an external role table owned by
// the host application.
type RoleTableSource struct {
	// Lookup maps a user to its role name, "" when it has none.
	Lookup func(user *LocalUser) string
	// All lists every role name present in the table.
	All func(ctx context.Context) ([]string, error)
}

func (s RoleTableSource) RoleOf(user *LocalUser) string {
	if s.Lookup == nil {
		return ""
	}
	return s.Lookup(user)
}

func (s RoleTableSource) DistinctRoles(ctx context.Context) ([]string, error) {
	if s.All == nil {
		return nil, nil
	}
	return s.All(ctx)
}
