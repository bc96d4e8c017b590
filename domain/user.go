package domain

import (
	"sort"
	"time"
)

// LocalUser is a record in the local user store. Beyond the standard
// columns it carries an open set of host-specific columns in Extra
// (role codes, addresses, jurisdiction codes and the like) that the
// remote directory knows nothing about.
type LocalUser struct {
	ID           string         `bson:"_id,omitempty"`
	Email        string         `bson:"email"`
	Username     string         `bson:"username,omitempty"`
	Name         string         `bson:"name,omitempty"`
	PasswordHash string         `bson:"password,omitempty"`
	OAuthID      string         `bson:"oauth_id,omitempty"`
	OAuthData    map[string]any `bson:"oauth_data,omitempty"`
	SyncedAt     *time.Time     `bson:"synced_at,omitempty"`
	IsActive     bool           `bson:"is_active"`
	CreatedAt    time.Time      `bson:"created_at,omitempty"`
	UpdatedAt    time.Time      `bson:"updated_at,omitempty"`
	Extra        map[string]any `bson:",inline"`
}

// Standard column names shared between the typed struct and the
// field-map view. Cross-cutting field lists (classifier, conflict
// detection, payload building) always operate over these names.
const (
	ColID            = "id"
	ColEmail         = "email"
	ColUsername      = "username"
	ColName          = "name"
	ColPassword      = "password"
	ColOAuthID       = "oauth_id"
	ColOAuthData     = "oauth_data"
	ColSyncedAt      = "synced_at"
	ColIsActive      = "is_active"
	ColCreatedAt     = "created_at"
	ColUpdatedAt     = "updated_at"
	ColRememberToken = "remember_token"
	ColDeletedAt     = "deleted_at"
)

// Fields returns the field-map view of the user: standard columns first
// in a fixed order, then Extra columns sorted by name.
func (u *LocalUser) Fields() *FieldMap {
	m := NewFieldMap()
	m.Set(ColID, u.ID)
	m.Set(ColEmail, u.Email)
	m.Set(ColUsername, u.Username)
	m.Set(ColName, u.Name)
	m.Set(ColPassword, u.PasswordHash)
	m.Set(ColOAuthID, u.OAuthID)
	m.Set(ColOAuthData, u.OAuthData)
	m.Set(ColSyncedAt, u.SyncedAt)
	m.Set(ColIsActive, u.IsActive)
	m.Set(ColCreatedAt, u.CreatedAt)
	m.Set(ColUpdatedAt, u.UpdatedAt)

	extra := make([]string, 0, len(u.Extra))
	for k := range u.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		m.Set(k, u.Extra[k])
	}
	return m
}

// SetField writes a single column back onto the typed struct. Unknown
// columns land in Extra.
func (u *LocalUser) SetField(name string, value any) {
	switch name {
	case ColID:
		u.ID = toString(value)
	case ColEmail:
		u.Email = toString(value)
	case ColUsername:
		u.Username = toString(value)
	case ColName:
		u.Name = toString(value)
	case ColPassword:
		u.PasswordHash = toString(value)
	case ColOAuthID:
		u.OAuthID = toString(value)
	case ColOAuthData:
		if m, ok := value.(map[string]any); ok {
			u.OAuthData = m
		}
	case ColSyncedAt:
		u.SyncedAt = toTimePtr(value)
	case ColIsActive:
		if b, ok := value.(bool); ok {
			u.IsActive = b
		}
	case ColCreatedAt:
		if t := toTimePtr(value); t != nil {
			u.CreatedAt = *t
		}
	case ColUpdatedAt:
		if t := toTimePtr(value); t != nil {
			u.UpdatedAt = *t
		}
	default:
		if u.Extra == nil {
			u.Extra = make(map[string]any)
		}
		u.Extra[name] = value
	}
}

// Columns returns the column names present on this record, in field-map
// order.
func (u *LocalUser) Columns() []string {
	return u.Fields().Names()
}

// FieldMap is an explicit ordered string-keyed mapping of column name to
// value. It is the view the classifier, the conflict detector and the
// payload builder exchange instead of reading struct fields by name.
type FieldMap struct {
	names  []string
	values map[string]any
}

// NewFieldMap returns an empty field map.
func NewFieldMap() *FieldMap {
	return &FieldMap{values: make(map[string]any)}
}

// Set stores a value, appending the name on first write so iteration
// order is insertion order.
func (m *FieldMap) Set(name string, value any) {
	if _, ok := m.values[name]; !ok {
		m.names = append(m.names, name)
	}
	m.values[name] = value
}

// Get returns the value for name and whether it is present.
func (m *FieldMap) Get(name string) (any, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Names returns the column names in insertion order.
func (m *FieldMap) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Len returns the number of entries.
func (m *FieldMap) Len() int { return len(m.names) }
