package sync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/errors"
	"github.com/aanfarhan/sso-sync/log"
)

// AuthenticatedUser is the identity handed over by the login callback:
// the token payload plus the bearer token itself, used for the enhanced
// self lookup.
type AuthenticatedUser struct {
	ID       string
	Email    string
	Name     string
	Nickname string
	Avatar   string
	Token    string
	Raw      map[string]any
}

// uuidColumnNames are surrogate-identifier columns that get a fresh v4
// UUID during local provisioning when the remote payload does not
// supply one. Such columns typically carry non-null and uniqueness
// constraints.
var uuidColumnNames = []string{"uuid", "user_uuid", "guid", "user_guid"}

// LoginSync reconciles a single authenticated user at callback time. It
// reuses the engine's classification and staleness rules but is scoped
// to one user and one token.
type LoginSync struct {
	store      domain.LocalUserStore
	dir        Directory
	classifier Classifier
	opts       Options
	logger     log.Logger
}

// NewLoginSync creates the login-time sync variant.
func NewLoginSync(store domain.LocalUserStore, dir Directory, opts Options, logger log.Logger) *LoginSync {
	if logger == nil {
		logger = log.Nop()
	}
	return &LoginSync{
		store:      store,
		dir:        dir,
		classifier: Classifier{PreservedOverrides: opts.PreservedOverrides},
		opts:       opts,
		logger:     logger,
	}
}

// SyncFromLogin finds or creates the local record for an authenticated
// user and reconciles it with the remote payload. Remote data is
// enriched through the self endpoint when the token allows it.
func (s *LoginSync) SyncFromLogin(ctx context.Context, au AuthenticatedUser) (*domain.LocalUser, error) {
	remote := s.remoteData(ctx, au)

	user, err := s.store.FindByEmailOrOAuthID(ctx, remote.Email(), remote.ID())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return s.provisionLocal(ctx, remote)
	}
	return s.updateLocal(ctx, user, remote)
}

// remoteData prefers the enhanced self payload; the token's own fields
// are the fallback when the lookup degrades.
func (s *LoginSync) remoteData(ctx context.Context, au AuthenticatedUser) domain.RemoteUser {
	if au.Token != "" {
		if enhanced, _ := s.dir.GetMe(ctx, au.Token); enhanced != nil {
			return enhanced
		}
	}

	username := au.Nickname
	if username == "" {
		username = au.Email
	}
	// The raw OAuth payload seeds the record so extra provider fields
	// survive into oauth_data; the typed fields win where both exist.
	remote := make(domain.RemoteUser, len(au.Raw)+5)
	for k, v := range au.Raw {
		remote[k] = v
	}
	remote["id"] = au.ID
	remote["email"] = au.Email
	remote["name"] = au.Name
	remote["username"] = username
	remote["avatar"] = au.Avatar
	return remote
}

// updateLocal syncs an existing local record at login time. With no
// reliable equality signal for remotely-hashed data, the side with the
// later modification timestamp wins; a record never synced before takes
// remote data unconditionally; missing timestamps on either side mean a
// conservative no-op on the profile fields. The oauth linkage columns
// are engine-owned and always refreshed.
func (s *LoginSync) updateLocal(ctx context.Context, user *domain.LocalUser, remote domain.RemoteUser) (*domain.LocalUser, error) {
	now := time.Now().UTC()
	update := map[string]any{
		domain.ColOAuthID:   remote.ID(),
		domain.ColOAuthData: map[string]any(remote),
		domain.ColSyncedAt:  now,
	}

	if s.remoteWins(user, remote) {
		columns, err := s.store.Columns(ctx)
		if err != nil {
			return nil, err
		}
		cls := s.classifier.ClassifyForRecord(columns, remote)
		for _, field := range cls.Syncable {
			if field == domain.ColPassword {
				continue
			}
			update[field] = remote[field]
		}
	}

	if err := s.store.Update(ctx, user.ID, update); err != nil {
		return nil, err
	}
	for field, value := range update {
		user.SetField(field, value)
	}
	s.logger.Info(ctx, "existing user synced from login", map[string]any{
		"user_id": user.ID, "oauth_id": remote.ID(),
	})
	return user, nil
}

// remoteWins applies the login-time staleness heuristic.
func (s *LoginSync) remoteWins(user *domain.LocalUser, remote domain.RemoteUser) bool {
	// First sync: remote is authoritative.
	if user.SyncedAt == nil {
		return true
	}
	remoteUpdated := remote.UpdatedAt()
	if remoteUpdated == nil || user.UpdatedAt.IsZero() {
		// No usable timestamps: do not update.
		return false
	}
	return remoteUpdated.After(user.UpdatedAt)
}

// provisionLocal creates a local record from a remote login with no
// local counterpart, filling columns the remote payload cannot satisfy.
func (s *LoginSync) provisionLocal(ctx context.Context, remote domain.RemoteUser) (*domain.LocalUser, error) {
	now := time.Now().UTC()
	user := &domain.LocalUser{
		Email:     remote.Email(),
		Username:  remote.Username(),
		Name:      remote.Name(),
		OAuthID:   remote.ID(),
		OAuthData: map[string]any(remote),
		SyncedAt:  &now,
		IsActive:  true,
		Extra:     make(map[string]any),
	}
	if user.Username == "" {
		user.Username = user.Email
	}

	columns, err := s.store.Columns(ctx)
	if err != nil {
		return nil, err
	}
	cls := s.classifier.ClassifyForRecord(columns, remote)
	for _, field := range cls.Syncable {
		if field == domain.ColPassword {
			continue
		}
		user.SetField(field, remote[field])
	}
	s.fillDefaults(user, remote, columns)

	if err := s.store.Create(ctx, user); err != nil {
		if !errors.IsDataIntegrityError(err) {
			return nil, err
		}
		// Lost a race with another writer: fall back to updating the
		// record that beat us.
		s.logger.Warn(ctx, "local create hit a constraint, retrying as update", map[string]any{
			"email": user.Email, "error": err.Error(),
		})
		existing, ferr := s.store.FindByEmailOrOAuthID(ctx, user.Email, user.OAuthID)
		if ferr != nil || existing == nil {
			return nil, err
		}
		return s.updateLocal(ctx, existing, remote)
	}

	s.logger.Info(ctx, "new user created from login", map[string]any{
		"user_id": user.ID, "oauth_id": user.OAuthID, "default_role": s.opts.DefaultRole,
	})
	return user, nil
}

// fillDefaults gives every local column lacking a value after merge a
// best-effort default: fresh v4 UUIDs for surrogate-id columns, true
// for the activity flag, first/last name split from the full name, the
// host-supplied default map for anything it covers, null otherwise.
func (s *LoginSync) fillDefaults(user *domain.LocalUser, remote domain.RemoteUser, columns []string) {
	first, last := splitName(user.Name)
	fields := user.Fields()

	for _, column := range columns {
		if v, ok := fields.Get(column); ok && v != nil && domain.ValueString(v) != "" {
			continue
		}
		if remote.Has(column) {
			continue
		}

		switch {
		case isUUIDColumn(column):
			user.SetField(column, uuid.NewString())
		case column == domain.ColIsActive:
			user.SetField(column, true)
		case column == "first_name" && first != "":
			user.SetField(column, first)
		case column == "last_name" && last != "":
			user.SetField(column, last)
		default:
			if v, ok := s.opts.DefaultValues[column]; ok {
				user.SetField(column, v)
			}
		}
	}
}

// isUUIDColumn recognizes surrogate-identifier naming patterns.
func isUUIDColumn(column string) bool {
	for _, name := range uuidColumnNames {
		if column == name {
			return true
		}
	}
	return strings.HasSuffix(column, "_uuid") || strings.HasSuffix(column, "_guid")
}

// splitName separates a full name on the first whitespace boundary.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}
