package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/aanfarhan/sso-sync/directory"
	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/log"
)

// Directory is the engine's view of the remote user directory.
// *directory.Client satisfies it; tests substitute a mock.
type Directory interface {
	SearchUsers(ctx context.Context, filters directory.Filters) (*directory.UserPage, error)
	FindUserByEmailOrUsername(ctx context.Context, email, username string) (domain.RemoteUser, error)
	CreateUser(ctx context.Context, payload map[string]any) *directory.MutationResult
	UpdateUser(ctx context.Context, id string, payload map[string]any) *directory.MutationResult
	GetRoles(ctx context.Context) ([]domain.Role, error)
	GetMe(ctx context.Context, token string) (domain.RemoteUser, error)
}

var _ Directory = (*directory.Client)(nil)

// Directive is the run-level conflict resolution policy.
type Directive int

const (
	// DirectiveNone queues conflicts for per-user resolution.
	DirectiveNone Directive = iota
	// DirectiveServerWins overwrites local fields with remote values.
	DirectiveServerWins
	// DirectiveClientWins overwrites remote fields with local values.
	DirectiveClientWins
)

// ScopeMode selects how client scopes are assigned during the run.
type ScopeMode int

const (
	// ScopeUnset leaves scopes alone.
	ScopeUnset ScopeMode = iota
	// ScopeCustom assigns the configured scope list.
	ScopeCustom
	// ScopeNone clears scopes to an empty set.
	ScopeNone
)

// Options configure one sync run. They are fixed before the first user
// is processed and never change mid-run.
type Options struct {
	DryRun            bool
	Directive         Directive
	ForceUpdateServer bool

	UpdatePasswords  bool
	SkipPasswordSync bool

	GrantAccess  bool
	VerifyAccess bool

	RoleMappingEnabled bool
	UpdateRoles        bool
	DefaultRole        string
	RoleMappings       domain.RoleMapping

	ScopeMode    ScopeMode
	UpdateScopes bool
	Scopes       []string

	ClientID   string
	ClientApps []string

	// DefaultValues overrides the best-effort defaults applied to local
	// columns during login-time provisioning.
	DefaultValues map[string]any
	// PreservedOverrides adds host columns to the preserved set.
	PreservedOverrides []string
}

func (o Options) scopesConfigured() bool {
	return o.ScopeMode != ScopeUnset || o.UpdateScopes
}

func (o Options) rolesConfigured() bool {
	return o.RoleMappingEnabled || o.UpdateRoles || o.DefaultRole != ""
}

// Engine reconciles one local user against its remote counterpart:
// provisioning missing accounts, detecting and resolving field
// conflicts, and keeping role/scope/password state consistent without
// touching preserved local columns.
type Engine struct {
	store      domain.LocalUserStore
	dir        Directory
	roles      domain.RoleSource
	classifier Classifier
	opts       Options
	logger     log.Logger

	classification *Classification
}

// NewEngine creates a reconciliation engine. roles may be nil for hosts
// without role data.
func NewEngine(store domain.LocalUserStore, dir Directory, roles domain.RoleSource, opts Options, logger log.Logger) *Engine {
	if roles == nil {
		roles = domain.NoRoles{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:      store,
		dir:        dir,
		roles:      roles,
		classifier: Classifier{PreservedOverrides: opts.PreservedOverrides},
		opts:       opts,
		logger:     logger,
	}
}

// Options returns the run options the engine was built with.
func (e *Engine) Options() Options { return e.opts }

// Classification resolves the run's field classification once: local
// schema columns against a sample remote record, falling back to the
// standard allow-list when no sample is obtainable.
func (e *Engine) Classification(ctx context.Context) (Classification, error) {
	if e.classification != nil {
		return *e.classification, nil
	}

	columns, err := e.store.Columns(ctx)
	if err != nil {
		return Classification{}, fmt.Errorf("failed to read local schema: %w", err)
	}

	var sample domain.RemoteUser
	page, err := e.dir.SearchUsers(ctx, directory.Filters{"limit": "1"})
	if err == nil && page != nil && len(page.Data) > 0 {
		sample = page.Data[0]
	}

	cls := e.classifier.Classify(columns, sample)
	e.classification = &cls
	return cls, nil
}

// Reconcile processes one local user: provisions it remotely when
// absent, otherwise syncs the pair. The returned conflict is non-nil
// only for the conflict-queued outcome.
func (e *Engine) Reconcile(ctx context.Context, user *domain.LocalUser) (domain.Outcome, *domain.QueuedConflict, error) {
	remote, err := e.dir.FindUserByEmailOrUsername(ctx, user.Email, user.Username)
	if err != nil {
		return domain.OutcomeSkippedError, nil, err
	}

	if remote == nil {
		outcome, err := e.provision(ctx, user)
		return outcome, nil, err
	}

	if e.opts.VerifyAccess && !e.hasClientAccess(ctx, remote) {
		e.logger.Info(ctx, "skipping user without client access", map[string]any{
			"email": user.Email, "client_id": e.opts.ClientID,
		})
		return domain.OutcomeSkippedNoAccess, nil, nil
	}

	return e.syncExisting(ctx, user, remote)
}

// provision creates the remote account for a local user with no
// counterpart (Case A). On success the remote id is written back onto
// the local record. No automatic retry on failure.
func (e *Engine) provision(ctx context.Context, user *domain.LocalUser) (domain.Outcome, error) {
	if e.opts.DryRun {
		return domain.OutcomeProvisioned, nil
	}

	cls, err := e.Classification(ctx)
	if err != nil {
		return domain.OutcomeSkippedError, err
	}
	payload := e.buildPayload(user, cls)

	result := e.dir.CreateUser(ctx, payload)
	if result == nil || !result.Success {
		var msgs []string
		if result != nil {
			msgs = result.Errors
		}
		return domain.OutcomeSkippedError, fmt.Errorf("failed to create user %s on server: %v", user.Email, msgs)
	}

	if id := result.User.ID(); id != "" {
		if err := e.store.Update(ctx, user.ID, map[string]any{domain.ColOAuthID: id}); err != nil {
			return domain.OutcomeSkippedError, err
		}
		user.OAuthID = id
	}
	return domain.OutcomeProvisioned, nil
}

// syncExisting reconciles a local/remote pair (Case B).
func (e *Engine) syncExisting(ctx context.Context, user *domain.LocalUser, remote domain.RemoteUser) (domain.Outcome, *domain.QueuedConflict, error) {
	cls, err := e.Classification(ctx)
	if err != nil {
		return domain.OutcomeSkippedError, nil, err
	}

	conflicts := e.detectConflicts(user, remote, cls)
	roleNeeded, mappedRole := e.roleUpdateNeeded(user)
	scopeNeeded, scopes := e.scopeUpdateNeeded()
	force := e.opts.ForceUpdateServer || hasForceUpdateMarker(conflicts)
	plain := withoutForceMarkers(conflicts)

	if len(conflicts) == 0 && !roleNeeded && !scopeNeeded && !force {
		if !e.opts.DryRun {
			if err := e.markSynced(ctx, user, remote); err != nil {
				return domain.OutcomeSkippedError, nil, err
			}
		}
		return domain.OutcomeSyncedClean, nil, nil
	}

	if roleNeeded && !e.opts.DryRun {
		e.pushRole(ctx, user, remote, mappedRole)
	}
	if scopeNeeded && !e.opts.DryRun {
		e.pushScopes(ctx, user, remote, scopes)
	}

	if force {
		if e.opts.DryRun {
			return domain.OutcomeForceUpdated, nil, nil
		}
		if err := e.forceUpdateRemote(ctx, user, remote, cls); err != nil {
			return domain.OutcomeSkippedError, nil, err
		}
		return domain.OutcomeForceUpdated, nil, nil
	}

	if len(plain) > 0 {
		queued := &domain.QueuedConflict{User: user, Remote: remote, Conflicts: plain}

		// Dry-run records conflicts for display only, whatever the
		// directive says; nothing is applied.
		if e.opts.DryRun {
			return domain.OutcomeConflictQueued, queued, nil
		}

		switch e.opts.Directive {
		case DirectiveServerWins:
			if err := e.ApplyResolution(ctx, user, remote, ResolveServer); err != nil {
				return domain.OutcomeSkippedError, nil, err
			}
			return domain.OutcomeSyncedClean, nil, nil
		case DirectiveClientWins:
			if err := e.ApplyResolution(ctx, user, remote, ResolveClient); err != nil {
				return domain.OutcomeSkippedError, nil, err
			}
			return domain.OutcomeSyncedClean, nil, nil
		default:
			// Queued for per-user resolution after the batch pass.
			return domain.OutcomeConflictQueued, queued, nil
		}
	}

	// Role or scope update only: the user still counts as synced.
	if !e.opts.DryRun {
		if err := e.markSynced(ctx, user, remote); err != nil {
			return domain.OutcomeSkippedError, nil, err
		}
	}
	return domain.OutcomeSyncedClean, nil, nil
}

// detectConflicts compares every syncable field present on both sides.
// Equal values never produce a record. Passwords are special-cased: the
// two sides may hash differently, so any non-empty difference is either
// suppressed, marked for forced update, or queued as an opaque conflict
// with redacted values.
func (e *Engine) detectConflicts(user *domain.LocalUser, remote domain.RemoteUser, cls Classification) []domain.ConflictRecord {
	var conflicts []domain.ConflictRecord
	fields := user.Fields()
	localUpdated := toTimePtrOrNil(user.UpdatedAt)
	remoteUpdated := remote.UpdatedAt()

	for _, field := range cls.Syncable {
		if !remote.Has(field) {
			continue
		}
		localValue, _ := fields.Get(field)
		clientStr := domain.ValueString(localValue)
		serverStr := domain.ValueString(remote[field])
		if clientStr == serverStr {
			continue
		}

		if field == domain.ColPassword {
			if e.opts.SkipPasswordSync {
				continue
			}
			if clientStr == "" || serverStr == "" {
				continue
			}
			if e.opts.ForceUpdateServer || e.opts.UpdatePasswords {
				conflicts = append(conflicts, domain.ConflictRecord{
					Field:         domain.ColPassword,
					ClientValue:   "[password will be updated on server]",
					ServerValue:   "[password will be overwritten]",
					ClientUpdated: localUpdated,
					ServerUpdated: remoteUpdated,
					ForceUpdate:   true,
					Redacted:      true,
				})
			} else {
				conflicts = append(conflicts, domain.ConflictRecord{
					Field:         domain.ColPassword,
					ClientValue:   "[hidden - client password]",
					ServerValue:   "[hidden - server password]",
					ClientUpdated: localUpdated,
					ServerUpdated: remoteUpdated,
					Redacted:      true,
				})
			}
			continue
		}

		conflicts = append(conflicts, domain.ConflictRecord{
			Field:         field,
			ClientValue:   clientStr,
			ServerValue:   serverStr,
			ClientUpdated: localUpdated,
			ServerUpdated: remoteUpdated,
		})
	}
	return conflicts
}

// buildPayload assembles the syncable field payload pushed to the
// directory, decorated with the run's access/role/scope configuration.
func (e *Engine) buildPayload(user *domain.LocalUser, cls Classification) map[string]any {
	payload := make(map[string]any)
	fields := user.Fields()

	for _, field := range cls.Syncable {
		value, ok := fields.Get(field)
		if !ok || value == nil || domain.ValueString(value) == "" {
			continue
		}
		if field == domain.ColPassword && e.opts.SkipPasswordSync {
			continue
		}
		// Passwords go to the server as the stored hash, as-is. Whether
		// the two systems hash compatibly is the diagnostic call's
		// business, not the engine's.
		payload[field] = value
	}

	if e.opts.GrantAccess {
		payload["grant_client_access"] = true
	}
	if len(e.opts.ClientApps) > 0 {
		payload["client_apps"] = e.opts.ClientApps
	}
	if role := e.mapUserRole(user); role != "" {
		payload["roles"] = []string{role}
	}
	if e.opts.ScopeMode != ScopeUnset {
		payload["client_scopes"] = e.scopeList()
	}
	return payload
}

func (e *Engine) scopeList() []string {
	if e.opts.ScopeMode == ScopeNone {
		return []string{}
	}
	return e.opts.Scopes
}

// mapUserRole translates the user's local role through the run's role
// mapping, falling back to the default role. "" means no assignment.
func (e *Engine) mapUserRole(user *domain.LocalUser) string {
	if !e.opts.rolesConfigured() {
		return ""
	}
	if local := e.roles.RoleOf(user); local != "" {
		if _, mapped := e.opts.RoleMappings[local]; mapped {
			return e.opts.RoleMappings.Resolve(local)
		}
	}
	return e.opts.DefaultRole
}

// roleUpdateNeeded reports whether this run should push a role for the
// user. Role recomputation is opt-in per invocation, never automatic.
func (e *Engine) roleUpdateNeeded(user *domain.LocalUser) (bool, string) {
	if !e.opts.RoleMappingEnabled && !e.opts.UpdateRoles {
		return false, ""
	}
	role := e.mapUserRole(user)
	if role == "" {
		return false, ""
	}
	return true, role
}

// scopeUpdateNeeded reports whether this run should push scopes.
func (e *Engine) scopeUpdateNeeded() (bool, []string) {
	if !e.opts.scopesConfigured() {
		return false, nil
	}
	return true, e.scopeList()
}

func (e *Engine) pushRole(ctx context.Context, user *domain.LocalUser, remote domain.RemoteUser, role string) {
	result := e.dir.UpdateUser(ctx, remote.ID(), map[string]any{"roles": []string{role}})
	if result == nil || !result.Success {
		e.logger.Warn(ctx, "failed to update role on server", map[string]any{
			"email": user.Email, "role": role,
		})
		return
	}
	e.logger.Debug(ctx, "updated role on server", map[string]any{
		"email": user.Email, "role": role,
	})
}

func (e *Engine) pushScopes(ctx context.Context, user *domain.LocalUser, remote domain.RemoteUser, scopes []string) {
	result := e.dir.UpdateUser(ctx, remote.ID(), map[string]any{"client_scopes": scopes})
	if result == nil || !result.Success {
		e.logger.Warn(ctx, "failed to update scopes on server", map[string]any{
			"email": user.Email, "scopes": scopes,
		})
		return
	}
	e.logger.Debug(ctx, "updated scopes on server", map[string]any{
		"email": user.Email, "scopes": scopes,
	})
}

// forceUpdateRemote pushes the full syncable payload client-wins,
// bypassing conflict handling for this user.
func (e *Engine) forceUpdateRemote(ctx context.Context, user *domain.LocalUser, remote domain.RemoteUser, cls Classification) error {
	payload := e.buildPayload(user, cls)
	delete(payload, "grant_client_access")
	delete(payload, "client_apps")

	result := e.dir.UpdateUser(ctx, remote.ID(), payload)
	if result == nil || !result.Success {
		var msgs []string
		if result != nil {
			msgs = result.Errors
		}
		return fmt.Errorf("failed to force update user %s on server: %v", user.Email, msgs)
	}
	return e.markSynced(ctx, user, remote)
}

// markSynced records the oauth linkage and sync timestamp locally, as
// one atomic update.
func (e *Engine) markSynced(ctx context.Context, user *domain.LocalUser, remote domain.RemoteUser) error {
	now := time.Now().UTC()
	if err := e.store.Update(ctx, user.ID, map[string]any{
		domain.ColOAuthID:  remote.ID(),
		domain.ColSyncedAt: now,
	}); err != nil {
		return err
	}
	user.OAuthID = remote.ID()
	user.SyncedAt = &now
	return nil
}

// ApplyResolution applies a conflict resolution choice: server-wins
// overwrites local syncable fields with remote values, client-wins
// pushes the local payload to the directory. Preserved columns are
// untouched either way, and the local mutation is a single atomic call.
func (e *Engine) ApplyResolution(ctx context.Context, user *domain.LocalUser, remote domain.RemoteUser, resolution string) error {
	cls, err := e.Classification(ctx)
	if err != nil {
		return err
	}

	switch resolution {
	case ResolveServer:
		now := time.Now().UTC()
		update := map[string]any{
			domain.ColOAuthID:  remote.ID(),
			domain.ColSyncedAt: now,
		}
		for _, field := range cls.Syncable {
			// Hash formats differ between sides, so passwords never
			// flow server-to-client.
			if field == domain.ColPassword || !remote.Has(field) {
				continue
			}
			update[field] = remote[field]
		}
		if err := e.store.Update(ctx, user.ID, update); err != nil {
			return err
		}
		for field, value := range update {
			user.SetField(field, value)
		}
		return nil

	case ResolveClient:
		payload := e.buildPayload(user, cls)
		result := e.dir.UpdateUser(ctx, remote.ID(), payload)
		if result == nil || !result.Success {
			var msgs []string
			if result != nil {
				msgs = result.Errors
			}
			return fmt.Errorf("failed to update user %s on server: %v", user.Email, msgs)
		}
		return e.markSynced(ctx, user, remote)

	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}
}

// hasClientAccess asks the directory whether the remote user holds a
// grant for this client. Verification failures default to allowing the
// user through.
func (e *Engine) hasClientAccess(ctx context.Context, remote domain.RemoteUser) bool {
	page, err := e.dir.SearchUsers(ctx, directory.Filters{
		"email":        remote.Email(),
		"client_id":    e.opts.ClientID,
		"check_access": "true",
		"paginate":     "false",
		"limit":        "1",
	})
	if err != nil {
		e.logger.Warn(ctx, "could not verify client access", map[string]any{
			"email": remote.Email(), "error": err.Error(),
		})
		return true
	}
	return page != nil && len(page.Data) > 0
}

func hasForceUpdateMarker(conflicts []domain.ConflictRecord) bool {
	for _, c := range conflicts {
		if c.ForceUpdate {
			return true
		}
	}
	return false
}

func withoutForceMarkers(conflicts []domain.ConflictRecord) []domain.ConflictRecord {
	var out []domain.ConflictRecord
	for _, c := range conflicts {
		if !c.ForceUpdate {
			out = append(out, c)
		}
	}
	return out
}

func toTimePtrOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
