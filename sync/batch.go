package sync

import (
	"context"
	"fmt"

	"github.com/aanfarhan/sso-sync/directory"
	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/errors"
	"github.com/aanfarhan/sso-sync/log"
)

// DefaultBatchSize bounds memory when iterating the local population.
const DefaultBatchSize = 100

// Orchestrator drives a full sync run: connection pre-check, role and
// scope setup, chunked per-user reconciliation, then post-batch
// resolution of queued conflicts. It always produces a SyncReport, even
// on partial failure.
type Orchestrator struct {
	engine    *Engine
	store     domain.LocalUserStore
	dir       Directory
	roles     domain.RoleSource
	resolver  Resolver
	batchSize int
	logger    log.Logger
}

// NewOrchestrator assembles a batch run around an engine. resolver
// answers conflict/role/scope questions; pass a StaticResolver for
// non-interactive runs.
func NewOrchestrator(engine *Engine, store domain.LocalUserStore, dir Directory, roles domain.RoleSource, resolver Resolver, batchSize int, logger log.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if roles == nil {
		roles = domain.NoRoles{}
	}
	if resolver == nil {
		resolver = StaticResolver{Selection: ResolveSkip}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		engine:    engine,
		store:     store,
		dir:       dir,
		roles:     roles,
		resolver:  resolver,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run executes the sync. Connection or setup failures abort before any
// user is touched; per-user failures are tallied as skipped and the run
// continues. The report is returned even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context) (*domain.SyncReport, error) {
	report := &domain.SyncReport{}
	opts := o.engine.Options()

	if opts.UpdatePasswords && opts.SkipPasswordSync {
		return report, fmt.Errorf("cannot both update and skip password sync")
	}

	if err := o.validateConnection(ctx); err != nil {
		return report, err
	}

	if opts.scopesConfigured() {
		if err := o.setupScopes(ctx); err != nil {
			return report, err
		}
	}
	if opts.rolesConfigured() {
		if err := o.setupRoleMapping(ctx); err != nil {
			return report, err
		}
	}

	total, err := o.store.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count local users: %w", err)
	}
	o.logger.Info(ctx, "starting user sync", map[string]any{
		"total": total, "dry_run": opts.DryRun, "batch_size": o.batchSize,
	})

	err = o.store.ChunkAll(ctx, o.batchSize, func(ctx context.Context, users []*domain.LocalUser) error {
		for _, user := range users {
			o.processUser(ctx, user, report)
		}
		return ctx.Err()
	})
	if err != nil {
		return report, err
	}

	if !opts.DryRun {
		o.resolveQueued(ctx, report)
	}

	o.logger.Info(ctx, "sync finished", map[string]any{
		"created": report.Created, "synced": report.Synced,
		"conflicts": len(report.Conflicts), "skipped": report.Skipped,
	})
	return report, nil
}

// processUser runs one user through the engine. Every failure is
// counted; none aborts the run.
func (o *Orchestrator) processUser(ctx context.Context, user *domain.LocalUser, report *domain.SyncReport) {
	outcome, queued, err := o.engine.Reconcile(ctx, user)
	if err != nil {
		o.logger.Error(ctx, "error processing user", err, map[string]any{"email": user.Email})
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", user.Email, err))
	}
	if queued != nil {
		report.Queue(*queued)
	}
	report.Record(outcome)
}

// validateConnection probes the directory before touching any user.
// Auth and permission failures abort the run with remediation guidance;
// a dead endpoint aborts with a transport error.
func (o *Orchestrator) validateConnection(ctx context.Context) error {
	page, err := o.dir.SearchUsers(ctx, directory.Filters{"limit": "1"})
	if err != nil {
		if errors.IsPermissionError(err) {
			return fmt.Errorf("client lacks user management permissions; grant the client admin/user-management scopes on the authorization server: %w", err)
		}
		return fmt.Errorf("failed to connect to authorization server; verify host, client_id and client_secret: %w", err)
	}
	if page == nil {
		return errors.NewTransportError("failed to connect to authorization server; verify host and that /api/users/search exists", nil)
	}
	o.logger.Info(ctx, "connected to authorization server")
	return nil
}

// setupScopes validates the run's scope configuration, driving the
// resolver when interactive selection is requested (ScopeCustom with an
// empty list).
func (o *Orchestrator) setupScopes(ctx context.Context) error {
	opts := o.engine.Options()
	if opts.ScopeMode == ScopeNone && len(opts.Scopes) > 0 {
		return fmt.Errorf("cannot combine an explicit scope list with no-scopes mode")
	}
	if opts.ScopeMode == ScopeCustom && len(opts.Scopes) == 0 {
		choices := append([]Choice{{Key: "none", Label: "No scopes (empty access)"}}, ScopeCatalogue...)
		selected, err := o.resolver.Resolve(ctx, "Select scopes to assign", choices, "none")
		if err != nil {
			return err
		}
		if selected == "none" {
			o.engine.opts.ScopeMode = ScopeNone
		} else {
			o.engine.opts.Scopes = []string{selected}
		}
	}
	return nil
}

// setupRoleMapping fetches the remote role catalogue once per run,
// validates the default role, and maps every distinct local role value
// through the resolver before processing begins. Mapping to skip
// removes the role assignment entirely.
func (o *Orchestrator) setupRoleMapping(ctx context.Context) error {
	catalogue, err := o.dir.GetRoles(ctx)
	if err != nil {
		return fmt.Errorf("failed to get roles from authorization server: %w", err)
	}
	if catalogue == nil {
		return fmt.Errorf("failed to get roles from authorization server")
	}

	byName := make(map[string]domain.Role, len(catalogue))
	for _, role := range catalogue {
		byName[role.Name] = role
	}

	opts := o.engine.Options()
	if opts.DefaultRole != "" {
		if _, ok := byName[opts.DefaultRole]; !ok {
			return fmt.Errorf("default role %q not found on authorization server", opts.DefaultRole)
		}
	}

	if !opts.RoleMappingEnabled && !opts.UpdateRoles {
		return nil
	}

	locals, err := o.roles.DistinctRoles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list local roles: %w", err)
	}

	if o.engine.opts.RoleMappings == nil {
		o.engine.opts.RoleMappings = domain.RoleMapping{}
	}
	choices := make([]Choice, 0, len(catalogue)+1)
	choices = append(choices, Choice{Key: domain.RoleSkip, Label: "Skip (no role assigned)"})
	for _, role := range catalogue {
		choices = append(choices, Choice{Key: role.Name, Label: fmt.Sprintf("%s (%s)", role.Name, role.DisplayName)})
	}

	for _, local := range locals {
		if _, done := o.engine.opts.RoleMappings[local]; done {
			continue
		}
		mapped, err := o.resolver.Resolve(ctx, fmt.Sprintf("Map local role %q to a server role", local), choices, domain.RoleSkip)
		if err != nil {
			return err
		}
		o.engine.opts.RoleMappings[local] = mapped
	}
	return nil
}

// resolveQueued walks the conflicts queued during the batch and applies
// the resolver's choice per user. Unresolved (skipped) users stay in
// the report's conflict list and count as skipped.
func (o *Orchestrator) resolveQueued(ctx context.Context, report *domain.SyncReport) {
	var unresolved []domain.QueuedConflict
	for _, qc := range report.Conflicts {
		prompt := fmt.Sprintf("Resolve conflict for user %s (%d fields)", qc.User.Email, len(qc.Conflicts))
		choice, err := o.resolver.Resolve(ctx, prompt, conflictChoices, ResolveSkip)
		if err != nil {
			o.logger.Error(ctx, "conflict resolution failed", err, map[string]any{"email": qc.User.Email})
			choice = ResolveSkip
		}
		if choice == ResolveSkip {
			report.Skipped++
			unresolved = append(unresolved, qc)
			continue
		}
		if err := o.engine.ApplyResolution(ctx, qc.User, qc.Remote, choice); err != nil {
			o.logger.Error(ctx, "failed to apply conflict resolution", err, map[string]any{"email": qc.User.Email})
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", qc.User.Email, err))
			report.Skipped++
			unresolved = append(unresolved, qc)
			continue
		}
		report.Synced++
	}
	report.Conflicts = unresolved
}
