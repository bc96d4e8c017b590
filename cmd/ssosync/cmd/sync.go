package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/aanfarhan/sso-sync/cache"
	redistoken "github.com/aanfarhan/sso-sync/cache/redis"
	"github.com/aanfarhan/sso-sync/directory"
	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/mongodb"
	"github.com/aanfarhan/sso-sync/oauth"
	"github.com/aanfarhan/sso-sync/sync"
)

var (
	flagDryRun           bool
	flagServerWins       bool
	flagClientWins       bool
	flagForceUpdate      bool
	flagUpdatePasswords  bool
	flagSkipPasswordSync bool
	flagGrantAccess      bool
	flagVerifyAccess     bool
	flagRoleMapping      bool
	flagUpdateRoles      bool
	flagDefaultRole      string
	flagRoleMap          []string
	flagScopes           string
	flagNoScopes         bool
	flagUpdateScopes     bool
	flagClientApps       []string
	flagBatchSize        int
	flagInteractive      bool
	flagPreserve         []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile every local user against the remote user directory",
	Long: `Walks the local user collection in batches, provisions missing remote
accounts, detects field conflicts, and applies the configured resolution
policy. Without --server-wins, --client-wins or --interactive, conflicting
users are reported and left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appConfig.Validate(); err != nil {
			return err
		}
		if flagServerWins && flagClientWins {
			return fmt.Errorf("--server-wins and --client-wins are mutually exclusive")
		}

		ctx := cmd.Context()
		deps, err := buildDeps(ctx)
		if err != nil {
			return err
		}
		defer deps.close(ctx)

		opts := buildOptions()
		engine := sync.NewEngine(deps.store, deps.dir, deps.roles, opts, appLogger)
		orch := sync.NewOrchestrator(engine, deps.store, deps.dir, deps.roles, buildResolver(), batchSize(), appLogger)

		report, err := orch.Run(ctx)
		if err != nil {
			return err
		}
		printReport(cmd, report, opts.DryRun)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report what would change without writing anything")
	syncCmd.Flags().BoolVar(&flagServerWins, "server-wins", false, "resolve conflicts by overwriting local fields with server values")
	syncCmd.Flags().BoolVar(&flagClientWins, "client-wins", false, "resolve conflicts by pushing local fields to the server")
	syncCmd.Flags().BoolVar(&flagForceUpdate, "force-update", false, "push local data to the server for every user, skipping conflict detection")
	syncCmd.Flags().BoolVar(&flagUpdatePasswords, "update-passwords", false, "push local password hashes to the server")
	syncCmd.Flags().BoolVar(&flagSkipPasswordSync, "skip-password-sync", false, "never compare or push passwords")
	syncCmd.Flags().BoolVar(&flagGrantAccess, "grant-access", false, "grant client application access when provisioning")
	syncCmd.Flags().BoolVar(&flagVerifyAccess, "verify-access", false, "only sync users that already have access to this client")
	syncCmd.Flags().BoolVar(&flagRoleMapping, "role-mapping", false, "map local roles to server roles before syncing")
	syncCmd.Flags().BoolVar(&flagUpdateRoles, "update-roles", false, "update roles on existing remote users")
	syncCmd.Flags().StringVar(&flagDefaultRole, "default-role", "", "server role assigned when no mapping matches")
	syncCmd.Flags().StringSliceVar(&flagRoleMap, "role-map", nil, "explicit local=remote role pairs (repeatable)")
	syncCmd.Flags().StringVar(&flagScopes, "scopes", "", "comma-separated client scopes to assign")
	syncCmd.Flags().BoolVar(&flagNoScopes, "no-scopes", false, "assign an empty scope list")
	syncCmd.Flags().BoolVar(&flagUpdateScopes, "update-scopes", false, "update scopes on existing remote users")
	syncCmd.Flags().StringSliceVar(&flagClientApps, "client-apps", nil, "additional client IDs to grant access to")
	syncCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "users fetched per store chunk (0 uses the configured default)")
	syncCmd.Flags().BoolVar(&flagInteractive, "interactive", false, "prompt on the terminal for conflicts, role mappings and scopes")
	syncCmd.Flags().StringSliceVar(&flagPreserve, "preserve", nil, "extra local columns that must never be overwritten")

	rootCmd.AddCommand(syncCmd)
}

// deps bundles the infrastructure a sync run needs, so diagnostics
// commands can reuse the same wiring.
type deps struct {
	db         *mongo.Database
	store      *mongodb.UserStore
	dir        *directory.Client
	roles      domain.RoleSource
	tokenCache cache.TokenCache
	redisCli   *redis.Client
}

func buildDeps(ctx context.Context) (*deps, error) {
	var (
		tokenCache cache.TokenCache
		redisCli   *redis.Client
	)
	if appConfig.RedisAddr != "" {
		redisCli = redis.NewClient(&redis.Options{Addr: appConfig.RedisAddr})
		tokenCache = redistoken.NewTokenCache(redisCli, appConfig.RedisPrefix)
	} else {
		tokenCache = cache.NewMemoryTokenCache()
	}

	tokens := oauth.NewTokenProvider(appConfig.OAuthHost, appConfig.ClientID, appConfig.ClientSecret, tokenCache, appLogger)
	dir := directory.NewClient(appConfig.OAuthHost, tokens, appLogger)

	db, err := mongodb.Connect(ctx, appConfig.MongoURI, appConfig.MongoDBName)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	store, err := mongodb.NewUserStore(ctx, db, appConfig.UsersCollection, appConfig.KnownColumns)
	if err != nil {
		return nil, fmt.Errorf("preparing user store: %w", err)
	}

	var roles domain.RoleSource = domain.NoRoles{}
	if appConfig.RoleColumn != "" {
		roles = domain.SingleFieldRoleSource{Column: appConfig.RoleColumn, Store: store}
	}

	return &deps{
		db:         db,
		store:      store,
		dir:        dir,
		roles:      roles,
		tokenCache: tokenCache,
		redisCli:   redisCli,
	}, nil
}

func (d *deps) close(ctx context.Context) {
	d.tokenCache.Close()
	if d.redisCli != nil {
		d.redisCli.Close()
	}
	if d.db != nil {
		_ = d.db.Client().Disconnect(ctx)
	}
}

func buildOptions() sync.Options {
	opts := sync.Options{
		DryRun:             flagDryRun,
		ForceUpdateServer:  flagForceUpdate,
		UpdatePasswords:    flagUpdatePasswords,
		SkipPasswordSync:   flagSkipPasswordSync,
		GrantAccess:        flagGrantAccess,
		VerifyAccess:       flagVerifyAccess,
		RoleMappingEnabled: flagRoleMapping,
		UpdateRoles:        flagUpdateRoles,
		DefaultRole:        firstNonEmpty(flagDefaultRole, appConfig.DefaultRole),
		RoleMappings:       parseRoleMap(flagRoleMap),
		UpdateScopes:       flagUpdateScopes,
		ClientID:           appConfig.ClientID,
		ClientApps:         flagClientApps,
		PreservedOverrides: append(append([]string{}, appConfig.PreservedFields...), flagPreserve...),
	}

	switch {
	case flagServerWins:
		opts.Directive = sync.DirectiveServerWins
	case flagClientWins:
		opts.Directive = sync.DirectiveClientWins
	}

	switch {
	case flagNoScopes:
		opts.ScopeMode = sync.ScopeNone
	case flagScopes != "":
		opts.ScopeMode = sync.ScopeCustom
		opts.Scopes = splitCSV(flagScopes)
	case flagUpdateScopes:
		opts.ScopeMode = sync.ScopeCustom
	}

	return opts
}

func buildResolver() sync.Resolver {
	if flagInteractive {
		return newTerminalResolver(rootCmd.InOrStdin(), rootCmd.OutOrStdout())
	}
	switch {
	case flagServerWins:
		return sync.StaticResolver{Selection: sync.ResolveServer}
	case flagClientWins:
		return sync.StaticResolver{Selection: sync.ResolveClient}
	}
	return sync.StaticResolver{Selection: sync.ResolveSkip}
}

func batchSize() int {
	if flagBatchSize > 0 {
		return flagBatchSize
	}
	if appConfig.BatchSize > 0 {
		return appConfig.BatchSize
	}
	return sync.DefaultBatchSize
}

func parseRoleMap(pairs []string) domain.RoleMapping {
	if len(pairs) == 0 {
		return nil
	}
	mapping := make(domain.RoleMapping, len(pairs))
	for _, pair := range pairs {
		local, remote, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		mapping[strings.TrimSpace(local)] = strings.TrimSpace(remote)
	}
	return mapping
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printReport(cmd *cobra.Command, report *domain.SyncReport, dryRun bool) {
	out := cmd.OutOrStdout()
	if dryRun {
		fmt.Fprintln(out, "Dry run: no data was modified.")
	}
	fmt.Fprintf(out, "Processed: %d\n", report.Total)
	fmt.Fprintf(out, "  created on server: %d\n", report.Created)
	fmt.Fprintf(out, "  synced:            %d\n", report.Synced)
	fmt.Fprintf(out, "  skipped:           %d\n", report.Skipped)
	fmt.Fprintf(out, "  no client access:  %d\n", report.NoAccess)

	for _, qc := range report.Conflicts {
		fmt.Fprintf(out, "Conflict: %s\n", qc.User.Email)
		for _, c := range qc.Conflicts {
			fmt.Fprintf(out, "  %-20s client=%q server=%q\n", c.Field, c.ClientValue, c.ServerValue)
		}
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "Error: %s\n", e)
	}
}
