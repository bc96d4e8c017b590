package cmd

import (
	"fmt"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aanfarhan/sso-sync/directory"
	"github.com/aanfarhan/sso-sync/internal/auth"
	"github.com/aanfarhan/sso-sync/sync"
)

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Verify credentials and directory access against the OAuth server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appConfig.Validate(); err != nil {
			return err
		}
		ctx := cmd.Context()
		deps, err := buildDeps(ctx)
		if err != nil {
			return err
		}
		defer deps.close(ctx)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Requesting client credentials token from %s ...\n", appConfig.OAuthHost)
		page, err := deps.dir.SearchUsers(ctx, directory.Filters{"limit": "1"})
		if err != nil {
			return err
		}
		if page == nil {
			return fmt.Errorf("token obtained, but the user directory endpoint is unreachable")
		}
		fmt.Fprintln(out, "OK: authenticated and able to query the user directory.")
		return nil
	},
}

var showFieldsCmd = &cobra.Command{
	Use:   "show-fields",
	Short: "Show which local columns would sync and which stay untouched",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appConfig.Validate(); err != nil {
			return err
		}
		ctx := cmd.Context()
		deps, err := buildDeps(ctx)
		if err != nil {
			return err
		}
		defer deps.close(ctx)

		engine := sync.NewEngine(deps.store, deps.dir, deps.roles, buildOptions(), appLogger)
		cls, err := engine.Classification(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Syncable columns:")
		printColumns(cmd, cls.Syncable)
		fmt.Fprintln(out, "Preserved columns:")
		printColumns(cmd, cls.Preserved)
		return nil
	},
}

var (
	flagTestEmail    string
	flagTestPassword string
	flagUseLocalHash bool
)

var testPasswordSyncCmd = &cobra.Command{
	Use:   "test-password-sync",
	Short: "Check that the server verifies a password against the synced hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appConfig.Validate(); err != nil {
			return err
		}
		if flagTestEmail == "" {
			return fmt.Errorf("--email is required")
		}

		ctx := cmd.Context()
		deps, err := buildDeps(ctx)
		if err != nil {
			return err
		}
		defer deps.close(ctx)

		out := cmd.OutOrStdout()
		password := flagTestPassword
		isHashed := flagUseLocalHash

		if isHashed {
			user, err := deps.store.FindByEmailOrOAuthID(ctx, flagTestEmail, "")
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("no local user with email %s", flagTestEmail)
			}
			if user.PasswordHash == "" {
				return fmt.Errorf("local user %s has no password hash", flagTestEmail)
			}
			password = user.PasswordHash
			if cost, costErr := auth.HashCost(password); costErr == nil {
				fmt.Fprintf(out, "Local hash is bcrypt with cost %d.\n", cost)
			} else {
				fmt.Fprintln(out, "Warning: local hash is not bcrypt; the server may not verify it.")
			}
		} else if password == "" {
			fmt.Fprint(out, "Password: ")
			raw, readErr := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(out)
			if readErr != nil {
				return fmt.Errorf("failed to read password: %w", readErr)
			}
			password = string(raw)
		}

		if !isHashed {
			// Check the plaintext against the local hash first, so a
			// server-side mismatch can be told apart from a stale local
			// password.
			if user, lookupErr := deps.store.FindByEmailOrOAuthID(ctx, flagTestEmail, ""); lookupErr == nil && user != nil && user.PasswordHash != "" {
				hasher := auth.NewBcryptHasher(0)
				if verifyErr := hasher.Verify(user.PasswordHash, password); verifyErr == nil {
					fmt.Fprintln(out, "Local store: password matches the stored hash.")
				} else {
					fmt.Fprintln(out, "Local store: password does NOT match the stored hash.")
				}
			}
		}

		result, err := deps.dir.TestPasswordSync(ctx, flagTestEmail, password, isHashed)
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(result))
		for k := range result {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "%-20s %v\n", k+":", result[k])
		}
		return nil
	},
}

func printColumns(cmd *cobra.Command, columns []string) {
	if len(columns) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "  (none)")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", strings.Join(columns, ", "))
}

func init() {
	testPasswordSyncCmd.Flags().StringVar(&flagTestEmail, "email", "", "email of the user to test")
	testPasswordSyncCmd.Flags().StringVar(&flagTestPassword, "password", "", "plaintext password to verify (prompted when omitted)")
	testPasswordSyncCmd.Flags().BoolVar(&flagUseLocalHash, "local-hash", false, "send the stored local password hash instead of a plaintext password")

	rootCmd.AddCommand(testConnectionCmd, showFieldsCmd, testPasswordSyncCmd)
}
