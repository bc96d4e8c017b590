package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	echoapi "github.com/aanfarhan/sso-sync/api/echo"
	"github.com/aanfarhan/sso-sync/sync"
	"github.com/aanfarhan/sso-sync/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the login-time sync endpoint over HTTP",
	Long: `Starts an HTTP server that host applications call after completing the
OAuth2 login flow. The callback endpoint reconciles the authenticated
identity into the local user store and returns the local record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appConfig.Validate(); err != nil {
			return err
		}
		ctx := cmd.Context()

		tp, err := tracing.InitTracerProvider("")
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				appLogger.Error(shutdownCtx, "tracer provider shutdown error", err, nil)
			}
		}()

		deps, err := buildDeps(ctx)
		if err != nil {
			return err
		}
		defer deps.close(ctx)

		loginSync := sync.NewLoginSync(deps.store, deps.dir, buildOptions(), appLogger)

		e := echo.New()
		e.HideBanner = true
		e.Use(middleware.Recover())
		echoapi.NewLoginAPI(loginSync, appConfig.OAuthHost, appLogger).RegisterRoutes(e)

		go func() {
			appLogger.Info(ctx, "HTTP server listening", map[string]any{"port": appConfig.HTTPPort})
			if err := e.Start(":" + appConfig.HTTPPort); err != nil && err != http.ErrServerClosed {
				appLogger.Error(ctx, "HTTP server stopped", err, nil)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "HTTP server shutdown error", err, nil)
		}
		appLogger.Info(shutdownCtx, "Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
