package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Daveeeu/skyrox-core/app"
	"github.com/Daveeeu/skyrox-core/services/permcache"
	"github.com/Daveeeu/skyrox-core/services/sessionreg"
	"github.com/Daveeeu/skyrox-core/services/token"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

var rootCmd = &cobra.Command{
	Use:   "skyrox",
	Short: "Skyrox player authentication core",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			fmt.Printf("error displaying help: %v\n", err)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authentication server",
	Run: func(_ *cobra.Command, _ []string) {
		app.New().Run()
	},
}

var (
	cleanupTokens   bool
	cleanupSessions bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Revoke expired tokens and terminate expired sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(func(tokens *token.Service, sessions *sessionreg.Service, _ *permcache.Service) error {
			ctx := cmd.Context()

			if cleanupTokens {
				swept, err := tokens.SweepExpired(ctx)
				if err != nil {
					return err
				}
				purged, err := tokens.PurgeRevoked(ctx, tokens.RevokedRetention())
				if err != nil {
					return err
				}
				fmt.Printf("tokens: %d revoked as expired, %d purged\n", swept, purged)
			}

			if cleanupSessions {
				terminated, err := sessions.SweepExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("sessions: %d terminated as expired\n", terminated)
			}

			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show token, session and presence counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(func(tokens *token.Service, sessions *sessionreg.Service, cache *permcache.Service) error {
			ctx := cmd.Context()

			byKind, err := tokens.CountByKind(ctx)
			if err != nil {
				return err
			}
			for kind, count := range byKind {
				fmt.Printf("tokens (%s): %d\n", kind, count)
			}

			stats, err := sessions.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("sessions: %d total, %d active, %d owners online\n",
				stats.TotalSessions, stats.ActiveSessions, stats.OnlineOwners)

			online, err := cache.OnlineOwners(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("presence index: %d players\n", len(online))

			return nil
		})
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Operate on issued player tokens",
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a token by its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(tokens *token.Service, _ *sessionreg.Service, _ *permcache.Service) error {
			if err := tokens.RevokeByID(cmd.Context(), args[0], token.ReasonManual); err != nil {
				return err
			}
			fmt.Printf("token %s revoked\n", args[0])
			return nil
		})
	},
}

var tokensRevealCmd = &cobra.Command{
	Use:   "reveal <token-id>",
	Short: "Decrypt and print the raw secret of an issued token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(tokens *token.Service, _ *sessionreg.Service, _ *permcache.Service) error {
			secret, err := tokens.Reveal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(secret)
			return nil
		})
	},
}

func fxAppContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// withServices builds the core graph without the HTTP server, runs fn, and
// tears the graph down again.
func withServices(fn func(*token.Service, *sessionreg.Service, *permcache.Service) error) error {
	var (
		tokens   *token.Service
		sessions *sessionreg.Service
		cache    *permcache.Service
	)

	fxApp := fx.New(
		app.Options(),
		fx.Populate(&tokens, &sessions, &cache),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	startCtx, cancel := fxAppContext()
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancelStop := fxAppContext()
		defer cancelStop()
		_ = fxApp.Stop(stopCtx)
	}()

	tokens.StopSweepWorker()
	sessions.StopSweepWorker()

	return fn(tokens, sessions, cache)
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupTokens, "tokens", false, "sweep expired tokens and purge old revoked records")
	cleanupCmd.Flags().BoolVar(&cleanupSessions, "sessions", false, "terminate expired sessions")

	tokensCmd.AddCommand(tokensRevokeCmd)
	tokensCmd.AddCommand(tokensRevealCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(tokensCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
