package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/database"
	"github.com/Daveeeu/skyrox-core/redisclient"
	"github.com/Daveeeu/skyrox-core/server"
	"github.com/Daveeeu/skyrox-core/services/auth"
	"github.com/Daveeeu/skyrox-core/services/deviceflow"
	"github.com/Daveeeu/skyrox-core/services/identity"
	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/services/idtoken"
	"github.com/Daveeeu/skyrox-core/services/logging"
	"github.com/Daveeeu/skyrox-core/services/permcache"
	"github.com/Daveeeu/skyrox-core/services/sessionreg"
	"github.com/Daveeeu/skyrox-core/services/token"
)

// App wraps the fx container and signal handling for the skyrox core.
type App struct {
	fx     *fx.App
	logger *logging.Service
}

// Models returns every gorm model the core persists, in migration order.
func Models() []any {
	return []any{
		&identity.Identity{},
		&token.Token{},
		&sessionreg.Session{},
		&permcache.Role{},
		&permcache.Permission{},
		&permcache.RoleAssignment{},
	}
}

// Options assembles the full dependency graph minus the fx runner itself.
// Exposed so the CLI subcommands can build partial graphs.
func Options() fx.Option {
	return fx.Options(
		config.Options,
		logging.Options,
		database.Module(Models()...),
		redisclient.Options,
		idp.Options,
		deviceflow.Options,
		token.Options,
		sessionreg.Options,
		identity.Options,
		idtoken.Options,
		permcache.Options,
		auth.Options,
		fx.Provide(func(s *sessionreg.Service) permcache.Presence { return s }),
	)
}

func New() *App {
	a := &App{}

	a.fx = fx.New(
		Options(),
		server.NewProvider(),
		fx.Populate(&a.logger),
		fx.Invoke(registerShutdownHooks),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	return a
}

func registerShutdownHooks(lc fx.Lifecycle, tokens *token.Service, sessions *sessionreg.Service, logger *logging.Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			tokens.StopSweepWorker()
			sessions.StopSweepWorker()
			logger.Sync()
			return nil
		},
	})
}

func (a *App) Start() error {
	return a.fx.Start(context.Background())
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to stop application gracefully")
		} else {
			log.Printf("failed to stop application gracefully: %v", err)
		}
	}
}

// Run starts the container and blocks until SIGINT or SIGTERM.
func (a *App) Run() {
	if err := a.Start(); err != nil {
		log.Fatalf("failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	a.logger.Info("received shutdown signal, stopping gracefully")
	a.Stop()
}
