// Package server wires storage, services and the HTTP API into a runnable
// application and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/archive"
	"github.com/dmitrijs2005/gophvault/internal/server/auth"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/httpapi"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophvault/internal/server/services"
	"github.com/dmitrijs2005/gophvault/internal/server/vault"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	sessions *auth.Registry
	metrics  *metrics.Metrics
	rotation *services.RotationService
	server   *httpapi.HTTPServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogFormat, c.LogLevel)

	db, dialect, err := dbx.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, logger, db, dialect, clock.WallClock)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB, dialect dbx.Dialect, clk clock.Clock) (*App, error) {
	rm, err := repomanager.NewSQLRepositoryManager(dialect)
	if err != nil {
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migrate error: %w", err)
	}

	mx := metrics.New()
	arch := archive.New(archive.S3Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})

	signingKey := c.SecretKey
	if signingKey == "" {
		// Sessions live in memory only, so a per-process key is enough.
		if signingKey, err = common.MakeRandHexString(32); err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		logger.Warn(ctx, "no secret key configured, using a random one")
	}
	sessions := auth.NewRegistry([]byte(signingKey), c.SessionValidityDuration, clk)
	guard := vault.NewGuard(c.VaultID)

	as := services.NewAuthService(db, rm, sessions, c, clk, logger)
	cs := services.NewCredentialService(db, rm, as, guard, logger)
	ss := services.NewSnapshotService(db, rm, c, arch, mx, clk, logger)
	rs := services.NewRotationService(db, rm, as, ss, guard, c, mx, logger)

	if err := rs.Recover(ctx); err != nil {
		return nil, fmt.Errorf("startup recovery: %w", err)
	}

	srv := httpapi.NewHTTPServer(c.EndpointAddrHTTP, logger, httpapi.Services{
		Auth:        as,
		Credentials: cs,
		Rotation:    rs,
		Metrics:     mx,
	})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		sessions: sessions,
		metrics:  mx,
		rotation: rs,
		server:   srv,
	}, nil
}

func (app *App) initSignalHandler(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

// Run serves until a signal arrives or a component fails.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := app.initSignalHandler(ctx)
	defer stop()

	defer memguard.Purge()
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...", "vault_id", app.config.VaultID, "state", string(app.rotation.Status(ctx).State))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.server.Run(ctx)
	})

	if app.config.SessionSweepInterval > 0 {
		g.Go(func() error {
			return app.sessions.RunSweeper(ctx, app.config.SessionSweepInterval, func(n int) {
				app.metrics.SessionsSwept(n)
				if n > 0 {
					app.logger.Debug(ctx, "expired sessions swept", "count", n)
				}
			})
		})
	}

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
