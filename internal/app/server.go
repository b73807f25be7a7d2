package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"vitalsync/internal/auth"
	"vitalsync/internal/chunk"
	"vitalsync/internal/config"
	"vitalsync/internal/database"
	"vitalsync/internal/encryption"
	"vitalsync/internal/gateway"
	"vitalsync/internal/metrics"
	"vitalsync/internal/retention"
	"vitalsync/internal/vault"
	"vitalsync/internal/vital"
)

// ServerApp wires the cloud side: central store, ingestion gateway and
// retention engine. The caller must call Close when done.
type ServerApp struct {
	cfg       *config.Config
	store     *database.CentralStore
	encryptor vital.Encryptor
	archiver  *retention.Archiver // nil without a vault
	engine    *retention.Engine
	router    *gin.Engine
	tokens    auth.TokenConfig
	clock     vital.Clock
	logger    vital.Logger
	op        *Operation
	logFile   *os.File
}

// NewServerApp creates a fully wired ServerApp from cfg. A file-backed
// central database must already be migrated (see MigrateServer).
func NewServerApp(ctx context.Context, cfg *config.Config, operation string) (*ServerApp, error) {
	return newServerApp(ctx, cfg, operation, vital.RealClock{})
}

func newServerApp(ctx context.Context, cfg *config.Config, operation string, clock vital.Clock) (*ServerApp, error) {
	if err := config.ValidateServer(cfg); err != nil {
		return nil, err
	}

	op := NewOperation(operation, clock.Now())
	sl, logFile, err := newLogger(cfg.LogDir, op.ID, logLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl.With("op", op.Name)}

	a, err := buildServerApp(ctx, cfg, clock, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.op = op
	a.logFile = logFile
	return a, nil
}

func buildServerApp(ctx context.Context, cfg *config.Config, clock vital.Clock, logger vital.Logger) (*ServerApp, error) {
	codec, err := chunk.ParseCodec(cfg.Retention.Codec)
	if err != nil {
		return nil, err
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	var archiver *retention.Archiver
	if v != nil {
		if !enc.IsConfigured() {
			return nil, errors.New("an archive vault is configured but the encryption keys are missing (run keys init)")
		}
		archiver = retention.NewArchiver(v, enc, logger)
	}

	propagator := retention.NewPropagator(clock, logger)
	store, err := database.NewCentralStoreFromConfig(cfg.Server.Database, database.CentralOptions{
		Hook:  propagator,
		Codec: codec,
		Clock: clock,
	})
	if err != nil {
		return nil, fmt.Errorf("opening central store: %w", err)
	}

	var (
		recorder       = metrics.Noop()
		metricsHandler http.Handler
	)
	if cfg.Server.MetricsEnabled {
		p := metrics.NewProvider()
		recorder = p
		metricsHandler = p.Handler()
	}

	tokens := auth.TokenConfig{
		Secret: cfg.Server.JWTSecret,
		Expiry: cfg.Server.TokenTTL.Or(90 * 24 * time.Hour),
		Issuer: cfg.Server.JWTIssuer,
	}

	devices := gateway.NewDeviceCache(store, cfg.Server.DeviceCacheMB, recorder)
	ingestor := gateway.NewIngestor(store, devices, store, recorder, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gateway.NewRouter(gateway.Deps{
		Ingestor:       ingestor,
		Users:          store,
		Verifier:       auth.NewJWTVerifier(tokens),
		MaxBatchSize:   cfg.Server.MaxBatchSize,
		Metrics:        recorder,
		MetricsHandler: metricsHandler,
		Logger:         logger,
	})

	engine := retention.NewEngine(store, retention.EngineOptions{
		HotWindow: cfg.Retention.HotWindow.Or(retention.DefaultHotWindow),
		Archiver:  archiver,
		Metrics:   recorder,
		Clock:     clock,
		Logger:    logger,
	})

	return &ServerApp{
		cfg:       cfg,
		store:     store,
		encryptor: enc,
		archiver:  archiver,
		engine:    engine,
		router:    router,
		tokens:    tokens,
		clock:     clock,
		logger:    logger,
	}, nil
}

// MigrateServer brings the central schema up to date.
func MigrateServer(cfg *config.Config) error {
	return database.MigrateCentralFromConfig(cfg.Server.Database)
}

// Handler returns the gateway's HTTP handler.
func (a *ServerApp) Handler() http.Handler { return a.router }

// Serve runs the gateway and the retention scheduler until ctx is
// cancelled, then shuts the gateway down gracefully.
func (a *ServerApp) Serve(ctx context.Context) error {
	srv := gateway.NewHTTPServer(a.cfg.Server, a.router)
	scheduler := retention.NewScheduler(a.engine, a.cfg.Retention.SweepInterval.Duration, a.cfg.Retention.RunAtStart, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("gateway listening", "addr", srv.Addr)
		return gateway.Serve(ctx, srv, a.cfg.Server.ShutdownTimeout.Or(10*time.Second))
	})
	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	err := g.Wait()
	a.logger.Info("server stopped")
	return err
}

// Sweep runs one retention sweep.
func (a *ServerApp) Sweep(ctx context.Context) (*retention.SweepResult, error) {
	return a.engine.Sweep(ctx)
}

// CreateUser registers an account. The retention record is written in
// the same transaction.
func (a *ServerApp) CreateUser(ctx context.Context, username, email, tier string) (*vital.User, error) {
	t, err := vital.ParseTier(tier)
	if err != nil {
		return nil, err
	}
	u, err := a.store.CreateUser(ctx, username, email, t)
	if err != nil {
		return nil, err
	}
	a.logger.Info("user created", "user_id", u.ID, "username", u.Username, "tier", u.Tier)
	return u, nil
}

// SetTier changes a user's tier. The new retention horizon applies from
// the next sweep.
func (a *ServerApp) SetTier(ctx context.Context, username, tier string) (*vital.RetentionRecord, error) {
	t, err := vital.ParseTier(tier)
	if err != nil {
		return nil, err
	}
	u, err := a.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetUserTier(ctx, u.ID, t); err != nil {
		return nil, err
	}
	_, rec, err := a.store.GetUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	a.logger.Info("tier changed", "user_id", u.ID, "from", u.Tier, "to", t, "retention_days", rec.RetentionDays)
	return rec, nil
}

// Deactivate stops a user from syncing. Stored samples are kept.
func (a *ServerApp) Deactivate(ctx context.Context, username string) error {
	u, err := a.store.FindUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := a.store.SetUserActive(ctx, u.ID, false); err != nil {
		return err
	}
	a.logger.Info("user deactivated", "user_id", u.ID)
	return nil
}

// RegisterDevice attaches a device to a user.
func (a *ServerApp) RegisterDevice(ctx context.Context, username, externalID, name, deviceType string) (*vital.Device, error) {
	u, err := a.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	d, err := a.store.RegisterDevice(ctx, u.ID, externalID, name, deviceType)
	if err != nil {
		return nil, err
	}
	a.logger.Info("device registered", "device_id", d.ID, "user_id", u.ID, "external_id", externalID)
	return d, nil
}

// IssueToken signs a bearer token for an existing user.
func (a *ServerApp) IssueToken(ctx context.Context, username string) (string, error) {
	if _, err := a.store.FindUserByUsername(ctx, username); err != nil {
		return "", err
	}
	return auth.CreateToken(username, a.tokens)
}

// UserSummary reports what the central store holds for a user.
type UserSummary struct {
	User      *vital.User
	Retention *vital.RetentionRecord
	Hot       int64
	Compacted int64
	Chunks    []*database.StoredChunk
}

func (a *ServerApp) DescribeUser(ctx context.Context, username string) (*UserSummary, error) {
	u, err := a.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	_, rec, err := a.store.GetUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	hot, compacted, err := a.store.CountSamples(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	chunks, err := a.store.ListChunks(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &UserSummary{User: u, Retention: rec, Hot: hot, Compacted: compacted, Chunks: chunks}, nil
}

// ArchiveCat decrypts the archived chunk at key and writes its samples to
// w as JSON lines.
func (a *ServerApp) ArchiveCat(ctx context.Context, key, passphrase string, w io.Writer) (int, error) {
	if a.archiver == nil {
		return 0, errors.New("no archive vault configured")
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}
	env, err := a.archiver.Fetch(ctx, key, dec)
	if err != nil {
		return 0, err
	}
	samples, err := env.Samples()
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i := range samples {
		if err := enc.Encode(&samples[i]); err != nil {
			return i, err
		}
	}
	return len(samples), nil
}

// Close closes the central store and the log file.
func (a *ServerApp) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing central store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
