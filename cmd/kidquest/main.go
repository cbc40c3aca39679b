package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/kidquest/internal/backup"
	"github.com/dukerupert/kidquest/internal/config"
	"github.com/dukerupert/kidquest/internal/database"
	"github.com/dukerupert/kidquest/internal/docstore"
	"github.com/dukerupert/kidquest/internal/logging"
	"github.com/dukerupert/kidquest/internal/realtime"
	"github.com/dukerupert/kidquest/internal/server"
	"github.com/dukerupert/kidquest/internal/sms"
	"github.com/dukerupert/kidquest/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}
	switch args[0] {
	case "serve":
		err = run(cfg, logger)
	case "snapshots":
		err = listSnapshots(cfg, logger)
	case "restore":
		if len(args) != 2 {
			err = errors.New("usage: kidquest restore <snapshot-key>")
			break
		}
		err = restoreSnapshot(cfg, logger, args[1])
	default:
		err = fmt.Errorf("unknown command %q (want serve, snapshots or restore)", args[0])
	}
	if err != nil {
		logger.Error("kidquest stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecretGenerated {
		logger.Warn("KIDQUEST_JWT_SECRET not set, using a random secret; sessions end on restart")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	docs, err := openDocstore(ctx, cfg, db)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger.With("component", "websocket"))
	opts := server.Options{
		AppID:           cfg.AppID,
		JWTSecret:       cfg.JWTSecret,
		SessionTTL:      cfg.SessionTTL,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		VAPIDSubscriber: cfg.VAPIDSubscriber,
		SMS:             sms.NewClient(cfg.SMSGatewayURL, cfg.SMSToken, cfg.SMSFrom, logger.With("component", "sms")),
		AllowedOrigins:  cfg.AllowedOrigins,
		TrustedProxies:  cfg.TrustedProxies,
	}
	if cfg.ProfileSeed != 0 {
		opts.ProfileRand = rand.New(rand.NewPCG(cfg.ProfileSeed, cfg.ProfileSeed))
	}

	if cfg.RedisAddr != "" {
		rdb, err := realtime.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()

		relay := realtime.NewRelay(rdb, hub, logger.With("component", "realtime"))
		opts.Events = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("realtime relay stopped", "error", err)
			}
		}()
	}

	srv := server.New(db, docs, hub, opts, logger)
	srv.Sweeper().Start(ctx)
	defer srv.Sweeper().Stop()

	if cfg.Backup.Bucket != "" {
		backups, err := newBackupManager(ctx, cfg, db, logger)
		if err != nil {
			return err
		}
		backups.Start(ctx)
		defer backups.Stop()
		logger.Info("snapshots enabled", "bucket", cfg.Backup.Bucket, "interval", cfg.Backup.Interval)
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.Router(),
		ReadTimeout: 5 * time.Second,
		// websocket connections outlive any write deadline, so none is set
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("kidquest listening", "addr", httpServer.Addr, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Shutdown does not wait for hijacked websocket connections
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openDocstore(ctx context.Context, cfg *config.Config, db *sql.DB) (docstore.Store, error) {
	if cfg.Store != config.StoreDynamoDB {
		return docstore.NewSQLStore(db), nil
	}

	client, err := docstore.NewDynamoClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dynamodb client: %w", err)
	}
	docs := docstore.NewDynamoStore(client, cfg.DynamoTablePrefix)
	err = docs.EnsureTables(ctx, 2*time.Minute,
		docstore.Collection(cfg.AppID, "users"),
		docstore.Collection(cfg.AppID, "rooms"),
	)
	if err != nil {
		return nil, fmt.Errorf("dynamodb tables: %w", err)
	}
	return docs, nil
}

func newBackupManager(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*backup.Manager, error) {
	if cfg.Backup.Bucket == "" {
		return nil, errors.New("KIDQUEST_BACKUP_BUCKET is not set")
	}
	client, err := backup.NewS3Client(ctx, backup.S3Options{
		Region:    cfg.Backup.Region,
		Endpoint:  cfg.Backup.Endpoint,
		AccessKey: cfg.Backup.AccessKey,
		SecretKey: cfg.Backup.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return backup.NewManager(client, db, backup.Config{
		Bucket:     cfg.Backup.Bucket,
		Prefix:     cfg.Backup.Prefix,
		Passphrase: cfg.Backup.Passphrase,
		Interval:   cfg.Backup.Interval,
		Retention:  cfg.Backup.Retention,
	}, logger.With("component", "backup")), nil
}

func listSnapshots(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()
	m, err := newBackupManager(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	snaps, err := m.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		fmt.Printf("%s\t%d\t%s\n", s.Key, s.Size, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// restoreSnapshot replaces the database file. Run it with the server stopped.
func restoreSnapshot(cfg *config.Config, logger *slog.Logger, key string) error {
	ctx := context.Background()
	m, err := newBackupManager(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	if err := m.Restore(ctx, key, cfg.DBPath); err != nil {
		return err
	}
	logger.Info("database restored", "key", key, "path", cfg.DBPath)
	return nil
}
