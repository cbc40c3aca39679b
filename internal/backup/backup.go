// Package backup takes encrypted snapshots of the SQLite database and keeps
// them in S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"
)

const keyTimeFormat = "20060102T150405Z"

// ErrNotFound is returned by Restore for an unknown snapshot key.
var ErrNotFound = errors.New("backup: snapshot not found")

// objectStore is the part of the S3 API the manager uses.
type objectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds snapshot settings.
type Config struct {
	Bucket     string
	Prefix     string
	Passphrase string
	// Interval between scheduled snapshots.
	Interval time.Duration
	// Retention is how long snapshots are kept. The newest is never pruned.
	Retention time.Duration
}

// S3Options selects the object storage endpoint.
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3 client. Static keys are used when given, otherwise
// the default AWS credential chain.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Snapshot describes one stored snapshot.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager takes, lists, prunes and restores snapshots.
type Manager struct {
	client objectStore
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// serializes snapshots so a scheduled run and a manual one never overlap
	runMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager for db. db may be nil when the manager is
// only used to list or restore.
func NewManager(client objectStore, db *sql.DB, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	return &Manager{
		client: client,
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs a snapshot and prune every Interval until ctx is cancelled or
// Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runScheduled(ctx)
			}
		}
	}()
}

// Stop ends the schedule and waits for a running snapshot to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) runScheduled(ctx context.Context) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		m.logger.Error("scheduled snapshot failed", "error", err)
		return
	}
	m.logger.Info("snapshot uploaded", "key", snap.Key, "size", snap.Size)

	removed, err := m.Prune(ctx)
	if err != nil {
		m.logger.Error("prune snapshots failed", "error", err)
		return
	}
	if removed > 0 {
		m.logger.Info("old snapshots pruned", "removed", removed)
	}
}

// Snapshot copies the database, encrypts the copy and uploads it.
func (m *Manager) Snapshot(ctx context.Context) (*Snapshot, error) {
	if m.db == nil {
		return nil, errors.New("backup: no database to snapshot")
	}
	m.runMu.Lock()
	defer m.runMu.Unlock()

	dir, err := os.MkdirTemp("", "kidquest-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// consistent copy, taken while the server keeps serving
	copyPath := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", copyPath); err != nil {
		return nil, fmt.Errorf("copy database: %w", err)
	}
	plain, err := os.ReadFile(copyPath)
	if err != nil {
		return nil, fmt.Errorf("read database copy: %w", err)
	}
	sealed, err := Seal(plain, m.cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt snapshot: %w", err)
	}

	created := m.now().UTC()
	key := m.cfg.Prefix + "kidquest-" + created.Format(keyTimeFormat) + ".db.enc"
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return nil, fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return &Snapshot{Key: key, Size: int64(len(sealed)), CreatedAt: created}, nil
}

// List returns the stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.Bucket),
		Prefix: aws.String(m.cfg.Prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			created, ok := parseKeyTime(strings.TrimPrefix(key, m.cfg.Prefix))
			if !ok {
				continue
			}
			snaps = append(snaps, Snapshot{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: created})
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

func parseKeyTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, "kidquest-") || !strings.HasSuffix(name, ".db.enc") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "kidquest-"), ".db.enc")
	t, err := time.Parse(keyTimeFormat, stamp)
	return t, err == nil
}

// Prune deletes snapshots older than Retention and reports how many went.
// The newest snapshot is always kept.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	snaps, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.cfg.Retention)

	removed := 0
	for i, snap := range snaps {
		if i == 0 || !snap.CreatedAt.Before(cutoff) {
			continue
		}
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(snap.Key),
		})
		if err != nil {
			return removed, fmt.Errorf("delete snapshot %s: %w", snap.Key, err)
		}
		removed++
	}
	return removed, nil
}

// Restore downloads and decrypts the snapshot at key, checks it is a sound
// SQLite database and moves it to dbPath. The server must not be running.
func (m *Manager) Restore(ctx context.Context, key, dbPath string) error {
	if !strings.HasPrefix(key, m.cfg.Prefix) {
		key = m.cfg.Prefix + key
	}
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download snapshot %s: %w: %w", key, ErrNotFound, err)
	}
	sealed, err := io.ReadAll(out.Body)
	out.Body.Close()
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", key, err)
	}
	plain, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return err
	}

	// staged next to the target so the final rename stays on one filesystem
	staged := dbPath + ".restore"
	if err := os.WriteFile(staged, plain, 0o600); err != nil {
		return fmt.Errorf("write restored database: %w", err)
	}
	if err := checkIntegrity(ctx, staged); err != nil {
		os.Remove(staged)
		return err
	}
	if err := os.Rename(staged, dbPath); err != nil {
		os.Remove(staged)
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored database: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
