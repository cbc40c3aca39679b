package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dukerupert/kidquest/internal/database"
)

// mockS3Client keeps objects in memory.
type mockS3Client struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	pageSize int
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), pageSize: 1000}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, _ := io.ReadAll(input.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if input.ContinuationToken != nil {
		for start < len(keys) && keys[start] <= *input.ContinuationToken {
			start++
		}
	}
	end := min(start+m.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(m.objects[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Bucket:     "kq",
		Prefix:     "snapshots",
		Passphrase: "correct horse battery",
		Interval:   time.Hour,
		Retention:  48 * time.Hour,
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO documents (collection, id, body) VALUES ('apps/kidquest/users', 'u1', '{"username":"BraveComet12"}')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	client := newMockS3()
	m := NewManager(client, db, testConfig(), discardLogger())
	m.now = func() time.Time { return time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC) }

	snap, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Key != "snapshots/kidquest-20261014T030000Z.db.enc" {
		t.Errorf("key = %q", snap.Key)
	}
	if bytes.Contains(client.objects[snap.Key], []byte("BraveComet12")) {
		t.Error("uploaded snapshot is not encrypted")
	}

	target := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(context.Background(), snap.Key, target); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := os.Stat(target + ".restore"); !os.IsNotExist(err) {
		t.Error("staging file left behind")
	}

	restored, err := database.Open(target)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	var body string
	if err := restored.QueryRow(`SELECT body FROM documents WHERE id = 'u1'`).Scan(&body); err != nil {
		t.Fatalf("query restored: %v", err)
	}
	if !strings.Contains(body, "BraveComet12") {
		t.Errorf("restored body = %s", body)
	}
}

func TestSnapshotUploadError(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	client := newMockS3()
	client.putErr = errors.New("bucket gone")
	m := NewManager(client, db, testConfig(), discardLogger())

	if _, err := m.Snapshot(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestSnapshotWithoutDB(t *testing.T) {
	m := NewManager(newMockS3(), nil, testConfig(), discardLogger())
	if _, err := m.Snapshot(context.Background()); err == nil {
		t.Fatal("expected error without a database")
	}
}

func TestRestoreErrors(t *testing.T) {
	client := newMockS3()
	m := NewManager(client, nil, testConfig(), discardLogger())
	target := filepath.Join(t.TempDir(), "restored.db")

	err := m.Restore(context.Background(), "kidquest-20260101T000000Z.db.enc", target)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key: err = %v, want ErrNotFound", err)
	}

	sealed, _ := Seal([]byte("not a database"), "some other passphrase")
	client.objects["snapshots/kidquest-20260102T000000Z.db.enc"] = sealed
	err = m.Restore(context.Background(), "kidquest-20260102T000000Z.db.enc", target)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong passphrase: err = %v, want ErrDecrypt", err)
	}

	sealed, _ = Seal([]byte("not a database, just text padded out to look like a page"), testConfig().Passphrase)
	client.objects["snapshots/kidquest-20260103T000000Z.db.enc"] = sealed
	if err := m.Restore(context.Background(), "kidquest-20260103T000000Z.db.enc", target); err == nil {
		t.Error("expected integrity failure for a non-database")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("target written despite failed restore")
	}
}

func TestListAndPrune(t *testing.T) {
	client := newMockS3()
	client.pageSize = 2
	for _, k := range []string{
		"snapshots/kidquest-20261010T030000Z.db.enc",
		"snapshots/kidquest-20261012T030000Z.db.enc",
		"snapshots/kidquest-20261013T030000Z.db.enc",
		"snapshots/kidquest-20261014T030000Z.db.enc",
		"snapshots/notes.txt",
		"other/kidquest-20261001T030000Z.db.enc",
	} {
		client.objects[k] = []byte("x")
	}

	m := NewManager(client, nil, testConfig(), discardLogger())
	m.now = func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }

	snaps, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 4 {
		t.Fatalf("listed %d snapshots, want 4", len(snaps))
	}
	if snaps[0].Key != "snapshots/kidquest-20261014T030000Z.db.enc" {
		t.Errorf("newest = %q", snaps[0].Key)
	}

	removed, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, ok := client.objects["snapshots/kidquest-20261013T030000Z.db.enc"]; !ok {
		t.Error("snapshot inside retention was pruned")
	}
	if _, ok := client.objects["other/kidquest-20261001T030000Z.db.enc"]; !ok {
		t.Error("object outside prefix was pruned")
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	client := newMockS3()
	client.objects["snapshots/kidquest-20250101T000000Z.db.enc"] = []byte("x")
	client.objects["snapshots/kidquest-20250102T000000Z.db.enc"] = []byte("x")

	m := NewManager(client, nil, testConfig(), discardLogger())
	removed, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := client.objects["snapshots/kidquest-20250102T000000Z.db.enc"]; !ok {
		t.Error("newest snapshot was pruned")
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(newMockS3(), nil, testConfig(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	m.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic
	m.Stop()
}
