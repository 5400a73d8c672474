package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"waypoint/internal/config"
	"waypoint/internal/queue"
	"waypoint/internal/services"
)

type fakeObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+key] = data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	cfg := config.Default()
	a, err := New(&cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := a.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", a)
	}
	key, err := a.Snapshot(context.Background(), []queue.Record{{ID: "x"}})
	if err != nil || key != "" {
		t.Fatalf("Noop snapshot = %q, %v", key, err)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.Enabled = true
	cfg.Archive.Endpoint = ""
	if _, err := New(&cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600))
	if got, want := ObjectKey("gate-3", at, 12), "gate-3/20260314T082653Z-12.json"; got != want {
		t.Fatalf("ObjectKey = %q, want %q", got, want)
	}
}

func TestSnapshotCreatesBucketAndUploads(t *testing.T) {
	objects := newFakeObjects()
	a := newMinioArchiver(objects, "scans", "", "gate-3", nil)
	a.now = func() time.Time { return time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC) }

	records := []queue.Record{
		{ID: "a", TagIdentifier: "A1", CheckpointID: 7, Status: queue.StatusSynced},
		{ID: "b", TagIdentifier: "B2", CheckpointID: 7, Status: queue.StatusPending},
	}
	key, err := a.Snapshot(context.Background(), records)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if key != "gate-3/20260314T080000Z-2.json" {
		t.Fatalf("unexpected key %q", key)
	}
	if !objects.buckets["scans"] {
		t.Fatal("bucket not created")
	}
	var body snapshot
	if err := json.Unmarshal(objects.objects["scans/"+key], &body); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if body.DeviceID != "gate-3" || len(body.Records) != 2 || body.Stats.Synced != 1 || body.Stats.Pending != 1 {
		t.Fatalf("unexpected snapshot %+v", body)
	}
}

func TestSnapshotUploadFailureIsTransient(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("connection reset")
	a := newMinioArchiver(objects, "scans", "", "gate-3", nil)
	if _, err := a.Snapshot(context.Background(), nil); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
