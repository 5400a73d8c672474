// Package archive uploads JSON snapshots of the scan queue to S3-compatible
// object storage before destructive operator actions.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"waypoint/internal/config"
	"waypoint/internal/logging"
	"waypoint/internal/queue"
	"waypoint/internal/services"
)

const keyTimeLayout = "20060102T150405Z"

// Archiver stores a snapshot of records and returns its object key.
type Archiver interface {
	Snapshot(ctx context.Context, records []queue.Record) (string, error)
}

// Noop discards snapshots.
type Noop struct{}

// Snapshot implements Archiver.
func (Noop) Snapshot(context.Context, []queue.Record) (string, error) { return "", nil }

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioArchiver writes snapshots through the minio client.
type MinioArchiver struct {
	client   objectStore
	bucket   string
	region   string
	deviceID string
	logger   *slog.Logger
	now      func() time.Time
}

// snapshot is the object body.
type snapshot struct {
	DeviceID  string         `json:"deviceId"`
	CreatedAt time.Time      `json:"createdAt"`
	Stats     queue.Stats    `json:"stats"`
	Records   []queue.Record `json:"records"`
}

// New returns Noop when archiving is disabled and a MinioArchiver otherwise.
func New(cfg *config.Config, logger *slog.Logger) (Archiver, error) {
	if cfg == nil || !cfg.Archive.Enabled {
		return Noop{}, nil
	}
	a := cfg.Archive
	if strings.TrimSpace(a.Endpoint) == "" || strings.TrimSpace(a.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "init",
			"archive.endpoint and archive.bucket are required when archive.enabled is set", nil)
	}
	client, err := minio.New(a.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(a.AccessKey, a.SecretKey, ""),
		Secure: a.UseSSL,
		Region: a.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "init", "create object storage client", err)
	}
	return newMinioArchiver(client, a.Bucket, a.Region, deviceID(a.DeviceID), logger), nil
}

func newMinioArchiver(client objectStore, bucket, region, device string, logger *slog.Logger) *MinioArchiver {
	return &MinioArchiver{
		client:   client,
		bucket:   bucket,
		region:   region,
		deviceID: device,
		logger:   logging.NewComponentLogger(logger, "archive"),
		now:      time.Now,
	}
}

func deviceID(configured string) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown-device"
}

// ObjectKey names a snapshot of n records taken at t.
func ObjectKey(device string, t time.Time, n int) string {
	return fmt.Sprintf("%s/%s-%d.json", device, t.UTC().Format(keyTimeLayout), n)
}

// Snapshot uploads records and returns the object key.
func (m *MinioArchiver) Snapshot(ctx context.Context, records []queue.Record) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}

	created := m.now().UTC()
	body := snapshot{DeviceID: m.deviceID, CreatedAt: created, Records: records}
	for _, rec := range records {
		body.Stats.Total++
		switch rec.Status {
		case queue.StatusPending:
			body.Stats.Pending++
		case queue.StatusSynced:
			body.Stats.Synced++
		case queue.StatusFailed:
			body.Stats.Failed++
		}
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := ObjectKey(m.deviceID, created, len(records))
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "archive", "upload",
			fmt.Sprintf("upload %s", key), err)
	}
	m.logger.Info("queue snapshot archived",
		logging.String(logging.FieldEventType, "queue_snapshot_archived"),
		logging.String("bucket", m.bucket),
		logging.String("key", key),
		logging.Int("records", len(records)),
	)
	return key, nil
}

func (m *MinioArchiver) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return services.Wrap(services.ErrTransient, "archive", "check bucket", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return services.Wrap(services.ErrTransient, "archive", "make bucket", m.bucket, err)
	}
	return nil
}
