package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const maxArchivedSignatureLen = 256

// RejectedWebhook is a webhook delivery that was refused and kept for forensics.
type RejectedWebhook struct {
	Reason     ArchiveReason
	Body       []byte
	Signature  string
	RemoteAddr string
	Detail     string
	ReceivedAt time.Time
}

// ObjectAttrs are the attributes written alongside an archived object.
type ObjectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

type objectCreator interface {
	NewWriter(ctx context.Context, bucket, object string, attrs ObjectAttrs) io.WriteCloser
}

type gcsCreator struct {
	client *gcs.Client
}

func (c gcsCreator) NewWriter(ctx context.Context, bucket, object string, attrs ObjectAttrs) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.Metadata = attrs.Metadata
	return w
}

// WebhookArchive writes refused webhook bodies to a Cloud Storage bucket.
type WebhookArchive struct {
	bucket  string
	objects objectCreator
	now     func() time.Time
	newID   func() string
}

// NewWebhookArchive constructs an archive writing into bucket.
func NewWebhookArchive(client *gcs.Client, bucket string) (*WebhookArchive, error) {
	if client == nil {
		return nil, errors.New("webhook archive: client is required")
	}
	return newWebhookArchive(gcsCreator{client: client}, bucket)
}

func newWebhookArchive(objects objectCreator, bucket string) (*WebhookArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("webhook archive: bucket is required")
	}
	return &WebhookArchive{
		bucket:  bucket,
		objects: objects,
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}, nil
}

// Archive stores the rejected delivery and returns the object name.
func (a *WebhookArchive) Archive(ctx context.Context, entry RejectedWebhook) (string, error) {
	if a == nil || a.objects == nil {
		return "", errors.New("webhook archive: not initialised")
	}
	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = a.now()
	}
	object, err := BuildObjectPath(PathParams{
		Reason:     entry.Reason,
		ReceivedAt: receivedAt,
		EntryID:    a.newID(),
	})
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		"reason":     string(entry.Reason),
		"receivedAt": receivedAt.UTC().Format(time.RFC3339Nano),
	}
	if sig := strings.TrimSpace(entry.Signature); sig != "" {
		if len(sig) > maxArchivedSignatureLen {
			sig = sig[:maxArchivedSignatureLen]
		}
		metadata["signature"] = sig
	}
	if addr := strings.TrimSpace(entry.RemoteAddr); addr != "" {
		metadata["remoteAddr"] = addr
	}
	if detail := strings.TrimSpace(entry.Detail); detail != "" {
		metadata["detail"] = detail
	}

	w := a.objects.NewWriter(ctx, a.bucket, object, ObjectAttrs{
		ContentType: "application/json",
		Metadata:    metadata,
	})
	if _, err := w.Write(entry.Body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("webhook archive: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("webhook archive: close %s: %w", object, err)
	}
	return object, nil
}
