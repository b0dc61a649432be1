package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type capturedObject struct {
	bucket string
	object string
	attrs  ObjectAttrs
	buf    bytes.Buffer
	closed bool
}

type stubCreator struct {
	objects  []*capturedObject
	closeErr error
}

func (s *stubCreator) NewWriter(_ context.Context, bucket, object string, attrs ObjectAttrs) io.WriteCloser {
	obj := &capturedObject{bucket: bucket, object: object, attrs: attrs}
	s.objects = append(s.objects, obj)
	return &stubWriter{obj: obj, closeErr: s.closeErr}
}

type stubWriter struct {
	obj      *capturedObject
	closeErr error
}

func (w *stubWriter) Write(p []byte) (int, error) { return w.obj.buf.Write(p) }

func (w *stubWriter) Close() error {
	w.obj.closed = true
	return w.closeErr
}

func TestWebhookArchiveWritesBodyAndMetadata(t *testing.T) {
	creator := &stubCreator{}
	archive, err := newWebhookArchive(creator, "forensics")
	if err != nil {
		t.Fatalf("newWebhookArchive: %v", err)
	}
	archive.newID = func() string { return "entry1" }

	received := time.Date(2025, time.April, 2, 8, 0, 0, 0, time.UTC)
	object, err := archive.Archive(context.Background(), RejectedWebhook{
		Reason:     ReasonInvalidSignature,
		Body:       []byte(`{"event":"payment.captured"}`),
		Signature:  "deadbeef",
		RemoteAddr: "203.0.113.9",
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if object != "webhooks/payment/invalid-signature/2025/04/02/entry1.json" {
		t.Fatalf("unexpected object %q", object)
	}
	if len(creator.objects) != 1 {
		t.Fatalf("expected one object written")
	}
	got := creator.objects[0]
	if got.bucket != "forensics" || !got.closed {
		t.Fatalf("unexpected write %#v", got)
	}
	if got.buf.String() != `{"event":"payment.captured"}` {
		t.Fatalf("unexpected body %q", got.buf.String())
	}
	if got.attrs.Metadata["signature"] != "deadbeef" || got.attrs.Metadata["reason"] != "invalid-signature" {
		t.Fatalf("unexpected metadata %#v", got.attrs.Metadata)
	}
}

func TestWebhookArchivePropagatesCloseError(t *testing.T) {
	boom := errors.New("precondition failed")
	archive, err := newWebhookArchive(&stubCreator{closeErr: boom}, "forensics")
	if err != nil {
		t.Fatalf("newWebhookArchive: %v", err)
	}
	if _, err := archive.Archive(context.Background(), RejectedWebhook{Reason: ReasonMalformed, Body: []byte("x")}); !errors.Is(err, boom) {
		t.Fatalf("expected close error, got %v", err)
	}
}

func TestNewWebhookArchiveValidation(t *testing.T) {
	if _, err := NewWebhookArchive(nil, "bucket"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := newWebhookArchive(&stubCreator{}, " "); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}
