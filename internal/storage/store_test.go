package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flowline/internal/storage"
	"flowline/internal/testsupport"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStorage(t, cfg)
}

func TestEnsureBucketIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.EnsureBucket(ctx, 42, "ornithopter"); err != nil {
			t.Fatalf("EnsureBucket attempt %d failed: %v", i+1, err)
		}
	}

	exists, err := store.BucketExists(ctx, 42)
	if err != nil {
		t.Fatalf("BucketExists failed: %v", err)
	}
	if !exists {
		t.Fatal("bucket should exist after EnsureBucket")
	}

	buckets, err := store.ListBuckets(ctx)
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("expected one registry entry, got %d", len(buckets))
	}
	if buckets[0].PipelineName != "ornithopter" {
		t.Errorf("unexpected pipeline name %q", buckets[0].PipelineName)
	}
}

func TestEnsureBucketConcurrentCreators(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	const creators = 8
	errs := make(chan error, creators)
	var wg sync.WaitGroup
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.EnsureBucket(ctx, 7, "concurrent")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent EnsureBucket failed: %v", err)
		}
	}

	buckets, err := store.ListBuckets(ctx)
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("expected a single registry entry, got %d", len(buckets))
	}
}

func TestAppendConcurrentWriters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, storage.Content{PipelineID: 9, Data: []byte(`{"value1":1}`)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Append failed: %v", err)
		}
	}

	contents, err := store.GetBucketContent(ctx, 9)
	if err != nil {
		t.Fatalf("GetBucketContent failed: %v", err)
	}
	if len(contents) != writers {
		t.Fatalf("expected %d rows, got %d", writers, len(contents))
	}
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, err := store.Append(ctx, storage.Content{PipelineID: 1, Data: []byte(`{"value1":1}`)})
	if err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	second, err := store.Append(ctx, storage.Content{PipelineID: 1, Data: []byte(`{"value1":2}`)})
	if err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	if second <= first {
		t.Fatalf("ids must increase: first %d second %d", first, second)
	}

	contents, err := store.GetBucketContent(ctx, 1)
	if err != nil {
		t.Fatalf("GetBucketContent failed: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("expected two rows, got %d", len(contents))
	}
	if string(contents[0].Data) != `{"value1":1}` {
		t.Errorf("unexpected first row data %s", contents[0].Data)
	}
}

func TestAppendProvisionsMissingBucket(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, storage.Content{PipelineID: 99, Data: []byte(`{}`)}); err != nil {
		t.Fatalf("Append into unprovisioned bucket failed: %v", err)
	}
	exists, err := store.BucketExists(ctx, 99)
	if err != nil {
		t.Fatalf("BucketExists failed: %v", err)
	}
	if !exists {
		t.Fatal("Append should have provisioned the bucket")
	}
}

func TestAppendDeduplicatesByEventID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	row := storage.Content{
		PipelineID: 5,
		EventID:    "f3f0c9be-9d41-4a5b-94a9-0f6e0fdfe864",
		Data:       []byte(`{"value1":1}`),
	}
	first, err := store.Append(ctx, row)
	if err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	redelivered, err := store.Append(ctx, row)
	if err != nil {
		t.Fatalf("redelivered Append failed: %v", err)
	}
	if redelivered != first {
		t.Fatalf("redelivery must return the original id: got %d want %d", redelivered, first)
	}

	contents, err := store.GetBucketContent(ctx, 5)
	if err != nil {
		t.Fatalf("GetBucketContent failed: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("redelivery must not add a row: got %d rows", len(contents))
	}
}

func TestAppendWithoutEventIDAlwaysWrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Append(ctx, storage.Content{PipelineID: 6, Data: []byte(`{"value1":1}`)}); err != nil {
			t.Fatalf("Append %d failed: %v", i+1, err)
		}
	}
	contents, err := store.GetBucketContent(ctx, 6)
	if err != nil {
		t.Fatalf("GetBucketContent failed: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("rows without event ids must not deduplicate: got %d rows", len(contents))
	}
}

func TestGetBucketContentMissingBucket(t *testing.T) {
	store := newStore(t)

	_, err := store.GetBucketContent(context.Background(), 404)
	if !errors.Is(err, storage.ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
}

func TestGetBucketContentEmptyBucket(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.EnsureBucket(ctx, 8, "empty"); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}
	contents, err := store.GetBucketContent(ctx, 8)
	if err != nil {
		t.Fatalf("empty bucket must not be an error: %v", err)
	}
	if len(contents) != 0 {
		t.Fatalf("expected no rows, got %d", len(contents))
	}
}

func TestGetContent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.Append(ctx, storage.Content{
		PipelineID: 3,
		Data:       []byte(`{"value1":7}`),
		Origin:     "http://storage.example/3",
		Timestamp:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	content, err := store.GetContent(ctx, 3, id)
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if content.Origin != "http://storage.example/3" {
		t.Errorf("unexpected origin %q", content.Origin)
	}
	if !content.Timestamp.Equal(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", content.Timestamp)
	}

	if _, err := store.GetContent(ctx, 3, id+100); !errors.Is(err, storage.ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
	if _, err := store.GetContent(ctx, 404, 1); !errors.Is(err, storage.ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
}

func TestMarkBucketDeletedRetainsData(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, storage.Content{PipelineID: 11, Data: []byte(`{}`)}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.MarkBucketDeleted(ctx, 11); err != nil {
		t.Fatalf("MarkBucketDeleted failed: %v", err)
	}

	buckets, err := store.ListBuckets(ctx)
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 1 || buckets[0].DeletedAt == nil {
		t.Fatal("expected the registry entry to be marked deleted")
	}

	// Rows survive deletion; cleanup is an explicit operator action.
	contents, err := store.GetBucketContent(ctx, 11)
	if err != nil {
		t.Fatalf("GetBucketContent after delete failed: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected retained row, got %d rows", len(contents))
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := storage.Open(cfg.StorageDatabasePath(), 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening the same file with a matching schema version succeeds.
	reopened, err := storage.Open(cfg.StorageDatabasePath(), 0)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("Close after reopen failed: %v", err)
	}
}

func TestBucketName(t *testing.T) {
	if name := storage.BucketName(17); name != "bucket_17" {
		t.Fatalf("unexpected bucket name %q", name)
	}
}
