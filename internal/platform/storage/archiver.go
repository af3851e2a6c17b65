// Package storage writes snapshots of terminal orders to Cloud Storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

// ObjectWriter stores one object. The GCS implementation is BucketWriter.
type ObjectWriter interface {
	WriteObject(ctx context.Context, name string, body []byte, metadata map[string]string) error
}

// BucketWriter writes objects into a Cloud Storage bucket.
type BucketWriter struct {
	bucket *gcs.BucketHandle
}

// NewBucketWriter wraps bucket on client.
func NewBucketWriter(client *gcs.Client, bucket string) (*BucketWriter, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("storage: archive bucket is required")
	}
	return &BucketWriter{bucket: client.Bucket(bucket)}, nil
}

// WriteObject uploads body. An existing object with the same name is left untouched.
func (w *BucketWriter) WriteObject(ctx context.Context, name string, body []byte, metadata map[string]string) error {
	obj := w.bucket.Object(name).If(gcs.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = metadata
	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("storage: close %s: %w", name, err)
	}
	return nil
}

// OrderArchiver stores a JSON snapshot per terminal order version.
type OrderArchiver struct {
	writer ObjectWriter
	prefix string
}

// NewOrderArchiver returns an archiver writing under prefix.
func NewOrderArchiver(writer ObjectWriter, prefix string) (*OrderArchiver, error) {
	if writer == nil {
		return nil, errors.New("storage: object writer is required")
	}
	return &OrderArchiver{writer: writer, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

// ObjectName is orders/{orderID}/v{version}.json under prefix.
func (a *OrderArchiver) ObjectName(order domain.Order) (string, error) {
	id := strings.TrimSpace(order.ID)
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", fmt.Errorf("storage: invalid order id %q", order.ID)
	}
	return path.Join(a.prefix, "orders", id, "v"+strconv.FormatInt(order.Version, 10)+".json"), nil
}

// ArchiveOrder writes the snapshot. Re-archiving the same version is a no-op.
func (a *OrderArchiver) ArchiveOrder(ctx context.Context, order domain.Order) error {
	name, err := a.ObjectName(order)
	if err != nil {
		return err
	}
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("storage: encode order %s: %w", order.ID, err)
	}
	return a.writer.WriteObject(ctx, name, body, map[string]string{
		"orderId":    order.ID,
		"customerId": order.CustomerID,
		"status":     string(order.Status),
	})
}

// MemoryWriter keeps objects in memory for tests and the memory storage driver.
type MemoryWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryWriter returns an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{objects: make(map[string][]byte)}
}

func (m *MemoryWriter) WriteObject(_ context.Context, name string, body []byte, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[name]; !exists {
		m.objects[name] = append([]byte(nil), body...)
	}
	return nil
}

// Object returns a stored object.
func (m *MemoryWriter) Object(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[name]
	return body, ok
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
