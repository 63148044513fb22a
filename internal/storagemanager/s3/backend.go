// Package s3 is the S3 storage.Backend, grounded on the blob-store S3
// client shape in the example pack (client + bucket + prefix, uploads via
// the S3 transfer manager). Unlike the local backend, S3 objects cannot be
// appended to, so each region is buffered in memory for the lifetime of
// one fragment and uploaded as a single PutObject on Commit.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
)

// Backend writes fragments as objects under bucket/prefix/<fragment-uri>/.
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func NewBackend(client *s3.Client, bucket, prefix string) *Backend {
	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// CheckAdmission is a no-op: S3 has no fixed capacity to admit against
// from the Writer's point of view, unlike the local backend's filesystem.
func (b *Backend) CheckAdmission(ctx context.Context, estimatedBytes uint64) error {
	return nil
}

func (b *Backend) key(uri, name string) string {
	return path.Join(b.prefix, uri, name)
}

func (b *Backend) Create(ctx context.Context, uri string) (storagemanager.FragmentHandle, error) {
	return &handle{backend: b, uri: uri, buffers: make(map[string]*bytes.Buffer), offsets: make(map[string]uint64)}, nil
}

func (b *Backend) Delete(ctx context.Context, uri string) error {
	prefix := b.key(uri, "")
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list fragment objects: %w", err)
		}
		for _, obj := range page.Contents {
			if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: &b.bucket,
				Key:    obj.Key,
			}); err != nil {
				return fmt.Errorf("failed to delete fragment object %s: %w", *obj.Key, err)
			}
		}
	}
	return nil
}

type handle struct {
	backend *Backend
	uri     string
	buffers map[string]*bytes.Buffer
	offsets map[string]uint64
	footer  *bytes.Buffer
}

func (h *handle) URI() string { return h.uri }

func (h *handle) WriteTile(field string, kind storagemanager.TileKind, data []byte) (uint64, error) {
	name := kind.FileName(field)
	buf, ok := h.buffers[name]
	if !ok {
		buf = &bytes.Buffer{}
		h.buffers[name] = buf
	}
	offset := h.offsets[name]
	n, _ := buf.Write(data)
	h.offsets[name] = offset + uint64(n)
	return offset, nil
}

func (h *handle) WriteFooter(data []byte) error {
	h.footer = bytes.NewBuffer(data)
	return nil
}

func (h *handle) Commit(ctx context.Context) error {
	for name, buf := range h.buffers {
		if err := h.upload(ctx, name, buf.Bytes()); err != nil {
			return err
		}
	}
	if h.footer != nil {
		if err := h.upload(ctx, storagemanager.FooterFileName, h.footer.Bytes()); err != nil {
			return err
		}
	}
	return h.upload(ctx, storagemanager.OKMarkerName, nil)
}

func (h *handle) Abort(ctx context.Context) error {
	return h.backend.Delete(ctx, h.uri)
}

func (h *handle) upload(ctx context.Context, name string, data []byte) error {
	key := h.backend.key(h.uri, name)
	_, err := h.backend.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &h.backend.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload fragment object %s: %w", key, err)
	}
	return nil
}
