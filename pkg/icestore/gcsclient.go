package icestore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// GCSClient abstracts *storage.Client down to what the uploader needs so the
// archive path can be tested without a bucket.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context, attrs ObjectAttrs) GCSWriter
}

// GCSWriter abstracts a *storage.Writer.
type GCSWriter interface {
	io.WriteCloser
}

// ObjectAttrs are the metadata set on each archive object.
type ObjectAttrs struct {
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter wraps a *storage.Client as a GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context, attrs ObjectAttrs) GCSWriter {
	w := a.handle.NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.ContentEncoding = attrs.ContentEncoding
	w.Metadata = attrs.Metadata
	return w
}
