package etl

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSOptions struct {
	ObjectStorageOptions `mapstructure:",squash"`
	Project              string `mapstructure:"project"`
	CredentialsFile      string `mapstructure:"credentials_file"`
}

type gcsBucket struct {
	name   string
	handle *storage.BucketHandle
}

func newGCSWriter(ctx context.Context, o *GCSOptions, _ Deps) (Writer, error) {
	var opts []option.ClientOption
	if o.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	}
	if o.Project != "" {
		opts = append(opts, option.WithQuotaProject(o.Project))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	b := &gcsBucket{name: o.Bucket, handle: client.Bucket(o.Bucket)}
	w, err := NewObjectStorageWriter(ctx, "gcs", b, o.ObjectStorageOptions)
	if err != nil {
		closeQuietly(client, "gcs client")
		return nil, err
	}
	w.client = client
	return w, nil
}

func (b *gcsBucket) Name() string { return b.name }

func (b *gcsBucket) Exists(ctx context.Context) error {
	_, err := b.handle.Attrs(ctx)
	return err
}

func (b *gcsBucket) Put(ctx context.Context, object string, body io.Reader, contentType, contentEncoding string) error {
	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentEncoding = contentEncoding
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *gcsBucket) URI(object string) string {
	return fmt.Sprintf("gs://%s/%s", b.name, object)
}
