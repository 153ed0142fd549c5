package etl

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type S3Options struct {
	ObjectStorageOptions `mapstructure:",squash"`
	Region               string `mapstructure:"region"`
	Endpoint             string `mapstructure:"endpoint"`
	PathStyle            bool   `mapstructure:"path_style"`
}

type s3Bucket struct {
	name     string
	client   *s3.S3
	uploader *s3manager.Uploader
}

func newS3Writer(ctx context.Context, o *S3Options, d Deps) (Writer, error) {
	env := d.env()
	region := o.Region
	if region == "" {
		region = env.AWSRegion
	}
	cfg := &aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(o.PathStyle),
	}
	if o.Endpoint != "" {
		cfg.Endpoint = aws.String(o.Endpoint)
	}
	if env.AWSAccessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(env.AWSAccessKeyID, env.AWSSecretAccessKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	client := s3.New(sess)
	b := &s3Bucket{
		name:     o.Bucket,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
	w, err := NewObjectStorageWriter(ctx, "s3", b, o.ObjectStorageOptions)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (b *s3Bucket) Name() string { return b.name }

func (b *s3Bucket) Exists(ctx context.Context) error {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)})
	return err
}

func (b *s3Bucket) Put(ctx context.Context, object string, body io.Reader, contentType, contentEncoding string) error {
	in := &s3manager.UploadInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(object),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if contentEncoding != "" {
		in.ContentEncoding = aws.String(contentEncoding)
	}
	_, err := b.uploader.UploadWithContext(ctx, in)
	return err
}

func (b *s3Bucket) URI(object string) string {
	return fmt.Sprintf("s3://%s/%s", b.name, object)
}
