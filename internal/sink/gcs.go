package sink

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// NewGCS uploads artifacts to a Google Cloud Storage bucket. An empty
// credentialsFile uses application default credentials.
func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string) (Sink, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	handle := client.Bucket(bucket)

	return &objectSink{
		kind:   "gcs",
		prefix: prefix,
		put: func(ctx context.Context, key, contentType string, data []byte) error {
			w := handle.Object(key).NewWriter(ctx)
			w.ContentType = contentType
			if _, err := w.Write(data); err != nil {
				_ = w.Close()
				return err
			}
			return w.Close()
		},
		location: func(key string) string { return "gs://" + bucket + "/" + key },
		close:    client.Close,
	}, nil
}
