package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Backblaze/blazer/b2"
)

// NewB2 uploads artifacts to a Backblaze B2 bucket.
func NewB2(ctx context.Context, accountID, applicationKey, bucket, prefix string) (Sink, error) {
	if accountID == "" || applicationKey == "" || bucket == "" {
		return nil, errors.New("b2 account id, application key and bucket are required")
	}
	client, err := b2.NewClient(ctx, accountID, applicationKey)
	if err != nil {
		return nil, fmt.Errorf("creating b2 client: %w", err)
	}
	bkt, err := client.Bucket(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("opening b2 bucket %s: %w", bucket, err)
	}

	return &objectSink{
		kind:   "b2",
		prefix: prefix,
		put: func(ctx context.Context, key, contentType string, data []byte) error {
			w := bkt.Object(key).NewWriter(ctx, b2.WithAttrsOption(&b2.Attrs{ContentType: contentType}))
			if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
				_ = w.Close()
				return err
			}
			return w.Close()
		},
		location: func(key string) string { return "b2://" + bucket + "/" + key },
	}, nil
}
