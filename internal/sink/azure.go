package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// NewAzure uploads artifacts as block blobs into container.
func NewAzure(connectionString, container, prefix string) (Sink, error) {
	if connectionString == "" || container == "" {
		return nil, errors.New("azure connection string and container are required")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure blob client: %w", err)
	}
	base := strings.TrimSuffix(client.URL(), "/")

	return &objectSink{
		kind:   "azure",
		prefix: prefix,
		put: func(ctx context.Context, key, contentType string, data []byte) error {
			_, err := client.UploadBuffer(ctx, container, key, data, &azblob.UploadBufferOptions{
				HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
			})
			return err
		},
		location: func(key string) string { return base + "/" + container + "/" + key },
	}, nil
}
