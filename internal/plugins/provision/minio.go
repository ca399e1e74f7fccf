package provision

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
)

const listPageSize = 1000

// MinioStore adapts a minio client to the ObjectStore protocol. Listing
// uses the V2 API so continuation tokens are followed explicitly.
type MinioStore struct {
	client *minio.Client
	core   *minio.Core
}

func NewMinioStore(client *minio.Client) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &MinioStore{client: client, core: &minio.Core{Client: client}}, nil
}

func (s *MinioStore) ListPage(ctx context.Context, bucket, prefix, continuationToken string) (Page, error) {
	if s == nil || s.core == nil {
		return Page{}, fmt.Errorf("minio store not initialized")
	}
	result, err := s.core.ListObjectsV2(bucket, prefix, "", continuationToken, "", listPageSize)
	if err != nil {
		return Page{}, err
	}
	page := Page{
		Keys:      make([]string, 0, len(result.Contents)),
		Truncated: result.IsTruncated,
		NextToken: result.NextContinuationToken,
	}
	for _, obj := range result.Contents {
		page.Keys = append(page.Keys, obj.Key)
	}
	return page, nil
}

func (s *MinioStore) Download(ctx context.Context, bucket, key, localPath string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio store not initialized")
	}
	return s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{})
}
