// Package provision synchronizes a worker's local plugin directory with the
// remote builtin and custom plugin trees before a run starts.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Page is one page of an object listing. When Truncated is set, NextToken
// must be passed back to fetch the following page.
type Page struct {
	Keys      []string
	Truncated bool
	NextToken string
}

// ObjectStore is the narrow object-storage protocol the provisioner needs:
// paginated key listing and key download.
type ObjectStore interface {
	ListPage(ctx context.Context, bucket, prefix, continuationToken string) (Page, error)
	Download(ctx context.Context, bucket, key, localPath string) error
}

// S3URI is a parsed s3://bucket/prefix location.
type S3URI struct {
	Bucket string
	Prefix string
}

// ParseS3URI parses an s3://bucket/prefix URI.
func ParseS3URI(uri string) (S3URI, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return S3URI{}, fmt.Errorf("plugin URI %q must use the s3:// scheme", uri)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return S3URI{}, fmt.Errorf("plugin URI %q has no bucket", uri)
	}
	return S3URI{Bucket: bucket, Prefix: prefix}, nil
}

// Provisioner downloads plugin trees into a local directory.
type Provisioner struct {
	Store  ObjectStore
	Logger *slog.Logger
}

// Sync clears localDir and downloads every key under each given URI to the
// path mirroring its key below localDir, creating parent directories as
// needed. Listing follows continuation tokens until a page reports
// not-truncated. Any transport error is fatal; nothing is retried here.
func (p *Provisioner) Sync(ctx context.Context, localDir string, uris ...S3URI) error {
	if strings.TrimSpace(localDir) == "" {
		return fmt.Errorf("local plugin directory is required")
	}
	if err := os.RemoveAll(localDir); err != nil {
		return fmt.Errorf("clear plugin directory: %w", err)
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("create plugin directory: %w", err)
	}

	for _, uri := range uris {
		if err := p.syncTree(ctx, localDir, uri); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) syncTree(ctx context.Context, localDir string, uri S3URI) error {
	token := ""
	for {
		page, err := p.Store.ListPage(ctx, uri.Bucket, uri.Prefix, token)
		if err != nil {
			return fmt.Errorf("list s3://%s/%s: %w", uri.Bucket, uri.Prefix, err)
		}
		for _, key := range page.Keys {
			if err := p.download(ctx, localDir, uri.Bucket, key); err != nil {
				return err
			}
		}
		if !page.Truncated {
			return nil
		}
		token = page.NextToken
	}
}

func (p *Provisioner) download(ctx context.Context, localDir, bucket, key string) error {
	localPath := filepath.Join(localDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	if p.Logger != nil {
		p.Logger.Debug("downloading plugin file", "bucket", bucket, "key", key, "path", localPath)
	}
	if err := p.Store.Download(ctx, bucket, key, localPath); err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
