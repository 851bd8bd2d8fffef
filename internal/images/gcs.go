package images

import (
	"context"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"example.com/backstage/services/shortage/config"
)

const lookupTimeout = 5 * time.Second

// attrsLookup fetches the attributes of one object in the bucket
type attrsLookup func(ctx context.Context, object string) (*storage.ObjectAttrs, error)

// GCSImageStore resolves part images stored as <partCode>.png in a bucket
type GCSImageStore struct {
	bucket string
	client *storage.Client
	attrs  attrsLookup
}

// NewGCSImageStore connects to the configured bucket. A disabled store resolves nothing.
func NewGCSImageStore(ctx context.Context, cfg config.StorageConfig) (*GCSImageStore, error) {
	if !cfg.Enabled {
		return &GCSImageStore{bucket: cfg.Bucket}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}

	bkt := client.Bucket(cfg.Bucket)
	return &GCSImageStore{
		bucket: cfg.Bucket,
		client: client,
		attrs: func(ctx context.Context, object string) (*storage.ObjectAttrs, error) {
			return bkt.Object(object).Attrs(ctx)
		},
	}, nil
}

// ObjectName is the object key of a part's image
func ObjectName(partCode string) string {
	return strings.TrimSpace(partCode) + ".png"
}

// PartImageURL returns the public URL of the part's image, or "" when there is none or the
// lookup fails
func (s *GCSImageStore) PartImageURL(ctx context.Context, partCode string) string {
	if s.attrs == nil || strings.TrimSpace(partCode) == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	object := ObjectName(partCode)
	attrs, err := s.attrs(ctx, object)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			log.Warn().Err(err).Str("part_code", partCode).Msg("Part image lookup failed")
		}
		return ""
	}
	if attrs.MediaLink != "" {
		return attrs.MediaLink
	}
	return publicURL(s.bucket, object)
}

// Close releases the storage client
func (s *GCSImageStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func publicURL(bucket, object string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + url.PathEscape(object)
}
