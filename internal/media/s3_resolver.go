package media

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
)

// sniffBytes is what filetype needs to recognise every supported format.
const sniffBytes = 262

type StorageConfig struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	// Endpoint overrides the R2 endpoint derived from AccountID.
	Endpoint string
	Region   string
}

// NewS3Client builds an S3 client for Cloudflare R2 or any S3-compatible store.
func NewS3Client(ctx context.Context, cfg StorageConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountID != "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Resolver resolves media assets stored in an S3 bucket. Assets with a
// public URL are used as-is, the rest get a presigned GET URL.
type S3Resolver struct {
	assets  repository.MediaAssetRepository
	objects ObjectGetter
	presign Presigner
	bucket  string
	ttl     time.Duration
}

func NewS3Resolver(assets repository.MediaAssetRepository, client *s3.Client, bucket string, ttl time.Duration) *S3Resolver {
	r := &S3Resolver{assets: assets, bucket: bucket, ttl: ttl}
	if client != nil {
		r.objects = client
		r.presign = s3.NewPresignClient(client)
	}
	return r
}

func (r *S3Resolver) Resolve(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	assets, err := r.assets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load media assets: %v: %w", err, ErrResolve)
	}
	byID := make(map[string]*models.MediaAsset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		asset, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("media %s not found: %w", id, ErrResolve)
		}

		url, err := r.url(ctx, asset)
		if err != nil {
			return nil, err
		}
		kind, err := r.kind(ctx, asset)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{ID: id, URL: url, Kind: kind})
	}
	return items, nil
}

func (r *S3Resolver) url(ctx context.Context, asset *models.MediaAsset) (string, error) {
	if asset.PublicURL != "" {
		return asset.PublicURL, nil
	}
	if r.presign == nil {
		return "", fmt.Errorf("media %s has no public url and storage is not configured: %w", asset.ID, ErrResolve)
	}

	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(asset.ObjectKey),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("presign media %s: %v: %w", asset.ID, err, ErrResolve)
	}
	return req.URL, nil
}

// kind trusts the stored mime type and sniffs the object head otherwise.
func (r *S3Resolver) kind(ctx context.Context, asset *models.MediaAsset) (platform.MediaKind, error) {
	if k := KindFromMIME(asset.FileType); k != platform.MediaKindUnknown {
		return k, nil
	}
	if r.objects == nil || asset.ObjectKey == "" {
		return "", fmt.Errorf("media %s has unknown type %q: %w", asset.ID, asset.FileType, ErrResolve)
	}

	out, err := r.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(asset.ObjectKey),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", sniffBytes-1)),
	})
	if err != nil {
		return "", fmt.Errorf("read media %s: %v: %w", asset.ID, err, ErrResolve)
	}
	defer out.Body.Close()

	head, err := io.ReadAll(io.LimitReader(out.Body, sniffBytes))
	if err != nil {
		return "", fmt.Errorf("read media %s: %v: %w", asset.ID, err, ErrResolve)
	}

	if k := Sniff(head); k != platform.MediaKindUnknown {
		return k, nil
	}
	return "", fmt.Errorf("media %s is neither image nor video: %w", asset.ID, ErrResolve)
}

func KindFromMIME(mime string) platform.MediaKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return platform.MediaKindImage
	case strings.HasPrefix(mime, "video/"):
		return platform.MediaKindVideo
	}
	return platform.MediaKindUnknown
}

// Sniff detects the media kind from the first bytes of a file.
func Sniff(head []byte) platform.MediaKind {
	switch {
	case filetype.IsImage(head):
		return platform.MediaKindImage
	case filetype.IsVideo(head):
		return platform.MediaKindVideo
	}
	return platform.MediaKindUnknown
}
