package census

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/log"
)

// MaxFileSize bounds the census files the importers accept (about 2M
// voters).
const MaxFileSize = 64 << 20

// ImporterPlugin downloads census files from one kind of location. Each
// plugin must implement the following methods:
//   - ValidURI: checks if the provided targetURI is handled by this plugin.
//   - Download: returns the raw census file at targetURI.
type ImporterPlugin interface {
	ValidURI(targetURI string) bool
	Download(ctx context.Context, targetURI string) ([]byte, error)
}

// Fetcher loads census files and builds their trees. The plugins are tried
// in the given order of precedence.
type Fetcher struct {
	h       *poseidon.Hasher
	plugins []ImporterPlugin
}

// NewFetcher creates a Fetcher with the given plugins. Without plugins no
// census can be fetched.
func NewFetcher(h *poseidon.Hasher, plugins ...ImporterPlugin) *Fetcher {
	return &Fetcher{h: h, plugins: plugins}
}

// Fetch downloads the census at targetURI and builds its tree. If
// expectedRoot is not nil the tree root must match it.
func (f *Fetcher) Fetch(ctx context.Context, targetURI string, expectedRoot *big.Int) (*Tree, error) {
	for _, plugin := range f.plugins {
		if !plugin.ValidURI(targetURI) {
			continue
		}
		data, err := plugin.Download(ctx, targetURI)
		if err != nil {
			return nil, fmt.Errorf("download census %s: %w", targetURI, err)
		}
		leaves, err := ParseFile(f.h, data)
		if err != nil {
			return nil, err
		}
		tree, err := New(f.h, leaves)
		if err != nil {
			return nil, err
		}
		if expectedRoot != nil && tree.Root().Cmp(expectedRoot) != 0 {
			return nil, fmt.Errorf("census root mismatch: expected %s, got %s", expectedRoot, tree.Root())
		}
		log.Debugw("census imported", "uri", targetURI, "leaves", tree.Size())
		return tree, nil
	}
	return nil, fmt.Errorf("no importer plugin found for census URI: %s", targetURI)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("census file exceeds %d bytes", MaxFileSize)
	}
	return data, nil
}

// HTTPImporter returns a plugin for http:// and https:// census URLs.
func HTTPImporter(client *http.Client) ImporterPlugin {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpImporter{client: client}
}

type httpImporter struct {
	client *http.Client
}

func (*httpImporter) ValidURI(targetURI string) bool {
	return strings.HasPrefix(targetURI, "http://") || strings.HasPrefix(targetURI, "https://")
}

func (i *httpImporter) Download(ctx context.Context, targetURI string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request for %s: %w", targetURI, err)
	}
	req.Header.Set("Accept", "application/octet-stream, */*;q=0.1")
	res, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Warnw("failed to close census response body", "uri", targetURI, "error", err.Error())
		}
	}()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("status code %d, body: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return readLimited(res.Body)
}

// FileImporter returns a plugin for file:// URLs and plain paths.
func FileImporter() ImporterPlugin {
	return fileImporter{}
}

type fileImporter struct{}

func (fileImporter) ValidURI(targetURI string) bool {
	return strings.HasPrefix(targetURI, "file://") || strings.HasPrefix(targetURI, "/")
}

func (fileImporter) Download(_ context.Context, targetURI string) ([]byte, error) {
	f, err := os.Open(strings.TrimPrefix(targetURI, "file://"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warnw("failed to close census file", "uri", targetURI, "error", err.Error())
		}
	}()
	return readLimited(f)
}

// S3Config holds the settings of an S3 compatible object store.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Importer returns a plugin for s3://bucket/key census URLs.
func S3Importer(ctx context.Context, cfg S3Config) (ImporterPlugin, error) {
	// The region is required by the SDK even for endpoints that ignore it.
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cmp.Or(cfg.Region, "us-east-1")),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Importer{client: client}, nil
}

type s3Importer struct {
	client *s3.Client
}

func (*s3Importer) ValidURI(targetURI string) bool {
	return strings.HasPrefix(targetURI, "s3://")
}

// splitS3URI returns the bucket and key of an s3://bucket/key URI.
func splitS3URI(targetURI string) (string, string, error) {
	u, err := url.Parse(targetURI)
	if err != nil {
		return "", "", err
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 URI %q", targetURI)
	}
	return u.Host, key, nil
}

func (i *s3Importer) Download(ctx context.Context, targetURI string) ([]byte, error) {
	bucket, key, err := splitS3URI(targetURI)
	if err != nil {
		return nil, err
	}
	out, err := i.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := out.Body.Close(); err != nil {
			log.Warnw("failed to close s3 object body", "uri", targetURI, "error", err.Error())
		}
	}()
	return readLimited(out.Body)
}
