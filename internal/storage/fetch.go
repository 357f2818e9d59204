package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedRef = errors.New("unsupported document reference")
	ErrTooLarge       = errors.New("document exceeds size limit")
)

// S3Scope is the part of S3 that s3:// refs may read: one bucket, keys under
// Prefix, and never the service's own session blobs.
type S3Scope struct {
	Bucket string
	Prefix string
}

func (sc S3Scope) allows(bucket, key string) bool {
	if sc.Bucket == "" || bucket != sc.Bucket || validateKey(key) != nil {
		return false
	}
	if prefix := strings.Trim(sc.Prefix, "/"); prefix != "" {
		if !strings.HasPrefix(key, prefix+"/") {
			return false
		}
		key = strings.TrimPrefix(key, prefix+"/")
	}
	return !strings.HasPrefix(key, sessionsDir)
}

// Fetcher downloads documents referenced by http(s):// or s3://bucket/key.
type Fetcher struct {
	HTTP     *http.Client
	S3       *s3.Client
	Scope    S3Scope
	MaxBytes int64
}

// NewFetcher returns a Fetcher; s3cli may be nil to disable s3:// refs.
func NewFetcher(s3cli *s3.Client, scope S3Scope, maxBytes int64) *Fetcher {
	return &Fetcher{
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		S3:       s3cli,
		Scope:    scope,
		MaxBytes: maxBytes,
	}
}

// Fetch returns the bytes behind ref and a file name for display.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	// strip optional #page fragment
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedRef, ref)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("http %d", resp.StatusCode)
	}
	b, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return b, baseName(req.URL.Path), nil
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) ([]byte, string, error) {
	if f.S3 == nil {
		return nil, "", fmt.Errorf("%w: s3 not configured", ErrUnsupportedRef)
	}
	p := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return nil, "", fmt.Errorf("invalid s3 url: %s", ref)
	}
	bucket, key := p[:slash], p[slash+1:]
	if !f.Scope.allows(bucket, key) {
		log.Warn().Str("bucket", bucket).Str("key", key).Msg("rejected s3 ref outside document scope")
		return nil, "", fmt.Errorf("%w: s3://%s/%s is outside the document bucket", ErrUnsupportedRef, bucket, key)
	}
	out, err := f.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, "", err
	}
	defer out.Body.Close()
	b, err := f.readLimited(out.Body)
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int("size", len(b)).Msg("fetched s3 document")
	return b, path.Base(key), nil
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > f.MaxBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return "document.pdf"
	}
	return p
}
