// Package storage persists agent dumps to any location afs can address:
// local paths, file:// URLs, or object stores.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Config defines where uploads are written and what they must look like
type Config struct {
	UploadURL        string `toml:"upload_url"`
	AllowedExtension string `toml:"allowed_extension"`
}

// DefaultConfig returns the stock upload location
func DefaultConfig() Config {
	return Config{
		UploadURL:        "file:///var/lib/ganymede/uploads",
		AllowedExtension: ".encrypted",
	}
}

// Validate checks the storage configuration
func (c Config) Validate() error {
	if c.UploadURL == "" {
		return fmt.Errorf("upload_url must not be empty")
	}
	if !strings.HasPrefix(c.AllowedExtension, ".") {
		return fmt.Errorf("allowed_extension must start with a dot, got %q", c.AllowedExtension)
	}
	return nil
}

// UploadStore writes dumps under a base URL
type UploadStore struct {
	fs        afs.Service
	baseURL   string
	extension string
}

// NewUploadStore creates the store, creating the base location when it
// does not exist
func NewUploadStore(ctx context.Context, cfg Config) (*UploadStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fs := afs.New()
	baseURL := url.Normalize(cfg.UploadURL, file.Scheme)

	exists, err := fs.Exists(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check upload location %s: %w", baseURL, err)
	}
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create upload location: %w", err)
		}
	}

	return &UploadStore{
		fs:        fs,
		baseURL:   baseURL,
		extension: cfg.AllowedExtension,
	}, nil
}

// Allowed reports whether filename carries the accepted extension
func (s *UploadStore) Allowed(filename string) bool {
	return filepath.Ext(filename) == s.extension
}

// Save writes body under filename, replacing any previous upload of that name
func (s *UploadStore) Save(ctx context.Context, filename string, body io.Reader) error {
	if filename != filepath.Base(filename) {
		return fmt.Errorf("invalid upload name %q", filename)
	}

	if err := s.fs.Upload(ctx, s.URL(filename), file.DefaultFileOsMode, body); err != nil {
		return fmt.Errorf("failed to store %s: %w", filename, err)
	}
	return nil
}

// Load reads a stored upload
func (s *UploadStore) Load(ctx context.Context, filename string) ([]byte, error) {
	data, err := s.fs.DownloadWithURL(ctx, s.URL(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return data, nil
}

// URL returns the location of a stored upload
func (s *UploadStore) URL(filename string) string {
	return url.Join(s.baseURL, filename)
}
