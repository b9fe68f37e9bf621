// Package artifacts republishes files that failing tests leave behind, such
// as screenshots, as signed links attached to the run result.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/metrics"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

const (
	DefaultURLTTL = 7 * 24 * time.Hour

	defaultContentType = "application/octet-stream"
)

var _ engine.CaseObserver = (*Reporter)(nil)

// Config configures a Reporter. A nil Store disables uploads; local files are
// still removed.
type Config struct {
	Store BlobStore
	TTL   time.Duration
	Log   log.Logger
}

// Reporter uploads the artifacts of failed cases.
type Reporter struct {
	store  BlobStore
	ttl    time.Duration
	log    log.Logger
	newKey func(ext string) string
}

// NewReporter creates a new Reporter
func NewReporter(cfg Config) *Reporter {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultURLTTL
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Reporter{
		store: cfg.Store,
		ttl:   cfg.TTL,
		log:   cfg.Log,
		newKey: func(ext string) string {
			return uuid.NewString() + ext
		},
	}
}

// Enabled reports whether a destination is configured.
func (r *Reporter) Enabled() bool {
	return r.store != nil
}

// Capture uploads the file at localPath and returns a signed link to it. The
// local file is removed whatever the outcome; failures degrade to ok=false.
func (r *Reporter) Capture(ctx context.Context, caseKey string, localPath string) (url string, ok bool) {
	defer func() {
		_ = os.Remove(localPath)
	}()
	if r.store == nil {
		return "", false
	}

	url, err := r.upload(ctx, localPath)
	metrics.RecordArtifact(err)
	if err != nil {
		r.log.Warn("Artifact unavailable", "case", caseKey, "path", localPath, "error", err)
		return "", false
	}
	r.log.Debug("Uploaded artifact", "case", caseKey, "url", url)
	return url, true
}

func (r *Reporter) upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	ext := filepath.Ext(localPath)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = defaultContentType
	}
	key := r.newKey(ext)
	if err := r.store.Put(ctx, key, f, contentType); err != nil {
		return "", err
	}
	return r.store.SignedURL(ctx, key, r.ttl)
}

// OnCase implements engine.CaseObserver. Artifacts of failed cases are
// uploaded and linked from the case; artifacts of every other case are
// discarded.
func (r *Reporter) OnCase(ctx context.Context, cc engine.CaseContext) {
	caseDir := filepath.Join(cc.ArtifactRoot, cc.PackageDir, cc.Case.Name)
	entries, err := os.ReadDir(caseDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("Failed to read artifact directory", "dir", caseDir, "error", err)
		}
		return
	}
	defer func() {
		_ = os.RemoveAll(caseDir)
	}()

	capture := r.Enabled() && cc.Case.Status == types.CaseStatusFailed
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		localPath := filepath.Join(caseDir, entry.Name())
		if !capture {
			_ = os.Remove(localPath)
			continue
		}
		relPath := path.Join(cc.PackageDir, cc.Case.Name, entry.Name())
		url, ok := r.Capture(ctx, relPath, localPath)
		if !ok {
			continue
		}
		cc.File.AttachArtifact(relPath, url)
		cc.Case.FailureMessages = append(cc.Case.FailureMessages, "Screenshot available at "+relPath)
	}
}
