// Package cache implements the content-addressed on-disk store keyed by
// fingerprint. Payloads and their metadata sidecars live under a two-level
// hex fan-out directory so no single directory grows unbounded.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonesrussell/img-proxy/internal/fingerprint"
	"github.com/jonesrussell/img-proxy/internal/logger"
)

const metaSuffix = "-meta"

// Store is the cache's single writer-of-record for a given fingerprint.
// Concurrent lookups are safe; concurrent writes to the same fingerprint
// are expected to be serialized upstream by the single-flight registry.
type Store struct {
	root string
	ttl  time.Duration
	log  logger.Logger
}

// NewStore returns a Store rooted at dir. dir is created if missing.
func NewStore(dir string, ttl time.Duration, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{root: dir, ttl: ttl, log: log}, nil
}

func (s *Store) dir(fp fingerprint.Fingerprint) string {
	a, b := fp.FanOut()
	return filepath.Join(s.root, a, b)
}

// PayloadPath returns the on-disk path of fp's cached payload, whether or
// not it currently exists.
func (s *Store) PayloadPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(s.dir(fp), fp.String())
}

// MetadataPath returns the on-disk path of fp's metadata sidecar.
func (s *Store) MetadataPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(s.dir(fp), fp.String()+metaSuffix)
}

// Lookup reports what, if anything, is cached for fp. A metadata record
// with no corresponding payload file is treated as absent unless it
// carries a sticky error, in which case it is reported as an ErrorHit.
func (s *Store) Lookup(fp fingerprint.Fingerprint) (LookupResult, error) {
	meta, err := s.readMetadata(fp)
	if os.IsNotExist(err) {
		return LookupResult{Kind: Absent}, nil
	}
	if err != nil {
		return LookupResult{}, err
	}

	if meta.Expired(s.ttl) {
		return LookupResult{Kind: Absent}, nil
	}

	if meta.ErrorTag != "" {
		return LookupResult{Kind: ErrorHit, Metadata: meta}, nil
	}

	if _, err := os.Stat(s.PayloadPath(fp)); err != nil {
		return LookupResult{Kind: Absent}, nil
	}

	return LookupResult{Kind: Hit, Metadata: meta}, nil
}

// Open opens fp's cached payload for reading.
func (s *Store) Open(fp fingerprint.Fingerprint) (io.ReadCloser, error) {
	return os.Open(s.PayloadPath(fp))
}

// Store promotes a temp payload file into the cache at fp's path and
// writes its metadata sidecar. tempPath must be on the same filesystem as
// the cache root for the rename to be atomic; callers should derive temp
// files from the configured temp directory accordingly.
func (s *Store) Store(fp fingerprint.Fingerprint, tempPath string, meta Metadata) error {
	dir := s.dir(fp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: create entry dir: %w", err)
	}

	meta.CreatedAt = time.Now()

	if err := os.Rename(tempPath, s.PayloadPath(fp)); err != nil {
		return fmt.Errorf("cache: promote payload: %w", err)
	}

	if err := s.writeMetadata(fp, meta); err != nil {
		return fmt.Errorf("cache: write metadata: %w", err)
	}

	s.log.Debug("cache entry stored", logger.String("fingerprint", fp.String()), logger.Int64("bytes", meta.ContentLength))
	return nil
}

// MarkError records a metadata-only sticky error for fp and removes any
// stale payload that may already be on disk for it.
func (s *Store) MarkError(fp fingerprint.Fingerprint, errorTag string) error {
	dir := s.dir(fp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: create entry dir: %w", err)
	}

	_ = os.Remove(s.PayloadPath(fp))

	meta := Metadata{ErrorTag: errorTag, CreatedAt: time.Now()}
	if err := s.writeMetadata(fp, meta); err != nil {
		return fmt.Errorf("cache: write error metadata: %w", err)
	}

	s.log.Debug("cache entry marked error", logger.String("fingerprint", fp.String()), logger.String("error_tag", errorTag))
	return nil
}

// Root returns the cache's root directory.
func (s *Store) Root() string {
	return s.root
}

// Stats walks the cache root and reports the number of entries and their
// total payload size in bytes. It does not distinguish sticky error
// records (which have no payload) from ordinary hits when counting
// entries, since both occupy a metadata sidecar.
func (s *Store) Stats() (entries int, bytes int64, err error) {
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), metaSuffix) {
			entries++
			return nil
		}
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
		}
		return nil
	})
	return entries, bytes, err
}

// Entries returns up to limit cache keys (fingerprint hex strings) found
// under the cache root, for admin inspection. A limit of 0 means no cap.
func (s *Store) Entries(limit int) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, metaSuffix) {
			return nil
		}
		keys = append(keys, strings.TrimSuffix(name, metaSuffix))
		if limit > 0 && len(keys) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	return keys, err
}

// Purge removes fp's payload and metadata sidecar, if present. Absence of
// either file is not an error.
func (s *Store) Purge(fp fingerprint.Fingerprint) error {
	if err := os.Remove(s.PayloadPath(fp)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: remove payload: %w", err)
	}
	if err := os.Remove(s.MetadataPath(fp)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: remove metadata: %w", err)
	}
	s.log.Debug("cache entry purged", logger.String("fingerprint", fp.String()))
	return nil
}

// PurgeAll empties the entire cache store.
func (s *Store) PurgeAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("cache: read root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("cache: remove %s: %w", e.Name(), err)
		}
	}
	s.log.Debug("cache purged", logger.String("root", s.root))
	return nil
}

func (s *Store) readMetadata(fp fingerprint.Fingerprint) (Metadata, error) {
	var meta Metadata
	raw, err := os.ReadFile(s.MetadataPath(fp))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("cache: decode metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMetadata(fp fingerprint.Fingerprint, meta Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	path := s.MetadataPath(fp)
	tmp, err := os.CreateTemp(filepath.Dir(path), fp.String()+metaSuffix+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
