// Package filestore persists uploaded statement files under a private import
// root and computes their SHA-256 checksums.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/logger"
	"github.com/google/uuid"
)

// DefaultMaxBytes is the upload limit used when none is configured.
const DefaultMaxBytes int64 = 50 << 20

const copyChunk = 256 << 10

// Upload is one incoming file. Size is the size declared by the client, or -1
// when unknown.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// StoredFile describes a file persisted by Stage.
type StoredFile struct {
	OriginalName string
	// StoredPath is the absolute on-disk location.
	StoredPath string
	// RelativePath is slash separated and relative to the import root.
	RelativePath string
	Size         int64
	Checksum     *string
}

// Mirror copies staged files to an archive and reads them back.
type Mirror interface {
	Put(ctx context.Context, relativePath, localPath string) error
	Fetch(ctx context.Context, relativePath string) ([]byte, error)
}

// Store writes uploads below a fixed import root.
type Store struct {
	root     string
	maxBytes int64
	mirror   Mirror
	now      func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithMirror archives every staged file to m.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithClock overrides the clock used to name storage folders.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store rooted at root. maxBytes <= 0 selects DefaultMaxBytes.
func New(root string, maxBytes int64, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("filestore: import root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve root %q: %w", root, err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	s := &Store{root: abs, maxBytes: maxBytes, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute import root.
func (s *Store) Root() string {
	return s.root
}

// MaxBytes returns the upload size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Stage persists the upload in a fresh folder "<root>/<YYYYMMDD>-<8 hex>/". The
// bytes are flushed to disk before Stage returns. Invalid uploads fail with
// domain.ErrFileRejected; filesystem and mirror failures fail with
// domain.ErrStorageUnavailable.
func (s *Store) Stage(ctx context.Context, up Upload) (*StoredFile, error) {
	log := logger.FromContext(ctx)

	name, err := SafeName(up.Filename)
	if err != nil {
		return nil, err
	}
	if up.Body == nil {
		return nil, fmt.Errorf("filestore: %w: no file content", domain.ErrFileRejected)
	}
	if up.Size > s.maxBytes {
		return nil, fmt.Errorf("filestore: %w: %d bytes exceeds limit of %d", domain.ErrFileRejected, up.Size, s.maxBytes)
	}

	folder := s.now().UTC().Format("20060102") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filestore: create folder: %w: %v", domain.ErrStorageUnavailable, err)
	}

	final := filepath.Join(dir, name)
	n, err := s.write(ctx, dir, final, up)
	if err != nil {
		_ = os.Remove(dir)
		return nil, err
	}

	stored := &StoredFile{
		OriginalName: up.Filename,
		StoredPath:   final,
		RelativePath: path.Join(folder, name),
		Size:         n,
	}

	sum, err := checksumFile(final)
	if err != nil {
		log.Warn().Err(err).Str("path", stored.RelativePath).Msg("Failed to compute checksum")
	} else {
		stored.Checksum = &sum
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, stored.RelativePath, final); err != nil {
			return nil, fmt.Errorf("filestore: mirror %s: %w: %v", stored.RelativePath, domain.ErrStorageUnavailable, err)
		}
	}

	log.Info().
		Str("path", stored.RelativePath).
		Int64("size", stored.Size).
		Msg("Staged upload")
	return stored, nil
}

// write copies the body into a temp file inside dir, syncs it and renames it to
// final. Read failures reject the upload, write failures are storage errors.
func (s *Store) write(ctx context.Context, dir, final string, up Upload) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("filestore: create temp file: %w: %v", domain.ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	var n int64
	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rn, rerr := up.Body.Read(buf)
		if rn > 0 {
			n += int64(rn)
			if n > s.maxBytes {
				return 0, fmt.Errorf("filestore: %w: upload exceeds limit of %d bytes", domain.ErrFileRejected, s.maxBytes)
			}
			if _, werr := tmp.Write(buf[:rn]); werr != nil {
				return 0, fmt.Errorf("filestore: write: %w: %v", domain.ErrStorageUnavailable, werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return 0, fmt.Errorf("filestore: read upload: %w: %v", domain.ErrFileRejected, rerr)
		}
	}

	if n == 0 {
		return 0, fmt.Errorf("filestore: %w: file is empty", domain.ErrFileRejected)
	}
	if up.Size >= 0 && n != up.Size {
		return 0, fmt.Errorf("filestore: %w: received %d of %d declared bytes", domain.ErrFileRejected, n, up.Size)
	}

	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("filestore: sync: %w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("filestore: close: %w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		committed = true
		return 0, fmt.Errorf("filestore: rename: %w: %v", domain.ErrStorageUnavailable, err)
	}
	committed = true
	return n, nil
}

// Resolve maps a relative path produced by Stage to its on-disk location.
// Paths escaping the import root are rejected.
func (s *Store) Resolve(relativePath string) (string, error) {
	rel := filepath.FromSlash(relativePath)
	if relativePath == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("filestore: %w: path %q is outside the import root", domain.ErrFileRejected, relativePath)
	}
	return filepath.Join(s.root, rel), nil
}

// Open opens a staged file for reading.
func (s *Store) Open(relativePath string) (*os.File, error) {
	p, err := s.Resolve(relativePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w: %v", relativePath, domain.ErrStorageUnavailable, err)
	}
	return f, nil
}

// ReadAll returns the content of a staged file. When the local copy is gone
// and a mirror is configured, the archived copy is used.
func (s *Store) ReadAll(ctx context.Context, relativePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.Resolve(relativePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, os.ErrNotExist) && s.mirror != nil {
		log := logger.FromContext(ctx)
		log.Warn().Str("path", relativePath).Msg("Local copy missing, reading from mirror")
		data, ferr := s.mirror.Fetch(ctx, relativePath)
		if ferr != nil {
			return nil, fmt.Errorf("filestore: fetch %s from mirror: %w: %v", relativePath, domain.ErrStorageUnavailable, ferr)
		}
		return data, nil
	}
	return nil, fmt.Errorf("filestore: read %s: %w: %v", relativePath, domain.ErrStorageUnavailable, err)
}

// SafeName reduces a client supplied file name to its final element and
// rejects names that cannot be stored.
func SafeName(filename string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/"))
	name = path.Base(name)
	switch {
	case name == "", name == ".", name == "..", name == "/":
		return "", fmt.Errorf("filestore: %w: invalid file name %q", domain.ErrFileRejected, filename)
	case strings.ContainsRune(name, 0):
		return "", fmt.Errorf("filestore: %w: file name contains NUL", domain.ErrFileRejected)
	case strings.HasPrefix(name, ".upload-"):
		return "", fmt.Errorf("filestore: %w: reserved file name %q", domain.ErrFileRejected, filename)
	}
	return name, nil
}

func checksumFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
