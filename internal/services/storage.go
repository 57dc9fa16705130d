package services

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ErrTooLarge is returned when an upload exceeds the store's size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// StoredFile describes a file written under the storage root. Path is
// relative to the root.
type StoredFile struct {
	Path   string
	Digest string
	Size   int64
}

// DiskStore keeps recordings and voice answers on local disk, one directory
// per session.
type DiskStore struct {
	root     string
	maxBytes int64
}

func NewDiskStore(root string, maxBytes int64) *DiskStore {
	return &DiskStore{root: root, maxBytes: maxBytes}
}

// Save streams r to <root>/<session>/<name>, hashing it on the way. The file
// only appears under its final name once fully written.
func (s *DiskStore) Save(sessionID uuid.UUID, name string, r io.Reader) (*StoredFile, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid file name %q", name)
	}

	rel := filepath.Join(sessionID.String(), name)
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), name+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h, _ := blake2b.New256(nil)
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}

	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return nil, ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), full); err != nil {
		return nil, fmt.Errorf("failed to finalize %s: %w", rel, err)
	}

	return &StoredFile{Path: rel, Digest: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// Inspect recomputes size and digest of a stored file.
func (s *DiskStore) Inspect(rel string) (*StoredFile, error) {
	f, err := os.Open(filepath.Join(s.root, rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, _ := blake2b.New256(nil)
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return &StoredFile{Path: rel, Digest: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

func (s *DiskStore) ReadAll(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, rel))
}
