package blob

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store is a filesystem-backed object store. Keys are slash-separated
// relative paths under Root; each job owns the prefix returned by JobPrefix.
type Store struct {
	Root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &Store{Root: root}, nil
}

// JobPrefix はジョブ専有のキープレフィックスを返す
func JobPrefix(jobID string) string {
	return "jobs/" + jobID + "/"
}

// Put writes an object under key, creating parent directories.
func (s *Store) Put(key string, r io.Reader) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	abs := filepath.Join(s.Root, clean)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return filepath.ToSlash(clean), nil
}

// ListByPrefix returns the keys of all objects under prefix.
func (s *Store) ListByPrefix(prefix string) ([]string, error) {
	dir := filepath.Join(s.Root, filepath.FromSlash(prefix))
	var keys []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return keys, nil
}

// DeleteBatch removes the given objects, returning how many actually
// existed. Missing keys are not errors: deletes are idempotent so cleanup
// and explicit user deletion can race on the same prefix safely.
func (s *Store) DeleteBatch(keys []string) (int, error) {
	deleted := 0
	var firstErr error
	for _, key := range keys {
		abs := filepath.Join(s.Root, filepath.Clean(filepath.FromSlash(key)))
		err := os.Remove(abs)
		if err == nil {
			deleted++
			s.pruneEmptyParents(abs)
			continue
		}
		if os.IsNotExist(err) {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return deleted, firstErr
}

// pruneEmptyParents removes now-empty directories up to Root.
func (s *Store) pruneEmptyParents(path string) {
	root := filepath.Clean(s.Root)
	for dir := filepath.Dir(path); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			return
		}
	}
}
