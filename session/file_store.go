package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Values    map[Key]string `json:"values"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FileStore keeps values in a JSON file readable only by the current user.
// Every read goes to disk so edits made by another process are picked up.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the parent directory if needed. The file itself is created on first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() (fileDocument, error) {
	doc := fileDocument{Values: map[Key]string{}}
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("failed to read session file %s: %w", f.path, err)
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fileDocument{Values: map[Key]string{}}, fmt.Errorf("failed to parse session file %s: %w", f.path, err)
	}
	if doc.Values == nil {
		doc.Values = map[Key]string{}
	}
	return doc, nil
}

// save replaces the file with a temp file rename so readers never see a partial document.
func (f *FileStore) save(doc fileDocument) error {
	doc.UpdatedAt = time.Now().UTC()
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Get treats an unreadable file as empty.
func (f *FileStore) Get(key Key) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return "", false
	}
	v, ok := doc.Values[key]
	return v, ok
}

func (f *FileStore) Set(key Key, value string) error {
	return f.SetAll(map[Key]string{key: value})
}

func (f *FileStore) SetAll(values map[Key]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		// A corrupt file is overwritten rather than blocking every future login.
		doc = fileDocument{Values: map[Key]string{}}
	}
	for k, v := range values {
		doc.Values[k] = v
	}
	return f.save(doc)
}

func (f *FileStore) Clear(key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		doc = fileDocument{Values: map[Key]string{}}
	}
	if _, ok := doc.Values[key]; !ok && err == nil {
		return nil
	}
	delete(doc.Values, key)
	return f.save(doc)
}

// ClearAll removes the file.
func (f *FileStore) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file %s: %w", f.path, err)
	}
	return nil
}
