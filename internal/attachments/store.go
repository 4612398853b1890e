// Package attachments owns the local file cache for message attachments and
// cached transaction records.
package attachments

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotCached = errors.New("record not cached")

// Store keeps one folder per message id under baseDir/attachments, plus a
// JSON cache of transaction records under baseDir/transactions.
type Store struct {
	baseDir string
}

// NewStore creates the cache directories under baseDir.
func NewStore(baseDir string) (*Store, error) {
	for _, dir := range []string{filepath.Join(baseDir, "attachments"), filepath.Join(baseDir, "transactions")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Store{baseDir: baseDir}, nil
}

// MessageDir returns the attachment folder for a message id.
func (s *Store) MessageDir(messageID string) string {
	return filepath.Join(s.baseDir, "attachments", sanitize(messageID))
}

// HasAttachment reports whether a cached folder exists for the message.
func (s *Store) HasAttachment(messageID string) bool {
	info, err := os.Stat(s.MessageDir(messageID))
	return err == nil && info.IsDir()
}

// PromotePending moves a locally picked file into the per-message folder and
// returns the new path; called before the message references the file.
func (s *Store) PromotePending(srcPath, messageID string) (string, error) {
	dir := s.MessageDir(messageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(srcPath))
	if err := os.Rename(srcPath, dst); err != nil {
		return "", fmt.Errorf("promote attachment: %w", err)
	}
	return dst, nil
}

// Relocate renames the cached folder from the old message id to the new one
// after a protocol-confirmed send. Missing folders are not an error.
func (s *Store) Relocate(oldID, newID string) error {
	oldDir := s.MessageDir(oldID)
	if _, err := os.Stat(oldDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Rename(oldDir, s.MessageDir(newID))
}

// CacheTransaction stores a synthesized transaction record.
func (s *Store) CacheTransaction(namespace, reference string, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return os.WriteFile(s.transactionPath(namespace, reference), raw, 0o644)
}

// LoadTransaction reads a cached transaction record into out.
func (s *Store) LoadTransaction(namespace, reference string, out interface{}) error {
	raw, err := os.ReadFile(s.transactionPath(namespace, reference))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotCached
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) transactionPath(namespace, reference string) string {
	return filepath.Join(s.baseDir, "transactions", sanitize(namespace+"-"+reference)+".json")
}

var pathSanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

func sanitize(id string) string {
	return pathSanitizer.Replace(id)
}
