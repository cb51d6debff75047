// Package blob stores uploaded document bytes on local disk and issues
// time-limited, HMAC-signed write URLs served back through the API.
package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
)

// Store persists document blobs under a data directory, one file per
// storage key.
type Store struct {
	dir    string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New builds a blob store rooted at dir. ttl bounds upload-token validity.
func New(dir string, secret []byte, ttl time.Duration) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob dir required")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{dir: dir, secret: secret, ttl: ttl, now: time.Now}, nil
}

// SignUploadToken issues an expiring token authorizing exactly one storage
// key for writing. Token format: "<unix-expiry>.<hex hmac>".
func (s *Store) SignUploadToken(storageKey string) (token string, expires time.Time) {
	expires = s.now().Add(s.ttl).UTC()
	return fmt.Sprintf("%d.%s", expires.Unix(), s.sign(storageKey, expires.Unix())), expires
}

// VerifyUploadToken checks a token against a storage key. Expired or
// mismatched tokens fail closed.
func (s *Store) VerifyUploadToken(token, storageKey string) error {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return fault.New(fault.KindValidation, "blob.VerifyUploadToken", "malformed upload token")
	}
	exp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fault.New(fault.KindValidation, "blob.VerifyUploadToken", "malformed upload token")
	}
	if s.now().UTC().Unix() > exp {
		return fault.New(fault.KindValidation, "blob.VerifyUploadToken", "upload token expired")
	}
	want := s.sign(storageKey, exp)
	if !hmac.Equal([]byte(want), []byte(parts[1])) {
		return fault.New(fault.KindValidation, "blob.VerifyUploadToken", "upload token signature mismatch")
	}
	return nil
}

func (s *Store) sign(storageKey string, expUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", storageKey, expUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Put writes blob content for a storage key, replacing any prior content.
func (s *Store) Put(storageKey string, r io.Reader) (int64, error) {
	path, err := s.path(storageKey)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

// Get opens blob content for a storage key.
func (s *Store) Get(storageKey string) (io.ReadCloser, error) {
	path, err := s.path(storageKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.Newf(fault.KindNotFound, "blob.Get", "no content at %s", storageKey)
		}
		return nil, err
	}
	return f, nil
}

// path maps a storage key to a file path, rejecting traversal outside the
// data directory.
func (s *Store) path(storageKey string) (string, error) {
	if storageKey == "" || strings.HasPrefix(storageKey, "/") || strings.Contains(storageKey, "..") {
		return "", fault.Newf(fault.KindValidation, "blob.path", "invalid storage key %q", storageKey)
	}
	return filepath.Join(s.dir, filepath.FromSlash(storageKey)), nil
}
