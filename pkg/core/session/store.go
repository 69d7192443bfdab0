// Package session maps client-held session identifiers to isolated
// per-session storage directories.
//
// A session id is an opaque UUID-v4-shaped token generated by the browser. It
// is never parsed beyond its shape and is the unit of isolation for every
// per-user artifact on disk.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidSession is returned for a missing or malformed session id.
var ErrInvalidSession = errors.New("invalid session ID format")

// ErrInvalidResource is returned for a resource name that cannot be stored
// inside a session directory.
var ErrInvalidResource = errors.New("invalid session resource name")

// Header is the HTTP header carrying the session id.
const Header = "X-Session-ID"

var idPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

var resourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// Validate reports whether id has the required session id shape.
func Validate(id string) bool {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return false
	}
	return idPattern.MatchString(id)
}

// Store resolves per-session storage paths under a single root directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root. The root is created lazily.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("session root must be non-empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve session root: %w", err)
	}
	return &Store{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute session root.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory owned by a session without creating it.
func (s *Store) Dir(id string) (string, error) {
	if !Validate(id) {
		return "", ErrInvalidSession
	}
	dir := filepath.Join(s.root, strings.ToLower(id))
	if !s.contains(dir) {
		return "", ErrInvalidSession
	}
	return dir, nil
}

// DataPath returns <root>/<id>/<resource>.json, creating the session
// directory on first use.
func (s *Store) DataPath(id, resource string) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	if !resourcePattern.MatchString(resource) || strings.Contains(resource, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidResource, resource)
	}

	path := filepath.Join(dir, resource+".json")
	if !s.contains(path) || filepath.Dir(path) != dir {
		return "", fmt.Errorf("%w: %q", ErrInvalidResource, resource)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return path, nil
}

// Exists reports whether the session directory is present on disk.
func (s *Store) Exists(id string) bool {
	dir, err := s.Dir(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Remove deletes every artifact owned by a session. Removing an absent
// session succeeds.
func (s *Store) Remove(id string) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
