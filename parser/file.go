package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// File is an in-memory input document: the payload plus the identity
// fields the cache and the store key on.
type File struct {
	// Name is the file name, used for extension-based detection and as
	// the metadata title fallback.
	Name string
	// MIME is an optional media-type hint from the transport.
	MIME string
	// ModTime is the source's last-modified timestamp.
	ModTime time.Time
	// Data is the full payload.
	Data []byte
}

// Size returns the payload length in bytes.
func (f *File) Size() int64 { return int64(len(f.Data)) }

// Ext returns the lower-cased file extension, dot included.
func (f *File) Ext() string { return strings.ToLower(filepath.Ext(f.Name)) }

// Stem returns the file name without directory and extension.
func (f *File) Stem() string {
	base := filepath.Base(f.Name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Fingerprint is the weak identity key (name, size, mtime). Two
// byte-different payloads with identical metadata collide here; use
// Hash where content identity matters.
func (f *File) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%d", f.Name, len(f.Data), f.ModTime.UnixMilli())
}

// Hash returns the hex-encoded SHA-256 of the payload. The result cache
// keys on it so that a changed payload under an unchanged name never
// serves a stale result.
func (f *File) Hash() string {
	sum := sha256.Sum256(f.Data)
	return hex.EncodeToString(sum[:])
}
