// Package blobstore keeps voice clips and avatar images on the local
// filesystem. Files are immutable once written and never deleted here.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindVoice  Kind = "voice"
	KindAvatar Kind = "avatar"
)

// Directories relative to the store root.
const (
	VoiceDir  = "."
	AvatarDir = "avatars"
)

func (k Kind) ext() string {
	if k == KindAvatar {
		return ".png"
	}
	return ".wav"
}

// Dir returns the directory files of kind k are written to.
func (k Kind) Dir() string {
	if k == KindAvatar {
		return AvatarDir
	}
	return VoiceDir
}

// Filename derives the file name for a blob from its kind, owner and
// creation time.
func Filename(kind Kind, identity string, at time.Time) string {
	return string(kind) + "_" + sanitize(identity) + "_" + strconv.FormatInt(at.UnixNano(), 10) + kind.ext()
}

func sanitize(identity string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '@':
			return r
		}
		return '_'
	}, identity)
}

type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// Init creates the root and the well-known subdirectories.
func (s *Store) Init() error {
	for _, dir := range []string{VoiceDir, AvatarDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return fmt.Errorf("create blob dir: %w", err)
		}
	}
	return nil
}

// Write stores data as dir/filename under the root, creating dir if needed,
// and returns the path to reference it by.
func (s *Store) Write(dir, filename string, data []byte) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid blob filename %q", filename)
	}
	full := filepath.Join(s.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	path := filepath.Join(full, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return path, nil
}

// Read returns the file contents, or nil on any failure.
func (s *Store) Read(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}
