package blobstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilename(t *testing.T) {
	at := time.Unix(1700000000, 42)

	if got := Filename(KindVoice, "alice", at); got != "voice_alice_1700000000000000042.wav" {
		t.Fatalf("unexpected voice filename %q", got)
	}
	if got := Filename(KindAvatar, "bob", at); got != "avatar_bob_1700000000000000042.png" {
		t.Fatalf("unexpected avatar filename %q", got)
	}
	if got := Filename(KindVoice, "../etc/x", at); filepath.Base(got) != got {
		t.Fatalf("expected identity to be sanitised, got %q", got)
	}
}

func TestWriteCreatesDirectoryAndReads(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "blobs"))

	path, err := s.Write(AvatarDir, "a.png", []byte("png"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(s.Root(), AvatarDir) {
		t.Fatalf("unexpected path %s", path)
	}
	if got := s.Read(path); !bytes.Equal(got, []byte("png")) {
		t.Fatalf("unexpected contents %q", got)
	}
}

func TestWriteRejectsPathFilename(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Write(VoiceDir, "../escape.wav", []byte("x")); err == nil {
		t.Fatal("expected error for filename with a path")
	}
}

func TestWriteFailsWhenDirIsAFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, AvatarDir), []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := New(root).Write(AvatarDir, "a.png", []byte("x")); err == nil {
		t.Fatal("expected write to fail")
	}
}

func TestReadMissingReturnsNil(t *testing.T) {
	s := New(t.TempDir())

	if got := s.Read(filepath.Join(s.Root(), "nope.wav")); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
	if got := s.Read(""); got != nil {
		t.Fatalf("expected nil for empty path, got %q", got)
	}
}
