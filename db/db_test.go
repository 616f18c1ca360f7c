package db

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestCreateAndAuthenticateUser(t *testing.T) {
	database := newTestDB(t)

	if err := database.CreateUser("alice", "secret"); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := database.CreateUser("alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("Expected ErrUserExists, got %v", err)
	}

	ok, err := database.AuthenticateUser("alice", "secret")
	if err != nil || !ok {
		t.Fatalf("Expected valid credentials, got %v %v", ok, err)
	}
	ok, err = database.AuthenticateUser("alice", "wrong")
	if err != nil || ok {
		t.Fatalf("Expected invalid credentials, got %v %v", ok, err)
	}
	ok, err = database.AuthenticateUser("nobody", "secret")
	if err != nil || ok {
		t.Fatalf("Expected unknown user to fail, got %v %v", ok, err)
	}
}

func TestFlushPendingMessagesIsOrderedAndMonotonic(t *testing.T) {
	database := newTestDB(t)

	bodies := []string{"one", "two", "VOICE:3:/tmp/clip.wav"}
	for _, body := range bodies {
		if err := database.StoreMessage("alice", "bob", body, false); err != nil {
			t.Fatalf("Failed to store message: %v", err)
		}
	}
	// delivered live, must never be flushed
	if err := database.StoreMessage("alice", "bob", "live", true); err != nil {
		t.Fatalf("Failed to store message: %v", err)
	}
	// someone else's mail
	if err := database.StoreMessage("alice", "carol", "hi carol", false); err != nil {
		t.Fatalf("Failed to store message: %v", err)
	}

	pending, err := database.FlushPendingMessages("bob")
	if err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	if len(pending) != len(bodies) {
		t.Fatalf("Expected %d pending, got %d", len(bodies), len(pending))
	}
	for i, m := range pending {
		if m.Body != bodies[i] || m.Sender != "alice" || m.Recipient != "bob" || !m.Delivered {
			t.Errorf("Unexpected message at %d: %+v", i, m)
		}
	}

	again, err := database.FlushPendingMessages("bob")
	if err != nil {
		t.Fatalf("Failed to flush twice: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("Expected second flush to be empty, got %d", len(again))
	}

	carol, err := database.FetchPendingMessages("carol")
	if err != nil || len(carol) != 1 {
		t.Fatalf("Expected carol's message untouched, got %v %v", carol, err)
	}
}

func TestMarkAsDelivered(t *testing.T) {
	database := newTestDB(t)

	if err := database.StoreMessage("alice", "bob", "hello", false); err != nil {
		t.Fatalf("Failed to store message: %v", err)
	}
	pending, err := database.FetchPendingMessages("bob")
	if err != nil || len(pending) != 1 {
		t.Fatalf("Expected one pending, got %v %v", pending, err)
	}
	if err := database.MarkAsDelivered(pending[0].ID); err != nil {
		t.Fatalf("Failed to mark delivered: %v", err)
	}
	pending, err = database.FetchPendingMessages("bob")
	if err != nil || len(pending) != 0 {
		t.Fatalf("Expected none pending, got %v %v", pending, err)
	}
}

func TestFriendsAreSymmetric(t *testing.T) {
	database := newTestDB(t)
	for _, u := range []string{"alice", "bob", "carol"} {
		if err := database.CreateUser(u, "pw"); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
	}

	if err := database.AddFriend("alice", "bob"); err != nil {
		t.Fatalf("Failed to add friend: %v", err)
	}
	if err := database.AddFriend("alice", "carol"); err != nil {
		t.Fatalf("Failed to add friend: %v", err)
	}
	if err := database.AddFriend("alice", "bob"); err != nil {
		t.Fatalf("Expected duplicate add to be ignored, got %v", err)
	}
	if err := database.AddFriend("alice", "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("Expected ErrUnknownUser, got %v", err)
	}

	friends, err := database.GetFriends("alice")
	if err != nil || len(friends) != 2 || friends[0] != "bob" || friends[1] != "carol" {
		t.Fatalf("Unexpected friends of alice: %v %v", friends, err)
	}
	friends, err = database.GetFriends("bob")
	if err != nil || len(friends) != 1 || friends[0] != "alice" {
		t.Fatalf("Unexpected friends of bob: %v %v", friends, err)
	}

	if err := database.RemoveFriend("bob", "alice"); err != nil {
		t.Fatalf("Failed to remove friend: %v", err)
	}
	if err := database.RemoveFriend("bob", "alice"); !errors.Is(err, ErrNoRows) {
		t.Fatalf("Expected ErrNoRows, got %v", err)
	}
	friends, _ = database.GetFriends("alice")
	if len(friends) != 1 || friends[0] != "carol" {
		t.Fatalf("Expected only carol left, got %v", friends)
	}
}

func TestAvatarPointer(t *testing.T) {
	database := newTestDB(t)
	if err := database.CreateUser("alice", "pw"); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	path, err := database.GetUserAvatar("alice")
	if err != nil || path != "" {
		t.Fatalf("Expected no avatar, got %q %v", path, err)
	}
	if err := database.UpdateUserAvatar("alice", "/blobs/avatars/a.png"); err != nil {
		t.Fatalf("Failed to update avatar: %v", err)
	}
	path, err = database.GetUserAvatar("alice")
	if err != nil || path != "/blobs/avatars/a.png" {
		t.Fatalf("Unexpected avatar %q %v", path, err)
	}
	if err := database.UpdateUserAvatar("ghost", "x"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("Expected ErrUnknownUser, got %v", err)
	}
	path, err = database.GetUserAvatar("ghost")
	if err != nil || path != "" {
		t.Fatalf("Expected empty path for unknown user, got %q %v", path, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	database, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := database.StoreMessage("alice", "bob", "persisted", false); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}
	database.Close()

	database, err = New(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer database.Close()

	pending, err := database.FetchPendingMessages("bob")
	if err != nil || len(pending) != 1 || pending[0].Body != "persisted" {
		t.Fatalf("Expected persisted message, got %v %v", pending, err)
	}
}
