package server

import (
	"reflect"
	"testing"

	"wizz/models"
)

func TestRegistryAttachRegister(t *testing.T) {
	r := NewRegistry()
	a := &Session{Handle: newHandle()}
	b := &Session{Handle: newHandle()}

	r.Attach(a)
	r.Attach(b)
	if r.Connections() != 2 || r.Online() != 0 {
		t.Fatalf("Expected 2 connections and nobody online, got %d/%d", r.Connections(), r.Online())
	}
	if r.LookupByHandle(a.Handle) != a {
		t.Errorf("Lookup by handle returned the wrong session")
	}

	r.Register("bob", b)
	r.Register("alice", a)
	if got := r.Identities(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("Expected sorted identities, got %v", got)
	}

	// a newer session for the same identity wins
	c := &Session{Handle: newHandle()}
	r.Attach(c)
	r.Register("alice", c)
	if r.LookupByIdentity("alice") != c {
		t.Errorf("Expected the newest session for alice")
	}

	r.Detach(a.Handle)
	if r.LookupByHandle(a.Handle) != nil {
		t.Errorf("Expected detached session to be gone")
	}
	if r.LookupByIdentity("alice") != c {
		t.Errorf("Detach must not touch the identity map")
	}

	r.Unregister("bob")
	if r.LookupByIdentity("bob") != nil || r.Online() != 1 {
		t.Errorf("Expected bob to be unregistered")
	}
}

func TestHandlesAreUnique(t *testing.T) {
	seen := make(map[Handle]bool)
	for i := 0; i < 100; i++ {
		h := newHandle()
		if seen[h] {
			t.Fatalf("Duplicate handle %s", h)
		}
		seen[h] = true
	}
}

func TestPresence(t *testing.T) {
	p := NewPresence()
	if _, ok := p.Get("alice"); ok {
		t.Fatalf("Expected no explicit status")
	}
	p.Set("alice", models.StatusBusy)
	if st, ok := p.Get("alice"); !ok || st != models.StatusBusy {
		t.Errorf("Expected busy, got %v %v", st, ok)
	}
}
