package server

import (
	"sort"

	"github.com/google/uuid"

	"wizz/models"
	"wizz/protocol"
)

// Handle identifies one transport connection for its whole lifetime.
type Handle uuid.UUID

func newHandle() Handle { return Handle(uuid.New()) }

func (h Handle) String() string { return uuid.UUID(h).String() }

// Session is one live connection. Identity stays empty until login
// completes. Sessions belong to the owning loop and never cross into
// storage tasks; tasks carry the Handle instead.
type Session struct {
	Identity string
	Handle   Handle

	client         *client
	authenticating bool
}

func (sess *Session) Authenticated() bool { return sess.Identity != "" }

// send queues p on the connection. It reports false if the connection is
// gone or its send queue is full.
func (sess *Session) send(p *protocol.Packet) bool {
	if sess.client == nil {
		return false
	}
	return sess.client.enqueue(p.Bytes())
}

// Registry maps handles and identities to sessions. It is only ever used
// from the owning loop and therefore holds no lock.
type Registry struct {
	byHandle   map[Handle]*Session
	byIdentity map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byHandle:   make(map[Handle]*Session),
		byIdentity: make(map[string]*Session),
	}
}

// Attach tracks a freshly accepted connection.
func (r *Registry) Attach(sess *Session) {
	r.byHandle[sess.Handle] = sess
}

// Detach forgets a connection. It does not touch the identity map.
func (r *Registry) Detach(h Handle) {
	delete(r.byHandle, h)
}

// Register makes sess the live session for identity, replacing any older one.
func (r *Registry) Register(identity string, sess *Session) {
	r.byIdentity[identity] = sess
}

// Unregister removes the identity mapping. Presence status is left alone.
func (r *Registry) Unregister(identity string) {
	delete(r.byIdentity, identity)
}

func (r *Registry) LookupByIdentity(identity string) *Session {
	return r.byIdentity[identity]
}

func (r *Registry) LookupByHandle(h Handle) *Session {
	return r.byHandle[h]
}

func (r *Registry) Connections() int { return len(r.byHandle) }

func (r *Registry) Online() int { return len(r.byIdentity) }

// Identities returns the registered identities in sorted order.
func (r *Registry) Identities() []string {
	ids := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) sessions() []*Session {
	out := make([]*Session, 0, len(r.byHandle))
	for _, sess := range r.byHandle {
		out = append(out, sess)
	}
	return out
}

// Presence holds explicitly set statuses. A missing entry means the default
// derived from liveness. Owning loop only.
type Presence struct {
	statuses map[string]models.Status
}

func NewPresence() *Presence {
	return &Presence{statuses: make(map[string]models.Status)}
}

func (p *Presence) Set(identity string, status models.Status) {
	p.statuses[identity] = status
}

func (p *Presence) Get(identity string) (models.Status, bool) {
	st, ok := p.statuses[identity]
	return st, ok
}
