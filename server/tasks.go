package server

import (
	"errors"

	"go.uber.org/zap"

	"wizz/blobstore"
	"wizz/db"
	"wizz/gateway"
	"wizz/models"
	"wizz/protocol"
)

// Storage tasks run on gateway workers. They only carry copies of the values
// they need and hand back a result that the owning loop applies; a result
// always re-resolves its session by handle or identity because the
// connection may be gone by then.

type loginTask struct {
	handle   Handle
	username string
	password string
	register bool
	logger   *zap.Logger
	metrics  *metrics
}

type loginResult struct {
	handle   Handle
	username string
	register bool
	failure  string
	friends  []string
	replay   []*protocol.Packet
	logger   *zap.Logger
	metrics  *metrics
}

func (t *loginTask) Run(store gateway.Store, blobs gateway.Blobs) any {
	res := &loginResult{
		handle:   t.handle,
		username: t.username,
		register: t.register,
		logger:   t.logger,
		metrics:  t.metrics,
	}

	if t.register {
		if err := store.CreateUser(t.username, t.password); err != nil {
			if errors.Is(err, db.ErrUserExists) {
				res.failure = "Username already taken."
				return res
			}
			t.logger.Error("create user failed", zap.Error(err))
			t.metrics.recordStorageFailure("create_user")
			res.failure = "Registration failed."
			return res
		}
	} else {
		ok, err := store.AuthenticateUser(t.username, t.password)
		if err != nil {
			t.logger.Error("authenticate failed", zap.Error(err))
			t.metrics.recordStorageFailure("authenticate")
		}
		if !ok {
			res.failure = "Invalid Username or Password."
			return res
		}
	}

	pending, err := store.FlushPendingMessages(t.username)
	if err != nil {
		t.logger.Error("flush pending messages failed", zap.Error(err))
		t.metrics.recordStorageFailure("flush_pending")
	}
	for _, m := range pending {
		if p := t.replayPacket(m, blobs); p != nil {
			res.replay = append(res.replay, p)
		}
	}

	if res.friends, err = store.GetFriends(t.username); err != nil {
		t.logger.Error("get friends failed", zap.Error(err))
		t.metrics.recordStorageFailure("get_friends")
	}
	return res
}

// replayPacket turns a pending message into the packet the recipient would
// have received live. Voice clips that can no longer be read are skipped.
func (t *loginTask) replayPacket(m models.PendingMessage, blobs gateway.Blobs) *protocol.Packet {
	if !models.IsVoiceRef(m.Body) {
		return protocol.DirectMessage{Peer: m.Sender, Body: m.Body}.Packet()
	}
	ref, err := models.ParseVoiceRef(m.Body)
	if err != nil {
		return protocol.DirectMessage{Peer: m.Sender, Body: m.Body}.Packet()
	}
	data := blobs.Read(ref.Path)
	if len(data) == 0 {
		t.logger.Warn("skipping unreadable voice clip", zap.String("path", ref.Path), zap.Int64("message", m.ID))
		return nil
	}
	return protocol.VoiceMessage{Peer: m.Sender, Duration: ref.Duration, Data: data}.Packet()
}

func (r *loginResult) apply(s *Server) {
	sess := s.sessions.LookupByHandle(r.handle)
	if sess == nil {
		r.logger.Debug("connection closed before login completed")
		return
	}
	sess.authenticating = false

	if r.failure != "" {
		failType := protocol.TypeLoginFailed
		if r.register {
			failType = protocol.TypeRegisterFailed
		}
		s.send(sess, protocol.NewNotice(failType, r.failure))
		return
	}

	if old := s.sessions.LookupByIdentity(r.username); old != nil && old != sess {
		r.logger.Info("identity logged in again, replacing previous session", zap.Stringer("previous", old.Handle))
	}
	sess.Identity = r.username
	s.sessions.Register(r.username, sess)
	s.metrics.setOnline(s.sessions.Online())
	r.logger.Info("user online", zap.Int("pending", len(r.replay)))

	if r.register {
		s.send(sess, protocol.NewNotice(protocol.TypeRegisterSuccess, "Registration Successful! Welcome, "+r.username))
	} else {
		s.send(sess, protocol.NewNotice(protocol.TypeLoginSuccess, "Welcome to WizzMania, "+r.username+"!"))
	}

	s.notifyFriends(r.friends, protocol.ContactStatusChange{Status: uint32(models.StatusOnline), Username: r.username}.Packet())

	for _, p := range r.replay {
		s.send(sess, p)
	}
	r.metrics.recordFlushed(len(r.replay))
}

// storeMessageTask persists a direct message. Nobody waits for it.
type storeMessageTask struct {
	sender    string
	recipient string
	body      string
	delivered bool
	logger    *zap.Logger
	metrics   *metrics
}

func (t *storeMessageTask) Run(store gateway.Store, _ gateway.Blobs) any {
	if err := store.StoreMessage(t.sender, t.recipient, t.body, t.delivered); err != nil {
		t.logger.Error("store message failed",
			zap.String("identity", t.sender), zap.String("target", t.recipient), zap.Error(err))
		t.metrics.recordStorageFailure("store_message")
	}
	return nil
}

// voiceTask writes the clip and, when the recipient was offline, leaves a
// pending reference to it.
type voiceTask struct {
	sender    string
	recipient string
	duration  uint32
	data      []byte
	filename  string
	live      bool
	logger    *zap.Logger
	metrics   *metrics
}

func (t *voiceTask) Run(store gateway.Store, blobs gateway.Blobs) any {
	path, err := blobs.Write(blobstore.KindVoice.Dir(), t.filename, t.data)
	if err != nil {
		t.logger.Error("write voice clip failed", zap.Error(err))
		t.metrics.recordStorageFailure("write_voice")
		return nil
	}
	t.logger.Debug("voice clip stored", zap.String("path", path), zap.Int("bytes", len(t.data)))
	if t.live {
		return nil
	}

	body := models.VoiceRef{Duration: t.duration, Path: path}.String()
	if err := store.StoreMessage(t.sender, t.recipient, body, false); err != nil {
		t.logger.Error("store voice reference failed", zap.Error(err))
		t.metrics.recordStorageFailure("store_message")
	}
	return nil
}

// friendsTask looks up the friends of identity and hands them to then on
// the owning loop.
type friendsTask struct {
	identity string
	logger   *zap.Logger
	metrics  *metrics
	then     func(s *Server, friends []string)
}

type friendsResult struct {
	friends []string
	then    func(s *Server, friends []string)
}

func (r *friendsResult) apply(s *Server) { r.then(s, r.friends) }

func (t *friendsTask) Run(store gateway.Store, _ gateway.Blobs) any {
	friends, err := store.GetFriends(t.identity)
	if err != nil {
		t.logger.Error("get friends failed", zap.String("identity", t.identity), zap.Error(err))
		t.metrics.recordStorageFailure("get_friends")
		return nil
	}
	return &friendsResult{friends: friends, then: t.then}
}

type avatarUpdateTask struct {
	identity string
	data     []byte
	filename string
	logger   *zap.Logger
	metrics  *metrics
}

type avatarBroadcast struct {
	identity string
	data     []byte
	friends  []string
}

func (t *avatarUpdateTask) Run(store gateway.Store, blobs gateway.Blobs) any {
	path, err := blobs.Write(blobstore.KindAvatar.Dir(), t.filename, t.data)
	if err != nil {
		t.logger.Error("write avatar failed", zap.Error(err))
		t.metrics.recordStorageFailure("write_avatar")
		return nil
	}
	if err := store.UpdateUserAvatar(t.identity, path); err != nil {
		t.logger.Error("update avatar pointer failed", zap.String("path", path), zap.Error(err))
		t.metrics.recordStorageFailure("update_avatar")
		return nil
	}

	friends, err := store.GetFriends(t.identity)
	if err != nil {
		t.logger.Error("get friends failed", zap.Error(err))
		t.metrics.recordStorageFailure("get_friends")
		return nil
	}
	return &avatarBroadcast{identity: t.identity, data: t.data, friends: friends}
}

func (r *avatarBroadcast) apply(s *Server) {
	s.notifyFriends(r.friends, protocol.AvatarData{Username: r.identity, Data: r.data}.Packet())
}

type getAvatarTask struct {
	requester Handle
	target    string
	logger    *zap.Logger
}

type avatarReply struct {
	requester Handle
	target    string
	data      []byte
}

func (t *getAvatarTask) Run(store gateway.Store, blobs gateway.Blobs) any {
	path, err := store.GetUserAvatar(t.target)
	if err != nil {
		t.logger.Error("get avatar pointer failed", zap.Error(err))
		return nil
	}
	if path == "" {
		t.logger.Debug("no avatar stored")
		return nil
	}
	data := blobs.Read(path)
	if len(data) == 0 {
		t.logger.Warn("avatar file unreadable", zap.String("path", path))
		return nil
	}
	return &avatarReply{requester: t.requester, target: t.target, data: data}
}

func (r *avatarReply) apply(s *Server) {
	sess := s.sessions.LookupByHandle(r.requester)
	if sess == nil {
		return
	}
	s.send(sess, protocol.AvatarData{Username: r.target, Data: r.data}.Packet())
}

type contactOp int

const (
	contactList contactOp = iota
	contactAdd
	contactRemove
)

// contactTask edits the friend graph if asked to and always answers with
// the resulting contact list, or with an error notice.
type contactTask struct {
	handle   Handle
	identity string
	target   string
	op       contactOp
	logger   *zap.Logger
	metrics  *metrics
}

type contactReply struct {
	handle  Handle
	failure string
	friends []string
}

func (t *contactTask) Run(store gateway.Store, _ gateway.Blobs) any {
	var err error
	switch t.op {
	case contactAdd:
		err = store.AddFriend(t.identity, t.target)
		if errors.Is(err, db.ErrUnknownUser) {
			return &contactReply{handle: t.handle, failure: "User " + t.target + " not found."}
		}
	case contactRemove:
		err = store.RemoveFriend(t.identity, t.target)
		if errors.Is(err, db.ErrNoRows) {
			return &contactReply{handle: t.handle, failure: "Contact " + t.target + " not found."}
		}
	}
	if err != nil {
		t.logger.Error("edit contacts failed", zap.Error(err))
		t.metrics.recordStorageFailure("edit_contacts")
		return nil
	}

	friends, err := store.GetFriends(t.identity)
	if err != nil {
		t.logger.Error("get friends failed", zap.Error(err))
		t.metrics.recordStorageFailure("get_friends")
		return nil
	}
	return &contactReply{handle: t.handle, friends: friends}
}

func (r *contactReply) apply(s *Server) {
	sess := s.sessions.LookupByHandle(r.handle)
	if sess == nil {
		return
	}
	if r.failure != "" {
		s.sendError(sess, r.failure)
		return
	}
	s.send(sess, s.contactList(r.friends))
}
