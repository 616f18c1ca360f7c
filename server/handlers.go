package server

import (
	"go.uber.org/zap"

	"wizz/blobstore"
	"wizz/models"
	"wizz/protocol"
)

// Every handler here runs on the owning loop.

func (s *Server) handlePacket(sess *Session, p *protocol.Packet) {
	s.metrics.recordPacket(p.Type)

	if !sess.Authenticated() {
		switch p.Type {
		case protocol.TypeLogin, protocol.TypeRegister:
			s.handleLogin(sess, p)
		default:
			s.sendError(sess, "Not authenticated")
		}
		return
	}

	switch p.Type {
	case protocol.TypeLogin, protocol.TypeRegister:
		s.sendError(sess, "Already logged in")
	case protocol.TypeDirectMessage:
		s.handleDirectMessage(sess, p)
	case protocol.TypeNudge:
		s.handleNudge(sess, p)
	case protocol.TypeVoiceMessage:
		s.handleVoiceMessage(sess, p)
	case protocol.TypeTypingIndicator:
		s.handleTyping(sess, p)
	case protocol.TypeStatusChange:
		s.handleStatusChange(sess, p)
	case protocol.TypeAvatarUpdate:
		s.handleAvatarUpdate(sess, p)
	case protocol.TypeAvatarRequest:
		s.handleGetAvatar(sess, p)
	case protocol.TypeAddContact, protocol.TypeRemoveContact:
		s.handleContactEdit(sess, p)
	case protocol.TypeContactList:
		s.handleContactList(sess)
	default:
		s.sendError(sess, "Unsupported packet type "+p.Type.String())
	}
}

func (s *Server) handleLogin(sess *Session, p *protocol.Packet) {
	creds, err := protocol.DecodeCredentials(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}

	register := p.Type == protocol.TypeRegister
	if sess.authenticating {
		s.sendError(sess, "Login already in progress")
		return
	}
	if creds.Username == "" || creds.Password == "" {
		failType := protocol.TypeLoginFailed
		if register {
			failType = protocol.TypeRegisterFailed
		}
		s.send(sess, protocol.NewNotice(failType, "Username and password are required."))
		return
	}

	sess.authenticating = true
	s.postTask(&loginTask{
		handle:   sess.Handle,
		username: creds.Username,
		password: creds.Password,
		register: register,
		logger:   s.logger.With(zap.String("identity", creds.Username), zap.Stringer("handle", sess.Handle)),
		metrics:  s.metrics,
	})
}

func (s *Server) handleDirectMessage(sess *Session, p *protocol.Packet) {
	msg, err := protocol.DecodeDirectMessage(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}

	delivered := false
	if target := s.sessions.LookupByIdentity(msg.Peer); target != nil {
		s.send(target, protocol.DirectMessage{Peer: sess.Identity, Body: msg.Body}.Packet())
		delivered = true
	}
	s.metrics.recordMessage("text", delivered)

	s.postTask(&storeMessageTask{
		sender:    sess.Identity,
		recipient: msg.Peer,
		body:      msg.Body,
		delivered: delivered,
		logger:    s.logger,
		metrics:   s.metrics,
	})
}

func (s *Server) handleNudge(sess *Session, p *protocol.Packet) {
	target, err := protocol.DecodeNudge(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}

	targetSess := s.sessions.LookupByIdentity(target)
	if targetSess == nil {
		s.metrics.recordNudgeRefused("offline")
		s.sendError(sess, "User "+target+" is offline.")
		return
	}
	if s.Status(target) == models.StatusBusy {
		s.metrics.recordNudgeRefused("busy")
		s.sendError(sess, "User "+target+" is busy and cannot be nudged.")
		return
	}

	s.send(targetSess, protocol.NewNudge(sess.Identity))
}

func (s *Server) handleVoiceMessage(sess *Session, p *protocol.Packet) {
	msg, err := protocol.DecodeVoiceMessage(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}

	live := false
	if target := s.sessions.LookupByIdentity(msg.Peer); target != nil {
		s.send(target, protocol.VoiceMessage{Peer: sess.Identity, Duration: msg.Duration, Data: msg.Data}.Packet())
		live = true
	}
	s.metrics.recordMessage("voice", live)

	s.postTask(&voiceTask{
		sender:    sess.Identity,
		recipient: msg.Peer,
		duration:  msg.Duration,
		data:      msg.Data,
		filename:  blobstore.Filename(blobstore.KindVoice, sess.Identity, s.now()),
		live:      live,
		logger:    s.logger.With(zap.String("identity", sess.Identity), zap.String("target", msg.Peer)),
		metrics:   s.metrics,
	})
}

func (s *Server) handleTyping(sess *Session, p *protocol.Packet) {
	msg, err := protocol.DecodeTypingIndicator(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}
	if target := s.sessions.LookupByIdentity(msg.Peer); target != nil {
		s.send(target, protocol.TypingIndicator{Peer: sess.Identity, Typing: msg.Typing}.Packet())
	}
}

func (s *Server) handleStatusChange(sess *Session, p *protocol.Packet) {
	raw, err := protocol.DecodeStatusChange(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}
	status := models.Status(raw)
	if !status.Valid() {
		s.sendError(sess, "Unsupported status "+status.String())
		return
	}

	identity := sess.Identity
	s.presence.Set(identity, status)
	s.logger.Debug("status changed", zap.String("identity", identity), zap.Stringer("status", status))

	s.postTask(&friendsTask{
		identity: identity,
		logger:   s.logger,
		metrics:  s.metrics,
		then: func(s *Server, friends []string) {
			s.notifyFriends(friends, protocol.ContactStatusChange{Status: uint32(status), Username: identity}.Packet())
		},
	})
}

func (s *Server) handleAvatarUpdate(sess *Session, p *protocol.Packet) {
	data, err := protocol.DecodeAvatarUpdate(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}
	if len(data) == 0 {
		s.logger.Debug("ignoring empty avatar upload", zap.String("identity", sess.Identity))
		return
	}

	s.postTask(&avatarUpdateTask{
		identity: sess.Identity,
		data:     data,
		filename: blobstore.Filename(blobstore.KindAvatar, sess.Identity, s.now()),
		logger:   s.logger.With(zap.String("identity", sess.Identity)),
		metrics:  s.metrics,
	})
}

func (s *Server) handleGetAvatar(sess *Session, p *protocol.Packet) {
	target, err := protocol.DecodeUsername(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}

	s.postTask(&getAvatarTask{
		requester: sess.Handle,
		target:    target,
		logger:    s.logger.With(zap.String("identity", sess.Identity), zap.String("target", target)),
	})
}

func (s *Server) handleContactEdit(sess *Session, p *protocol.Packet) {
	target, err := protocol.DecodeUsername(p)
	if err != nil {
		s.dropMalformed(sess, err)
		return
	}

	op := contactAdd
	if p.Type == protocol.TypeRemoveContact {
		op = contactRemove
	}
	if op == contactAdd && (target == "" || target == sess.Identity) {
		s.sendError(sess, "Cannot add "+target+" as a contact.")
		return
	}

	s.postTask(&contactTask{
		handle:   sess.Handle,
		identity: sess.Identity,
		target:   target,
		op:       op,
		logger:   s.logger.With(zap.String("identity", sess.Identity), zap.String("target", target)),
		metrics:  s.metrics,
	})
}

func (s *Server) handleContactList(sess *Session) {
	s.postTask(&contactTask{
		handle:   sess.Handle,
		identity: sess.Identity,
		op:       contactList,
		logger:   s.logger.With(zap.String("identity", sess.Identity)),
		metrics:  s.metrics,
	})
}

func (s *Server) handleDisconnect(h Handle) {
	sess := s.sessions.LookupByHandle(h)
	if sess == nil {
		return
	}
	s.sessions.Detach(h)
	sess.client.close()
	s.metrics.setConnections(s.sessions.Connections())

	identity := sess.Identity
	if identity == "" || s.sessions.LookupByIdentity(identity) != sess {
		return
	}
	s.sessions.Unregister(identity)
	s.metrics.setOnline(s.sessions.Online())
	s.logger.Info("user offline", zap.String("identity", identity), zap.Stringer("handle", h))

	s.postTask(&friendsTask{
		identity: identity,
		logger:   s.logger,
		metrics:  s.metrics,
		then: func(s *Server, friends []string) {
			if s.sessions.LookupByIdentity(identity) != nil {
				return
			}
			s.notifyFriends(friends, protocol.ContactStatusChange{Status: uint32(models.StatusOffline), Username: identity}.Packet())
		},
	})
}

// notifyFriends sends p to every friend that is currently online.
func (s *Server) notifyFriends(friends []string, p *protocol.Packet) {
	for _, friend := range friends {
		if target := s.sessions.LookupByIdentity(friend); target != nil {
			s.send(target, p)
		}
	}
}

func (s *Server) contactList(friends []string) *protocol.Packet {
	list := protocol.ContactList{Entries: make([]protocol.ContactEntry, 0, len(friends))}
	for _, friend := range friends {
		list.Entries = append(list.Entries, protocol.ContactEntry{Username: friend, Status: uint32(s.Status(friend))})
	}
	return list.Packet()
}

// send queues p for sess. A connection whose send queue is full is closed;
// its reader then reports the disconnect.
func (s *Server) send(sess *Session, p *protocol.Packet) {
	if sess.send(p) {
		return
	}
	if !sess.client.closed() {
		s.logger.Warn("send queue full, dropping slow client",
			zap.String("identity", sess.Identity), zap.Stringer("handle", sess.Handle))
		sess.client.close()
	}
}

func (s *Server) sendError(sess *Session, text string) {
	s.send(sess, protocol.NewNotice(protocol.TypeError, text))
}

// dropMalformed answers a payload that does not decode and closes the
// connection.
func (s *Server) dropMalformed(sess *Session, err error) {
	s.logger.Warn("malformed payload, closing connection",
		zap.String("identity", sess.Identity), zap.Stringer("handle", sess.Handle), zap.Error(err))
	s.metrics.recordProtocolError()
	s.sendError(sess, "Malformed packet")
	sess.client.close()
}
