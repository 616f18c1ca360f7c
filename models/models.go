package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type User struct {
	ID       int64
	Login    string
	Password string // hashed
	Avatar   string // blob path, empty when unset
}

// PendingMessage is a stored direct message or voice reference. Delivered
// only ever goes from false to true.
type PendingMessage struct {
	ID        int64
	Sender    string
	Recipient string
	Body      string
	Timestamp time.Time
	Delivered bool
}

// Status is the in-memory presence of an identity. The numeric values are
// the wire encoding.
type Status uint32

const (
	StatusOnline  Status = 0
	StatusBusy    Status = 2
	StatusOffline Status = 3
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusOffline:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusBusy:
		return "busy"
	case StatusOffline:
		return "offline"
	}
	return "status(" + strconv.FormatUint(uint64(s), 10) + ")"
}

const voicePrefix = "VOICE:"

// VoiceRef points a pending message at a stored voice clip. It is encoded
// into the message body as VOICE:<duration>:<path>.
type VoiceRef struct {
	Duration uint32
	Path     string
}

func (v VoiceRef) String() string {
	return voicePrefix + strconv.FormatUint(uint64(v.Duration), 10) + ":" + v.Path
}

// IsVoiceRef reports whether body uses the voice reference convention.
func IsVoiceRef(body string) bool {
	return strings.HasPrefix(body, voicePrefix)
}

// ParseVoiceRef decodes a body produced by VoiceRef.String. The path may
// itself contain colons.
func ParseVoiceRef(body string) (VoiceRef, error) {
	if !IsVoiceRef(body) {
		return VoiceRef{}, fmt.Errorf("not a voice reference: %q", body)
	}
	parts := strings.SplitN(strings.TrimPrefix(body, voicePrefix), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return VoiceRef{}, fmt.Errorf("malformed voice reference: %q", body)
	}
	d, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return VoiceRef{}, fmt.Errorf("voice reference duration: %w", err)
	}
	return VoiceRef{Duration: uint32(d), Path: parts[1]}, nil
}
