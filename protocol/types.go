package protocol

import "strconv"

type Type uint32

const (
	// Auth
	TypeLogin           Type = 100
	TypeRegister        Type = 101
	TypeLoginSuccess    Type = 102
	TypeLoginFailed     Type = 103
	TypeRegisterSuccess Type = 104
	TypeRegisterFailed  Type = 105

	// Contacts and presence
	TypeAddContact          Type = 200
	TypeRemoveContact       Type = 201
	TypeContactList         Type = 202
	TypeContactStatusChange Type = 203
	TypeStatusChange        Type = 204

	// Messaging
	TypeDirectMessage   Type = 300
	TypeNudge           Type = 302
	TypeVoiceMessage    Type = 303
	TypeTypingIndicator Type = 304

	// Avatars
	TypeAvatarUpdate  Type = 400
	TypeAvatarRequest Type = 401
	TypeAvatarData    Type = 402

	TypeError Type = 999
)

var typeNames = map[Type]string{
	TypeLogin:               "login",
	TypeRegister:            "register",
	TypeLoginSuccess:        "login_success",
	TypeLoginFailed:         "login_failed",
	TypeRegisterSuccess:     "register_success",
	TypeRegisterFailed:      "register_failed",
	TypeAddContact:          "add_contact",
	TypeRemoveContact:       "remove_contact",
	TypeContactList:         "contact_list",
	TypeContactStatusChange: "contact_status_change",
	TypeStatusChange:        "status_change",
	TypeDirectMessage:       "direct_message",
	TypeNudge:               "nudge",
	TypeVoiceMessage:        "voice_message",
	TypeTypingIndicator:     "typing_indicator",
	TypeAvatarUpdate:        "avatar_update",
	TypeAvatarRequest:       "avatar_request",
	TypeAvatarData:          "avatar_data",
	TypeError:               "error",
}

// Valid reports whether t is part of the fixed tag enumeration.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown(" + strconv.FormatUint(uint64(t), 10) + ")"
}
