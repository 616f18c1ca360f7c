package protocol

// Typed payloads. Each one encodes to a *Packet and has a matching decoder
// that consumes the packet body in field order. Peer fields carry the target
// on client-to-server packets and the sender on server-to-client packets.

func expect(p *Packet, types ...Type) error {
	for _, t := range types {
		if p.Type == t {
			return nil
		}
	}
	return formatErr("decode payload", "unexpected packet type %s", p.Type)
}

// Credentials is the body of Login and Register.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Packet(t Type) *Packet {
	return NewPacket(t).WriteString(c.Username).WriteString(c.Password)
}

func DecodeCredentials(p *Packet) (c Credentials, err error) {
	if err = expect(p, TypeLogin, TypeRegister); err != nil {
		return
	}
	if c.Username, err = p.ReadString(); err != nil {
		return
	}
	c.Password, err = p.ReadString()
	return
}

// NewNotice builds a single-string packet such as Error or LoginSuccess.
func NewNotice(t Type, text string) *Packet {
	return NewPacket(t).WriteString(text)
}

func DecodeNotice(p *Packet) (string, error) {
	if err := expect(p, TypeError, TypeLoginSuccess, TypeLoginFailed, TypeRegisterSuccess, TypeRegisterFailed); err != nil {
		return "", err
	}
	return p.ReadString()
}

// NewUsername builds AddContact, RemoveContact or AvatarRequest.
func NewUsername(t Type, username string) *Packet {
	return NewPacket(t).WriteString(username)
}

func DecodeUsername(p *Packet) (string, error) {
	if err := expect(p, TypeAddContact, TypeRemoveContact, TypeAvatarRequest); err != nil {
		return "", err
	}
	return p.ReadString()
}

type ContactEntry struct {
	Username string
	Status   uint32
}

type ContactList struct {
	Entries []ContactEntry
}

func (c ContactList) Packet() *Packet {
	p := NewPacket(TypeContactList).WriteUint32(uint32(len(c.Entries)))
	for _, e := range c.Entries {
		p.WriteString(e.Username).WriteUint32(e.Status)
	}
	return p
}

func DecodeContactList(p *Packet) (ContactList, error) {
	var c ContactList
	if err := expect(p, TypeContactList); err != nil {
		return c, err
	}
	n, err := p.ReadUint32()
	if err != nil {
		return c, err
	}
	// each entry needs at least 8 bytes
	if uint64(n)*8 > uint64(p.Remaining()) {
		return c, formatErr("decode contact list", "%d entries do not fit in %d bytes", n, p.Remaining())
	}
	c.Entries = make([]ContactEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e ContactEntry
		if e.Username, err = p.ReadString(); err != nil {
			return c, err
		}
		if e.Status, err = p.ReadUint32(); err != nil {
			return c, err
		}
		c.Entries = append(c.Entries, e)
	}
	return c, nil
}

type ContactStatusChange struct {
	Status   uint32
	Username string
}

func (c ContactStatusChange) Packet() *Packet {
	return NewPacket(TypeContactStatusChange).WriteUint32(c.Status).WriteString(c.Username)
}

func DecodeContactStatusChange(p *Packet) (c ContactStatusChange, err error) {
	if err = expect(p, TypeContactStatusChange); err != nil {
		return
	}
	if c.Status, err = p.ReadUint32(); err != nil {
		return
	}
	c.Username, err = p.ReadString()
	return
}

func NewStatusChange(status uint32) *Packet {
	return NewPacket(TypeStatusChange).WriteUint32(status)
}

func DecodeStatusChange(p *Packet) (uint32, error) {
	if err := expect(p, TypeStatusChange); err != nil {
		return 0, err
	}
	return p.ReadUint32()
}

type DirectMessage struct {
	Peer string
	Body string
}

func (m DirectMessage) Packet() *Packet {
	return NewPacket(TypeDirectMessage).WriteString(m.Peer).WriteString(m.Body)
}

func DecodeDirectMessage(p *Packet) (m DirectMessage, err error) {
	if err = expect(p, TypeDirectMessage); err != nil {
		return
	}
	if m.Peer, err = p.ReadString(); err != nil {
		return
	}
	m.Body, err = p.ReadString()
	return
}

func NewNudge(peer string) *Packet {
	return NewPacket(TypeNudge).WriteString(peer)
}

func DecodeNudge(p *Packet) (string, error) {
	if err := expect(p, TypeNudge); err != nil {
		return "", err
	}
	return p.ReadString()
}

type VoiceMessage struct {
	Peer     string
	Duration uint32
	Data     []byte
}

func (m VoiceMessage) Packet() *Packet {
	return NewPacket(TypeVoiceMessage).WriteString(m.Peer).WriteUint32(m.Duration).WriteBytes(m.Data)
}

func DecodeVoiceMessage(p *Packet) (m VoiceMessage, err error) {
	if err = expect(p, TypeVoiceMessage); err != nil {
		return
	}
	if m.Peer, err = p.ReadString(); err != nil {
		return
	}
	if m.Duration, err = p.ReadUint32(); err != nil {
		return
	}
	m.Data, err = p.ReadBytes()
	return
}

type TypingIndicator struct {
	Peer   string
	Typing bool
}

func (m TypingIndicator) Packet() *Packet {
	return NewPacket(TypeTypingIndicator).WriteString(m.Peer).WriteBool(m.Typing)
}

func DecodeTypingIndicator(p *Packet) (m TypingIndicator, err error) {
	if err = expect(p, TypeTypingIndicator); err != nil {
		return
	}
	if m.Peer, err = p.ReadString(); err != nil {
		return
	}
	m.Typing, err = p.ReadBool()
	return
}

func NewAvatarUpdate(data []byte) *Packet {
	return NewPacket(TypeAvatarUpdate).WriteBytes(data)
}

func DecodeAvatarUpdate(p *Packet) ([]byte, error) {
	if err := expect(p, TypeAvatarUpdate); err != nil {
		return nil, err
	}
	return p.ReadBytes()
}

type AvatarData struct {
	Username string
	Data     []byte
}

func (m AvatarData) Packet() *Packet {
	return NewPacket(TypeAvatarData).WriteString(m.Username).WriteBytes(m.Data)
}

func DecodeAvatarData(p *Packet) (m AvatarData, err error) {
	if err = expect(p, TypeAvatarData); err != nil {
		return
	}
	if m.Username, err = p.ReadString(); err != nil {
		return
	}
	m.Data, err = p.ReadBytes()
	return
}
