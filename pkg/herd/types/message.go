package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrFrameTooShort is returned when a frame cannot even hold
	// the fixed size envelope header.
	ErrFrameTooShort = errors.New("frame shorter than envelope header")

	// ErrFrameMalformed is returned when the envelope header does
	// not agree with the frame that carries it.
	ErrFrameMalformed = errors.New("malformed envelope")
)

// MessageKind is the on-wire message type. The values are part of
// the wire format shared with other deployments of the same group
// and must not be renumbered.
type MessageKind uint8

const (
	MessageJoinRequest MessageKind = iota
	MessageJoinResponse
	MessageLeave
	MessageNotify
	MessageBlock
	MessageUnblock
)

func (k MessageKind) String() string {
	switch k {
	case MessageJoinRequest:
		return "join-request"
	case MessageJoinResponse:
		return "join-response"
	case MessageLeave:
		return "leave"
	case MessageNotify:
		return "notify"
	case MessageBlock:
		return "block"
	case MessageUnblock:
		return "unblock"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// JoinResult is the verdict the master attaches to a join response.
type JoinResult uint8

const (
	JoinSuccess JoinResult = iota
	JoinFail
	JoinLater
	JoinMasterTransfer
)

func (r JoinResult) String() string {
	switch r {
	case JoinSuccess:
		return "success"
	case JoinFail:
		return "fail"
	case JoinLater:
		return "join-later"
	case JoinMasterTransfer:
		return "master-transfer"
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

// Message is the decoded multicast envelope. For join responses the
// sender stays the joining node, the master echoes the request back
// with the type, result and roster slots filled in.
type Message struct {
	Sender  Member
	Kind    MessageKind
	Result  JoinResult
	Nodes   []Member
	Payload []byte
}

// Wire layout, little endian, packed:
//
//	sender       member entry
//	kind|result  1 byte, kind on the low nibble
//	msg_len      u32
//	nr_nodes     u32
//	nodes        MaxNodes member entries, first nr_nodes valid
//	msg          msg_len trailing bytes
//
// A member entry is id u32, pid u32, gone u32, addr 16 bytes,
// port u16, zone u32.
const (
	memberEntrySize = 4 + 4 + 4 + 16 + 2 + 4
	envelopeSize    = memberEntrySize + 1 + 4 + 4 + MaxNodes*memberEntrySize
)

func putMember(buf []byte, m Member) {
	binary.LittleEndian.PutUint32(buf[0:], m.Id)
	binary.LittleEndian.PutUint32(buf[4:], m.Pid)
	var gone uint32
	if m.Gone {
		gone = 1
	}
	binary.LittleEndian.PutUint32(buf[8:], gone)
	copy(buf[12:28], m.Info.Addr[:])
	binary.LittleEndian.PutUint16(buf[28:], m.Info.Port)
	binary.LittleEndian.PutUint32(buf[30:], m.Info.Zone)
}

func readMember(buf []byte) Member {
	var m Member
	m.Id = binary.LittleEndian.Uint32(buf[0:])
	m.Pid = binary.LittleEndian.Uint32(buf[4:])
	m.Gone = binary.LittleEndian.Uint32(buf[8:]) != 0
	copy(m.Info.Addr[:], buf[12:28])
	m.Info.Port = binary.LittleEndian.Uint16(buf[28:])
	m.Info.Zone = binary.LittleEndian.Uint32(buf[30:])
	return m
}

// Marshal serializes the message into a single frame, the envelope
// segment first and the payload segment appended behind it.
func (m Message) Marshal() []byte {
	buf := make([]byte, envelopeSize, envelopeSize+len(m.Payload))
	putMember(buf, m.Sender)
	off := memberEntrySize
	buf[off] = byte(m.Kind)&0x0f | byte(m.Result)<<4
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(m.Payload)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(m.Nodes)))
	off += 4
	for _, node := range m.Nodes {
		putMember(buf[off:], node)
		off += memberEntrySize
	}
	return append(buf, m.Payload...)
}

// UnmarshalMessage decodes a frame back into a message. The payload
// slice aliases the frame tail, the caller owns the frame.
func UnmarshalMessage(data []byte) (Message, error) {
	var m Message
	if len(data) < envelopeSize {
		return m, ErrFrameTooShort
	}
	m.Sender = readMember(data)
	off := memberEntrySize
	m.Kind = MessageKind(data[off] & 0x0f)
	m.Result = JoinResult(data[off] >> 4)
	off++
	if m.Kind > MessageUnblock {
		return m, fmt.Errorf("%w: type %d", ErrFrameMalformed, m.Kind)
	}
	msgLen := binary.LittleEndian.Uint32(data[off:])
	off += 4
	nrNodes := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if nrNodes > MaxNodes {
		return m, fmt.Errorf("%w: %d nodes", ErrFrameMalformed, nrNodes)
	}
	if int(msgLen) != len(data)-envelopeSize {
		return m, fmt.Errorf("%w: payload %d bytes, frame carries %d",
			ErrFrameMalformed, msgLen, len(data)-envelopeSize)
	}
	for i := uint32(0); i < nrNodes; i++ {
		m.Nodes = append(m.Nodes, readMember(data[off:]))
		off += memberEntrySize
	}
	if msgLen > 0 {
		m.Payload = data[envelopeSize:]
	}
	return m, nil
}
