package types

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func sampleMember(id uint32) Member {
	return Member{
		NodeId: NodeId{Id: id, Pid: 9000 + id},
		Info: NodeInfo{
			Addr: [16]byte{12: 10, 15: byte(id)},
			Port: 7000,
			Zone: 2,
		},
	}
}

func TestMessage_MarshalRoundTrip(t *testing.T) {
	messages := []Message{
		{
			Sender:  sampleMember(1),
			Kind:    MessageJoinRequest,
			Payload: []byte("opaque join payload"),
		},
		{
			Sender: sampleMember(2),
			Kind:   MessageJoinResponse,
			Result: JoinMasterTransfer,
			Nodes:  []Member{sampleMember(1), sampleMember(2), {NodeId: NodeId{Id: 3, Pid: 9003}, Gone: true}},
		},
		{
			Sender: sampleMember(4),
			Kind:   MessageLeave,
		},
		{
			Sender:  sampleMember(5),
			Kind:    MessageUnblock,
			Payload: []byte{0x00, 0xff, 0x00},
		},
	}

	for _, want := range messages {
		got, err := UnmarshalMessage(want.Marshal())
		if err != nil {
			t.Fatalf("failed decoding %s. %v", want.Kind, err)
		}
		if got.Kind != want.Kind || got.Result != want.Result {
			t.Fatalf("decoded %s/%s, wanted %s/%s", got.Kind, got.Result, want.Kind, want.Result)
		}
		if got.Sender != want.Sender {
			t.Fatalf("sender %+v, wanted %+v", got.Sender, want.Sender)
		}
		if len(got.Nodes) != len(want.Nodes) {
			t.Fatalf("decoded %d nodes, wanted %d", len(got.Nodes), len(want.Nodes))
		}
		for i := range want.Nodes {
			if !reflect.DeepEqual(got.Nodes[i], want.Nodes[i]) {
				t.Fatalf("node %d decoded as %+v, wanted %+v", i, got.Nodes[i], want.Nodes[i])
			}
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("payload %q, wanted %q", got.Payload, want.Payload)
		}
	}
}

// Type and result share one byte, type on the low nibble. The
// packing is wire compatibility, not convenience.
func TestMessage_KindAndResultPacking(t *testing.T) {
	frame := Message{
		Sender: sampleMember(1),
		Kind:   MessageBlock,
		Result: JoinLater,
	}.Marshal()

	packed := frame[memberEntrySize]
	if packed&0x0f != byte(MessageBlock) {
		t.Fatalf("low nibble holds %d", packed&0x0f)
	}
	if packed>>4 != byte(JoinLater) {
		t.Fatalf("high nibble holds %d", packed>>4)
	}
}

func TestMessage_RejectsTruncatedFrame(t *testing.T) {
	frame := Message{Sender: sampleMember(1), Kind: MessageNotify}.Marshal()
	if _, err := UnmarshalMessage(frame[:len(frame)/2]); !errors.Is(err, ErrFrameTooShort) {
		t.Fatalf("expected short frame rejection, got %v", err)
	}
}

func TestMessage_RejectsLengthMismatch(t *testing.T) {
	frame := Message{
		Sender:  sampleMember(1),
		Kind:    MessageNotify,
		Payload: []byte("truncated in flight"),
	}.Marshal()
	if _, err := UnmarshalMessage(frame[:len(frame)-3]); !errors.Is(err, ErrFrameMalformed) {
		t.Fatalf("expected malformed frame rejection, got %v", err)
	}
}

func TestMessage_RejectsUnknownKind(t *testing.T) {
	frame := Message{Sender: sampleMember(1), Kind: MessageNotify}.Marshal()
	frame[memberEntrySize] = 0x0e
	if _, err := UnmarshalMessage(frame); !errors.Is(err, ErrFrameMalformed) {
		t.Fatalf("expected unknown type rejection, got %v", err)
	}
}

func TestMessage_RejectsOversizedNodeCount(t *testing.T) {
	frame := Message{Sender: sampleMember(1), Kind: MessageJoinResponse}.Marshal()
	frame[memberEntrySize+5] = 0xff
	frame[memberEntrySize+6] = 0xff
	if _, err := UnmarshalMessage(frame); !errors.Is(err, ErrFrameMalformed) {
		t.Fatalf("expected node count rejection, got %v", err)
	}
}
