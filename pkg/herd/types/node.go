package types

// Upper bound for the cluster roster. The wire envelope reserves
// this many node slots, so every deployment of the same group must
// agree on the value.
const MaxNodes = 1024

// NodeId identifies a single process inside the group. The id part
// is assigned by the group communication layer, the pid disambiguates
// processes restarted on the same host.
type NodeId struct {
	Id  uint32
	Pid uint32
}

// Both fields take part on equality, a restarted process on the
// same address is a different node.
func (n NodeId) Equal(other NodeId) bool {
	return n.Id == other.Id && n.Pid == other.Pid
}

// NodeInfo is the host supplied descriptor for a node. It only
// becomes known to the other members after the join handshake
// completed, before that only the NodeId is usable.
type NodeInfo struct {
	// The raw 16 byte address. IPv6 addresses are used natively,
	// IPv4 addresses occupy the last four bytes and the rest is
	// zeroed.
	Addr [16]byte

	// Port the storage daemon listens on.
	Port uint16

	// Failure domain the node belongs to.
	Zone uint32
}

// Member is a node as tracked by the roster and carried on the wire.
type Member struct {
	NodeId

	// Tombstone. A member whose mastership must be revoked because
	// it departed before the cluster finished promoting a successor.
	// The entry stays on the roster until its leave event is
	// processed, but master selection skips it.
	Gone bool

	Info NodeInfo
}
