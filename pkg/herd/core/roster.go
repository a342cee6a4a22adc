package core

import "github.com/jabolina/go-herd/pkg/herd/types"

// Roster is the authoritative ordered list of confirmed members.
// Order is insertion order as observed while processing join
// responses, which the group service delivers identically
// everywhere, so every member agrees on it. The first entry not
// marked gone is the master.
type Roster struct {
	members []types.Member
}

func NewRoster() *Roster {
	return &Roster{}
}

func (r *Roster) Len() int {
	return len(r.members)
}

// Snapshot copies the current member list.
func (r *Roster) Snapshot() []types.Member {
	out := make([]types.Member, len(r.members))
	copy(out, r.members)
	return out
}

// Reset replaces the whole roster, used when adopting the snapshot
// carried by our own join response.
func (r *Roster) Reset(members []types.Member) {
	r.members = append(r.members[:0:0], members...)
}

func (r *Roster) Clear() {
	r.members = nil
}

func (r *Roster) find(id types.NodeId) int {
	for i, m := range r.members {
		if m.NodeId.Equal(id) {
			return i
		}
	}
	return -1
}

// Add appends a member, keeping node ids unique. Re-adding an
// existing id refreshes its descriptor instead of duplicating the
// entry.
func (r *Roster) Add(member types.Member) bool {
	if i := r.find(member.NodeId); i >= 0 {
		r.members[i].Info = member.Info
		return false
	}
	if len(r.members) >= types.MaxNodes {
		return false
	}
	r.members = append(r.members, member)
	return true
}

// Delete removes the member and shifts everything behind it down by
// one slot, the roster holds no holes. Length shrinks by exactly one
// when the id was present.
func (r *Roster) Delete(id types.NodeId) bool {
	i := r.find(id)
	if i < 0 {
		return false
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	return true
}

// MarkGone tombstones the member so master selection skips it until
// its leave event is processed.
func (r *Roster) MarkGone(id types.NodeId) bool {
	i := r.find(id)
	if i < 0 {
		return false
	}
	r.members[i].Gone = true
	return true
}

// MasterIndex returns the roster index of the node if it is the
// current master, the first entry not marked gone, and -1 otherwise.
// An empty roster means no master was agreed yet and any node may
// treat itself as the one forming the cluster, so the index is 0.
func (r *Roster) MasterIndex(id types.NodeId) int {
	if len(r.members) == 0 {
		return 0
	}
	for i, m := range r.members {
		if m.Gone {
			continue
		}
		if m.NodeId.Equal(id) {
			return i
		}
		return -1
	}
	return -1
}
