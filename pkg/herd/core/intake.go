package core

import "github.com/jabolina/go-herd/pkg/herd/types"

// FIFO of pending cluster events. Produced by the intake and
// consumed by the dispatcher, both running on the driver poll
// goroutine, so no locking.
type eventList struct {
	events []*types.Event
}

func (l *eventList) push(e *types.Event) {
	l.events = append(l.events, e)
}

func (l *eventList) empty() bool {
	return len(l.events) == 0
}

func (l *eventList) front() *types.Event {
	if len(l.events) == 0 {
		return nil
	}
	return l.events[0]
}

func (l *eventList) remove(e *types.Event) bool {
	for i, have := range l.events {
		if have == e {
			l.events = append(l.events[:i], l.events[i+1:]...)
			return true
		}
	}
	return false
}

// find returns the first queued event of the kind belonging to the
// sender, preserving intake order.
func (l *eventList) find(kind types.EventKind, sender types.NodeId) *types.Event {
	for _, e := range l.events {
		if e.Kind == kind && e.Sender.NodeId.Equal(sender) {
			return e
		}
	}
	return nil
}

// deliverFrame converts one multicast delivery into queue work.
// Join traffic mutates the placeholder event the membership intake
// allocated for the sender, everything else allocates a fresh event.
func (d *Driver) deliverFrame(data []byte) {
	m, err := types.UnmarshalMessage(data)
	if err != nil {
		framesDropped.Inc()
		d.log.Errorf("dropping frame of %d bytes. %v", len(data), err)
		return
	}
	framesDelivered.Inc()
	d.log.Debugf("delivered %s from node %d:%d", m.Kind, m.Sender.Id, m.Sender.Pid)

	switch m.Kind {
	case types.MessageJoinRequest:
		e := d.nonblock.find(types.EventJoinRequest, m.Sender.NodeId)
		if e == nil {
			d.log.Warnf("join request from node %d:%d without a membership event", m.Sender.Id, m.Sender.Pid)
			return
		}
		e.Sender = m.Sender
		e.Payload = m.Payload
		e.HasPayload = true

	case types.MessageJoinResponse:
		e := d.nonblock.find(types.EventJoinRequest, m.Sender.NodeId)
		if e == nil {
			d.log.Warnf("join response for node %d:%d without a pending request", m.Sender.Id, m.Sender.Pid)
			return
		}
		e.Kind = types.EventJoinResponse
		e.Sender = m.Sender
		e.Result = m.Result
		e.Nodes = m.Nodes
		e.Payload = m.Payload
		e.HasPayload = true

	case types.MessageLeave:
		// Tombstone a departing master right away so a join request
		// queued behind this leave is answered by the successor.
		if d.lockedMasterIndex(m.Sender.NodeId) >= 0 {
			d.lockedRoster(func(r *Roster) { r.MarkGone(m.Sender.NodeId) })
		}
		d.nonblock.push(&types.Event{
			Kind:       types.EventLeave,
			Sender:     m.Sender,
			Payload:    m.Payload,
			HasPayload: true,
		})

	case types.MessageNotify:
		d.nonblock.push(&types.Event{
			Kind:       types.EventNotify,
			Sender:     m.Sender,
			Payload:    m.Payload,
			HasPayload: true,
		})

	case types.MessageBlock:
		d.block.push(&types.Event{
			Kind:   types.EventBlock,
			Sender: m.Sender,
		})

	case types.MessageUnblock:
		// Cancels the matching block. Idempotent, the block may have
		// been cancelled already by the sender departing, or never
		// seen because we joined after it.
		if e := d.block.find(types.EventBlock, m.Sender.NodeId); e != nil {
			d.block.remove(e)
		}
	}
}

// confChange converts one membership change batch into queue work
// and runs the partition guard.
func (d *Driver) confChange(cc ConfChange) {
	confChanges.Inc()
	d.log.Debugf("conf change: %d members, %d joined, %d left",
		len(cc.Members), len(cc.Joined), len(cc.Left))

	// Arm the majority threshold on the first departure observed
	// while the cluster had more than two nodes. Losing the majority
	// afterwards means this side of a partition must not continue.
	total := len(cc.Members) + len(cc.Left)
	if d.majority == 0 && len(cc.Left) > 0 && total > 2 {
		d.majority = total/2 + 1
	}
	if len(cc.Members) == 0 {
		d.fatalf("no members left in the group, NIC failure?")
		return
	}
	if len(cc.Members) < d.majority {
		d.fatalf("network partition detected, %d of %d members remain", len(cc.Members), total)
		return
	}

	for _, left := range cc.Left {
		// The node departed before completing its handshake, cancel
		// whatever it still has outstanding.
		if e := d.nonblock.find(types.EventJoinRequest, left.NodeId); e != nil {
			d.nonblock.remove(e)
		}
		if e := d.block.find(types.EventBlock, left.NodeId); e != nil {
			d.block.remove(e)
		}
		if d.lockedMasterIndex(left.NodeId) >= 0 {
			d.lockedRoster(func(r *Roster) { r.MarkGone(left.NodeId) })
		}
		d.nonblock.push(&types.Event{
			Kind:   types.EventLeave,
			Sender: left,
		})
	}

	for _, joined := range cc.Joined {
		// Placeholder for the join request multicast still in
		// flight from that node.
		d.nonblock.push(&types.Event{
			Kind:   types.EventJoinRequest,
			Sender: joined,
		})
	}

	// Holding a join event for every current member means nobody
	// joined before us, this node is eligible to seed the cluster.
	if !d.joinFinished && !d.selfElect && len(cc.Members) > 0 {
		elect := true
		for _, member := range cc.Members {
			if d.nonblock.find(types.EventJoinRequest, member.NodeId) == nil {
				elect = false
				break
			}
		}
		d.selfElect = elect
	}
}
