package core

import "github.com/jabolina/go-herd/pkg/herd/types"

// dispatch drains the event queues, invoked after every intake.
// Never re-entrant, all work happens on the driver poll goroutine.
//
// The group service delivers departures one by one during a
// partition, so draining with more input already waiting could split
// a batch and corrupt the majority tally. Yield and let the next
// delivery re-enter with the whole batch visible.
func (d *Driver) dispatch() {
	if d.gcs.Pending() {
		return
	}
	d.majority = 0

	for {
		var queue *eventList
		// Non block events take priority, block events are the one
		// kind allowed to stall.
		switch {
		case !d.nonblock.empty():
			queue = &d.nonblock
		case !d.block.empty():
			queue = &d.block
		default:
			return
		}
		e := queue.front()

		if !d.joinFinished {
			switch e.Kind {
			case types.EventJoinRequest:
				if d.selfElect {
					// Nobody was here before us, seed the cluster.
					d.markJoinFinished()
					d.lockedRoster(func(r *Roster) { r.Clear() })
				}
			case types.EventJoinResponse:
				if e.Sender.NodeId.Equal(d.self().NodeId) {
					// Our own response carries the roster as the
					// master agreed it under total order, which
					// overrules whatever we accumulated locally.
					d.markJoinFinished()
					d.lockedRoster(func(r *Roster) { r.Reset(e.Nodes) })
				}
			}
		}

		var done bool
		if d.joinFinished {
			done = d.processEvent(e)
		} else {
			// Still waiting for our own handshake. Join requests and
			// blocks stay queued untouched, everything else on the
			// queue predates our membership and is discarded so our
			// own response can reach the head.
			done = e.Kind != types.EventJoinRequest && e.Kind != types.EventBlock
		}
		if !done {
			return
		}
		queue.remove(e)
		eventsProcessed.WithLabelValues(e.Kind.String()).Inc()
	}
}

// processEvent handles one event once the local join completed.
// Returns whether the event is finished and must leave its queue, a
// false return stops the drain with the event still at the head.
func (d *Driver) processEvent(e *types.Event) bool {
	switch e.Kind {
	case types.EventJoinRequest:
		return d.processJoinRequest(e)
	case types.EventJoinResponse:
		return d.processJoinResponse(e)
	case types.EventLeave:
		return d.processLeave(e)
	case types.EventBlock:
		return d.processBlock(e)
	case types.EventNotify:
		d.handler.NotifyReceived(e.Sender, e.Payload)
		return true
	}
	d.log.Errorf("unexpected event kind %d", e.Kind)
	return true
}

// Only the master answers join requests. Everyone else keeps the
// event queued until the response multicast mutates it, preserving
// the agreed order of joins.
func (d *Driver) processJoinRequest(e *types.Event) bool {
	if d.lockedMasterIndex(d.self().NodeId) < 0 {
		return false
	}
	if !e.HasPayload {
		// The membership placeholder, the request multicast from the
		// node did not arrive yet.
		return false
	}
	if e.Callbacked {
		// Already answered, waiting for the echoed response.
		return false
	}

	result := d.handler.CheckJoin(e.Sender, e.Payload)
	if result == types.JoinMasterTransfer {
		d.lockedRoster(func(r *Roster) { r.Clear() })
	}
	if err := d.sendAs(e.Sender, types.MessageJoinResponse, result, d.Members(), e.Payload); err != nil {
		d.log.Errorf("failed answering join of node %d:%d. %v", e.Sender.Id, e.Sender.Pid, err)
		return false
	}
	if result == types.JoinMasterTransfer {
		d.fatalf("handed mastership to node %d:%d, restart required", e.Sender.Id, e.Sender.Pid)
		return false
	}
	e.Callbacked = true
	return false
}

func (d *Driver) processJoinResponse(e *types.Event) bool {
	switch e.Result {
	case types.JoinSuccess, types.JoinMasterTransfer, types.JoinLater:
		d.lockedRoster(func(r *Roster) {
			r.Add(types.Member{NodeId: e.Sender.NodeId, Info: e.Sender.Info})
		})
	case types.JoinFail:
	}
	d.handler.JoinCompleted(e.Sender, d.Members(), e.Result, e.Payload)
	if e.Result == types.JoinMasterTransfer && e.Sender.NodeId.Equal(d.self().NodeId) {
		// The old master handed the cluster to us mid handshake.
		// Restart once it is back up instead of running half joined.
		d.fatalf("join answered with master transfer, restart this node when the master is up")
	}
	return true
}

func (d *Driver) processLeave(e *types.Event) bool {
	var removed bool
	d.lockedRoster(func(r *Roster) { removed = r.Delete(e.Sender.NodeId) })
	if !removed {
		// A graceful leave shows up twice, as the leave multicast
		// and again on the membership change. Only the first one
		// that still finds the member reports it.
		return true
	}
	d.handler.LeaveCompleted(e.Sender, d.Members())
	return true
}

// A block stalls its queue until the host accepts it, and after
// acceptance until the matching unblock cancels it. The upcall runs
// again on every dispatch while the host refuses, and never again for
// the event once the host accepted.
func (d *Driver) processBlock(e *types.Event) bool {
	if e.Callbacked {
		return false
	}
	if d.handler.BlockRequested(e.Sender) {
		e.Callbacked = true
	}
	return false
}
