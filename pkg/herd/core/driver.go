package core

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/jabolina/go-herd/pkg/herd/types"
	"github.com/pkg/errors"
)

// How long to wait before retrying a send the group service refused
// with a transient failure.
const sendRetryInterval = time.Second

// GroupDialer connects a driver to its group service. The production
// dialer stands up the reliable transport and the membership layer,
// tests plug a deterministic in process service instead.
type GroupDialer func(conf *types.DriverConfiguration, log types.Logger) (GroupService, error)

// Driver reconciles the two asynchronous streams of the group
// service, multicast deliveries and membership changes, into one
// deterministic sequence of cluster events delivered through the
// host's EventHandler.
//
// All intake and dispatch work runs on a single poll goroutine, the
// queues and the join state need no locking. The roster and local
// identity are additionally read from host goroutines and sit behind
// the mutex.
type Driver struct {
	conf    *types.DriverConfiguration
	log     types.Logger
	dial    GroupDialer
	invoker Invoker

	mutex  sync.Mutex
	this   types.Member
	roster *Roster

	gcs     GroupService
	handler types.EventHandler

	nonblock eventList
	block    eventList

	// Local join state. joinFinished is monotone, selfElect is set
	// at most once, majority is reset at the start of every drain and
	// stays armed across membership batches taken in between.
	joinFinished bool
	selfElect    bool
	majority     int

	context context.Context
	finish  context.CancelFunc

	off struct {
		sync.Mutex
		shutdown bool
	}
}

func NewDriver(conf *types.DriverConfiguration, dial GroupDialer) *Driver {
	ctx, done := context.WithCancel(context.Background())
	return &Driver{
		conf:    conf,
		log:     conf.Logger,
		dial:    dial,
		invoker: NewInvoker(),
		roster:  NewRoster(),
		context: ctx,
		finish:  done,
	}
}

// Init connects to the group service, learns the local identity and
// starts the poll loop. The option string is reserved for transport
// variants and ignored.
func (d *Driver) Init(handler types.EventHandler, option string) error {
	_ = option
	if handler == nil {
		return errors.New("no event handler provided")
	}
	gcs, err := d.dial(d.conf, d.log)
	if err != nil {
		return errors.Wrap(err, "failed joining the group service")
	}
	d.handler = handler
	d.gcs = gcs
	d.mutex.Lock()
	d.this = gcs.Self()
	d.mutex.Unlock()
	d.invoker.Spawn(d.poll)
	return nil
}

// poll is the single thread of the event pipeline. Every intake is
// followed by a dispatch attempt, the dispatcher itself yields while
// the service still has input waiting.
func (d *Driver) poll() {
	defer d.log.Debugf("closing driver for node %d:%d", d.self().Id, d.self().Pid)
	for {
		select {
		case <-d.context.Done():
			return
		case delivery, ok := <-d.gcs.Deliveries():
			if !ok {
				if d.context.Err() == nil {
					d.fatalf("lost connection to the group service")
				}
				return
			}
			d.deliverFrame(delivery.Data)
			d.dispatch()
		case change, ok := <-d.gcs.ConfChanges():
			if !ok {
				if d.context.Err() == nil {
					d.fatalf("lost connection to the group service")
				}
				return
			}
			d.confChange(change)
			d.dispatch()
		}
	}
}

// Join announces this node to the cluster. The handshake finishes
// asynchronously through JoinCompleted once the master answered.
func (d *Driver) Join(info types.NodeInfo, payload []byte) error {
	d.mutex.Lock()
	d.this.Info = info
	d.mutex.Unlock()
	return d.send(types.MessageJoinRequest, types.JoinSuccess, nil, payload)
}

// Leave announces departure. The membership layer will additionally
// report it once the node disconnects.
func (d *Driver) Leave() error {
	return d.send(types.MessageLeave, types.JoinSuccess, nil, nil)
}

// Notify multicasts an ordered notification to every member.
func (d *Driver) Notify(payload []byte) error {
	return d.send(types.MessageNotify, types.JoinSuccess, nil, payload)
}

// Block requests the cluster wide serialization lock.
func (d *Driver) Block() error {
	return d.send(types.MessageBlock, types.JoinSuccess, nil, nil)
}

// Unblock releases a previously requested block.
func (d *Driver) Unblock(payload []byte) error {
	return d.send(types.MessageUnblock, types.JoinSuccess, nil, payload)
}

// LocalAddr is the 16 byte wire form of the address the membership
// layer advertises for this node.
func (d *Driver) LocalAddr() ([16]byte, error) {
	if d.gcs == nil || d.context.Err() != nil {
		return [16]byte{}, ErrDriverClosed
	}
	return d.gcs.Self().Info.Addr, nil
}

// Members is the current roster snapshot.
func (d *Driver) Members() []types.Member {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.roster.Snapshot()
}

// JoinFinished reports whether the local join handshake completed.
func (d *Driver) JoinFinished() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.joinFinished
}

// Close stops the poll loop and disconnects from the group service.
// Idempotent.
func (d *Driver) Close() error {
	d.off.Lock()
	defer d.off.Unlock()
	if d.off.shutdown {
		return nil
	}
	d.off.shutdown = true
	d.finish()
	var err error
	if d.gcs != nil {
		err = d.gcs.Close()
	}
	d.invoker.Stop()
	return err
}

func (d *Driver) send(kind types.MessageKind, result types.JoinResult, nodes []types.Member, payload []byte) error {
	return d.sendAs(d.self(), kind, result, nodes, payload)
}

// sendAs multicasts an envelope with an explicit sender identity.
// The master answers a join request by echoing it back with the
// joining node still as the sender, so the response finds its event.
// Transient refusals are retried forever, anything else is the
// caller's problem.
func (d *Driver) sendAs(sender types.Member, kind types.MessageKind, result types.JoinResult, nodes []types.Member, payload []byte) error {
	if d.gcs == nil || d.context.Err() != nil {
		return ErrDriverClosed
	}
	frame := types.Message{
		Sender:  sender,
		Kind:    kind,
		Result:  result,
		Nodes:   nodes,
		Payload: payload,
	}.Marshal()

	for {
		err := d.gcs.Multicast(frame)
		if err == nil {
			return nil
		}
		if !goerrors.Is(err, ErrTryAgain) {
			return errors.Wrapf(err, "failed to multicast %s", kind)
		}
		d.log.Warnf("group service busy, retrying %s", kind)
		select {
		case <-d.context.Done():
			return ErrDriverClosed
		case <-time.After(sendRetryInterval):
		}
	}
}

// markJoinFinished flips the monotone join flag. Only the dispatch
// path calls this, the mutex is for the JoinFinished readers.
func (d *Driver) markJoinFinished() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.joinFinished = true
}

func (d *Driver) self() types.Member {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.this
}

func (d *Driver) lockedRoster(apply func(r *Roster)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	apply(d.roster)
}

func (d *Driver) lockedMasterIndex(id types.NodeId) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.roster.MasterIndex(id)
}

func (d *Driver) fatalf(format string, v ...interface{}) {
	abortedDrains.Inc()
	d.conf.Fatalf(format, v...)
}
