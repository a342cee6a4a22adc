package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/jabolina/go-herd/pkg/herd/helper"
	"github.com/jabolina/go-herd/pkg/herd/types"
	"github.com/pkg/errors"
)

const (
	// Node meta layout: pid u32, port u16, zone u32.
	metaSize = 10

	// The membership layer learns of departures one at a time, but
	// the partition guard must see whole batches. Events arriving
	// within the window are folded into one configuration change.
	coalesceWindow = 200 * time.Millisecond

	eventBacklog   = 1024
	leaveBroadcast = time.Second
)

// nodeDelegate advertises this node's pid, port and zone, so peers
// can reconstruct the full node identity from gossip alone.
type nodeDelegate struct {
	meta []byte
}

func (d *nodeDelegate) NodeMeta(limit int) []byte {
	if limit < len(d.meta) {
		return nil
	}
	return d.meta
}

func (d *nodeDelegate) NotifyMsg([]byte) {}

func (d *nodeDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *nodeDelegate) LocalState(join bool) []byte { return nil }

func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}

func encodeMeta(pid uint32, port uint16, zone uint32) []byte {
	meta := make([]byte, metaSize)
	binary.LittleEndian.PutUint32(meta[0:], pid)
	binary.LittleEndian.PutUint16(meta[4:], port)
	binary.LittleEndian.PutUint32(meta[6:], zone)
	return meta
}

func memberFromNode(node *memberlist.Node) types.Member {
	member := types.Member{
		NodeId: types.NodeId{Id: helper.NodeIdFromAddr(node.Addr)},
		Info: types.NodeInfo{
			Addr: helper.AddrBytes(node.Addr),
			Port: node.Port,
		},
	}
	if len(node.Meta) >= metaSize {
		member.Pid = binary.LittleEndian.Uint32(node.Meta[0:])
		member.Info.Port = binary.LittleEndian.Uint16(node.Meta[4:])
		member.Info.Zone = binary.LittleEndian.Uint32(node.Meta[6:])
	}
	return member
}

// membership is the configuration change half of the production
// group service, backed by memberlist gossip.
type membership struct {
	log     types.Logger
	ml      *memberlist.Memberlist
	events  chan memberlist.NodeEvent
	changes chan ConfChange
	self    types.Member
	context context.Context
	finish  context.CancelFunc
}

func newMembership(conf *types.DriverConfiguration, logger types.Logger) (*membership, error) {
	events := make(chan memberlist.NodeEvent, eventBacklog)

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = fmt.Sprintf("%s-%s", conf.GroupName, helper.GenerateUID())
	cfg.BindAddr = conf.BindAddr
	cfg.BindPort = conf.BindPort
	cfg.AdvertisePort = conf.BindPort
	cfg.Delegate = &nodeDelegate{
		meta: encodeMeta(uint32(os.Getpid()), uint16(conf.BindPort), conf.Zone),
	}
	cfg.Events = &memberlist.ChannelEventDelegate{Ch: events}

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating the membership layer")
	}
	if len(conf.Peers) > 0 {
		if _, err := ml.Join(conf.Peers); err != nil {
			ml.Shutdown()
			return nil, errors.Wrapf(err, "failed reaching peers %v", conf.Peers)
		}
	}

	ctx, done := context.WithCancel(context.Background())
	m := &membership{
		log:     logger,
		ml:      ml,
		events:  events,
		changes: make(chan ConfChange, 16),
		self:    memberFromNode(ml.LocalNode()),
		context: ctx,
		finish:  done,
	}

	// The initial sync reports every discovered node as a join, but
	// nodes that were members before us must not appear as a delta,
	// only the local node genuinely joined. Fold the whole sync into
	// one change so self election sees the true picture.
	m.drainInitialSync()
	go m.coalesce()
	return m, nil
}

func (m *membership) drainInitialSync() {
	for {
		select {
		case <-m.events:
			continue
		default:
		}
		break
	}
	var change ConfChange
	change.Joined = []types.Member{m.self}
	for _, node := range m.ml.Members() {
		change.Members = append(change.Members, memberFromNode(node))
	}
	m.changes <- change
}

func (m *membership) Pending() bool {
	return len(m.events) > 0 || len(m.changes) > 0
}

func (m *membership) Close() error {
	m.finish()
	if err := m.ml.Leave(leaveBroadcast); err != nil {
		m.log.Errorf("failed broadcasting leave. %v", err)
	}
	return m.ml.Shutdown()
}

// coalesce folds bursts of single node events into configuration
// change batches.
func (m *membership) coalesce() {
	defer close(m.changes)
	for {
		select {
		case <-m.context.Done():
			return
		case first, ok := <-m.events:
			if !ok {
				return
			}
			batch := []memberlist.NodeEvent{first}
			window := time.After(coalesceWindow)
		gather:
			for {
				select {
				case <-m.context.Done():
					return
				case event := <-m.events:
					batch = append(batch, event)
				case <-window:
					break gather
				}
			}
			change := m.changeFrom(batch)
			if len(change.Joined) == 0 && len(change.Left) == 0 {
				continue
			}
			select {
			case <-m.context.Done():
				return
			case m.changes <- change:
			}
		}
	}
}

func (m *membership) changeFrom(batch []memberlist.NodeEvent) ConfChange {
	var change ConfChange
	for _, event := range batch {
		member := memberFromNode(event.Node)
		switch event.Event {
		case memberlist.NodeJoin:
			change.Joined = append(change.Joined, member)
		case memberlist.NodeLeave:
			change.Left = append(change.Left, member)
		case memberlist.NodeUpdate:
		}
	}
	for _, node := range m.ml.Members() {
		change.Members = append(change.Members, memberFromNode(node))
	}
	return change
}
