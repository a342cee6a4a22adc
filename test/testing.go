package test

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jabolina/go-herd/pkg/herd"
	"github.com/jabolina/go-herd/pkg/herd/core"
	"github.com/jabolina/go-herd/pkg/herd/types"
)

// In memory group service for driving whole drivers through their
// public surface, poll loop included. A hub sequences everything a
// node receives, multicasts and membership batches alike, under one
// lock, so every member observes the same total order and a frame
// never overtakes the membership change that announced its sender.

type Hub struct {
	mutex  sync.Mutex
	groups []*MemoryGroup
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) register(group *MemoryGroup) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.groups = append(h.groups, group)
}

func (h *Hub) broadcast(data []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	frame := append([]byte(nil), data...)
	for _, group := range h.groups {
		if !group.closed() {
			group.enqueue(core.Delivery{Data: frame})
		}
	}
}

func (h *Hub) open() []*MemoryGroup {
	var open []*MemoryGroup
	for _, group := range h.groups {
		if !group.closed() {
			open = append(open, group)
		}
	}
	return open
}

func membersOf(groups []*MemoryGroup) []types.Member {
	var members []types.Member
	for _, group := range groups {
		members = append(members, group.self)
	}
	return members
}

// AnnounceJoin delivers the membership change for a starting node:
// the full member list everywhere, the newcomer as the only delta.
func (h *Hub) AnnounceJoin(joining *MemoryGroup) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	members := membersOf(h.open())
	for _, group := range h.open() {
		group.enqueue(core.ConfChange{
			Members: members,
			Joined:  []types.Member{joining.self},
		})
	}
}

// AnnounceLeave closes the group and delivers the departure to the
// survivors as one batch.
func (h *Hub) AnnounceLeave(leaving *MemoryGroup) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	leaving.markClosed()
	members := membersOf(h.open())
	for _, group := range h.open() {
		group.enqueue(core.ConfChange{
			Members: members,
			Left:    []types.Member{leaving.self},
		})
	}
}

// MemoryGroup is one node's view of the hub. A single pump goroutine
// feeds the two unbuffered streams from one queue, preserving the
// hub's order across them.
type MemoryGroup struct {
	hub  *Hub
	self types.Member

	mutex sync.Mutex
	queue []interface{}
	down  bool

	deliveries chan core.Delivery
	changes    chan core.ConfChange

	context context.Context
	finish  context.CancelFunc
}

func NewMemoryGroup(hub *Hub, self types.Member) *MemoryGroup {
	ctx, done := context.WithCancel(context.Background())
	g := &MemoryGroup{
		hub:        hub,
		self:       self,
		deliveries: make(chan core.Delivery),
		changes:    make(chan core.ConfChange),
		context:    ctx,
		finish:     done,
	}
	hub.register(g)
	go g.pump()
	return g
}

func (g *MemoryGroup) enqueue(item interface{}) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.queue = append(g.queue, item)
}

func (g *MemoryGroup) next() (interface{}, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if len(g.queue) == 0 {
		return nil, false
	}
	item := g.queue[0]
	g.queue = g.queue[1:]
	return item, true
}

func (g *MemoryGroup) pump() {
	for {
		item, ok := g.next()
		if !ok {
			select {
			case <-g.context.Done():
				return
			case <-time.After(time.Millisecond):
				continue
			}
		}
		switch input := item.(type) {
		case core.Delivery:
			select {
			case <-g.context.Done():
				return
			case g.deliveries <- input:
			}
		case core.ConfChange:
			select {
			case <-g.context.Done():
				return
			case g.changes <- input:
			}
		}
	}
}

func (g *MemoryGroup) closed() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.down
}

func (g *MemoryGroup) markClosed() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.down = true
}

func (g *MemoryGroup) Multicast(data []byte) error {
	if g.closed() {
		return fmt.Errorf("group is down")
	}
	g.hub.broadcast(data)
	return nil
}

func (g *MemoryGroup) Deliveries() <-chan core.Delivery { return g.deliveries }

func (g *MemoryGroup) ConfChanges() <-chan core.ConfChange { return g.changes }

func (g *MemoryGroup) Pending() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.queue) > 0
}

func (g *MemoryGroup) Self() types.Member { return g.self }

func (g *MemoryGroup) Close() error {
	g.markClosed()
	g.finish()
	return nil
}

// RecordingHandler is the host side of the harness, safe for the
// driver's dispatch goroutine and the test to share.
type RecordingHandler struct {
	mutex       sync.Mutex
	JoinResult  types.JoinResult
	AcceptBlock bool

	joins    int
	leaves   int
	blocks   int
	notifies [][]byte
	roster   []types.Member
}

func NewRecordingHandler() *RecordingHandler {
	return &RecordingHandler{JoinResult: types.JoinSuccess, AcceptBlock: true}
}

func (r *RecordingHandler) CheckJoin(joining types.Member, payload []byte) types.JoinResult {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.JoinResult
}

func (r *RecordingHandler) JoinCompleted(joined types.Member, members []types.Member, result types.JoinResult, payload []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.joins++
	r.roster = append([]types.Member(nil), members...)
}

func (r *RecordingHandler) LeaveCompleted(left types.Member, members []types.Member) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.leaves++
	r.roster = append([]types.Member(nil), members...)
}

func (r *RecordingHandler) BlockRequested(sender types.Member) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.blocks++
	return r.AcceptBlock
}

func (r *RecordingHandler) NotifyReceived(sender types.Member, payload []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.notifies = append(r.notifies, append([]byte(nil), payload...))
}

func (r *RecordingHandler) Joins() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.joins
}

func (r *RecordingHandler) Leaves() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.leaves
}

func (r *RecordingHandler) Notifies() [][]byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([][]byte, len(r.notifies))
	copy(out, r.notifies)
	return out
}

func (r *RecordingHandler) Roster() []types.Member {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]types.Member(nil), r.roster...)
}

// ClusterNode bundles a running driver with its service and handler.
type ClusterNode struct {
	Driver  *core.Driver
	Group   *MemoryGroup
	Handler *RecordingHandler
}

// ClusterHarness stands up whole clusters over one hub.
type ClusterHarness struct {
	T      *testing.T
	Hub    *Hub
	Nodes  []*ClusterNode
	nextId uint32
}

func NewClusterHarness(t *testing.T) *ClusterHarness {
	return &ClusterHarness{T: t, Hub: NewHub()}
}

// StartNode spins a driver up, announces it and waits for its join
// handshake to complete.
func (c *ClusterHarness) StartNode() *ClusterNode {
	c.nextId++
	self := types.Member{
		NodeId: types.NodeId{Id: 0x7f000000 + c.nextId, Pid: 5000 + c.nextId},
		Info: types.NodeInfo{
			Addr: [16]byte{12: 127, 15: byte(c.nextId)},
			Port: 7000,
			Zone: 1,
		},
	}
	group := NewMemoryGroup(c.Hub, self)
	conf := herd.DefaultConfiguration()
	conf.Logger.ToggleDebug(false)
	conf.OnFatal = func(format string, v ...interface{}) {
		c.T.Errorf("node %d aborted: "+format, append([]interface{}{self.Id}, v...)...)
	}

	node := &ClusterNode{Group: group, Handler: NewRecordingHandler()}
	node.Driver = core.NewDriver(conf, func(*types.DriverConfiguration, types.Logger) (core.GroupService, error) {
		return group, nil
	})
	if err := node.Driver.Init(node.Handler, ""); err != nil {
		c.T.Fatalf("failed initializing driver. %v", err)
	}

	c.Hub.AnnounceJoin(group)
	if err := node.Driver.Join(self.Info, []byte("harness")); err != nil {
		c.T.Fatalf("failed joining. %v", err)
	}
	if !WaitFor(5*time.Second, node.Driver.JoinFinished) {
		PrintStackTrace(c.T)
		c.T.Fatalf("node %d never finished joining", self.Id)
	}
	c.Nodes = append(c.Nodes, node)
	return node
}

// StopNode leaves gracefully and tears the driver down.
func (c *ClusterHarness) StopNode(node *ClusterNode) {
	if err := node.Driver.Leave(); err != nil {
		c.T.Errorf("failed leaving. %v", err)
	}
	c.Hub.AnnounceLeave(node.Group)
	if err := node.Driver.Close(); err != nil {
		c.T.Errorf("failed closing. %v", err)
	}
}

// Off tears the whole cluster down.
func (c *ClusterHarness) Off() {
	group := &sync.WaitGroup{}
	for _, node := range c.Nodes {
		group.Add(1)
		go func(node *ClusterNode) {
			defer group.Done()
			node.Group.markClosed()
			if err := node.Driver.Close(); err != nil {
				c.T.Errorf("failed closing. %v", err)
			}
		}(node)
	}
	group.Wait()
}

// WaitFor polls the condition until it holds or the timeout runs
// out.
func WaitFor(duration time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan bool)
	go func() {
		cb()
		done <- true
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

func PrintStackTrace(t *testing.T) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	t.Errorf("%s", buf)
}
