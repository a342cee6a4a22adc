package core

import (
	"fmt"
	"testing"

	"github.com/jabolina/go-herd/pkg/herd/definition"
	"github.com/jabolina/go-herd/pkg/herd/types"
)

// The harness below runs whole clusters deterministically. A shared
// hub sequences multicasts, every node holds one FIFO of pending
// input (frames and membership batches in arrival order) and steps
// through it synchronously, so tests observe the exact interleavings
// the group service contract allows.

type fakeGroup struct {
	hub     *hub
	self    types.Member
	pending []interface{}
	sendErr []error
	closed  bool
}

func (g *fakeGroup) Multicast(data []byte) error {
	if len(g.sendErr) > 0 {
		err := g.sendErr[0]
		g.sendErr = g.sendErr[1:]
		if err != nil {
			return err
		}
	}
	g.hub.broadcast(data)
	return nil
}

func (g *fakeGroup) Deliveries() <-chan Delivery    { return nil }
func (g *fakeGroup) ConfChanges() <-chan ConfChange { return nil }
func (g *fakeGroup) Pending() bool                  { return len(g.pending) > 0 }
func (g *fakeGroup) Self() types.Member             { return g.self }
func (g *fakeGroup) Close() error                   { g.closed = true; return nil }

type hub struct {
	nodes []*clusterNode
}

func (h *hub) broadcast(data []byte) {
	frame := append([]byte(nil), data...)
	for _, node := range h.nodes {
		if !node.group.closed {
			node.group.pending = append(node.group.pending, frame)
		}
	}
}

type joinRecord struct {
	joined  types.Member
	members []types.Member
	result  types.JoinResult
	payload []byte
}

type notifyRecord struct {
	sender  types.Member
	payload []byte
}

// recorder is the host side of the harness, scripted verdicts in,
// upcall history out. Everything runs on the stepping goroutine.
type recorder struct {
	joinResult  types.JoinResult
	acceptBlock bool

	checkJoins []types.Member
	joins      []joinRecord
	leaves     []types.Member
	blocks     []types.Member
	notifies   []notifyRecord
}

func newRecorder() *recorder {
	return &recorder{joinResult: types.JoinSuccess, acceptBlock: true}
}

func (r *recorder) CheckJoin(joining types.Member, payload []byte) types.JoinResult {
	r.checkJoins = append(r.checkJoins, joining)
	return r.joinResult
}

func (r *recorder) JoinCompleted(joined types.Member, members []types.Member, result types.JoinResult, payload []byte) {
	r.joins = append(r.joins, joinRecord{
		joined:  joined,
		members: members,
		result:  result,
		payload: append([]byte(nil), payload...),
	})
}

func (r *recorder) LeaveCompleted(left types.Member, members []types.Member) {
	r.leaves = append(r.leaves, left)
}

func (r *recorder) BlockRequested(sender types.Member) bool {
	r.blocks = append(r.blocks, sender)
	return r.acceptBlock
}

func (r *recorder) NotifyReceived(sender types.Member, payload []byte) {
	r.notifies = append(r.notifies, notifyRecord{
		sender:  sender,
		payload: append([]byte(nil), payload...),
	})
}

func testConfiguration(t *testing.T) *types.DriverConfiguration {
	return &types.DriverConfiguration{
		GroupName: "sheepdog",
		Logger:    definition.NewDefaultLogger(),
		OnFatal: func(format string, v ...interface{}) {
			t.Errorf("unexpected fatal: "+format, v...)
		},
	}
}

type clusterNode struct {
	driver  *Driver
	group   *fakeGroup
	handler *recorder
	fatals  []string
}

func (n *clusterNode) step() {
	item := n.group.pending[0]
	n.group.pending = n.group.pending[1:]
	switch input := item.(type) {
	case []byte:
		n.driver.deliverFrame(input)
	case ConfChange:
		n.driver.confChange(input)
	}
	n.driver.dispatch()
}

func (n *clusterNode) drain() {
	for len(n.group.pending) > 0 {
		n.step()
	}
}

type cluster struct {
	t      *testing.T
	hub    *hub
	nodes  []*clusterNode
	nextId uint32
}

func newTestCluster(t *testing.T) *cluster {
	return &cluster{t: t, hub: &hub{}}
}

func (c *cluster) addNode() *clusterNode {
	c.nextId++
	self := types.Member{
		NodeId: types.NodeId{Id: 0x0a000000 + c.nextId, Pid: 4000 + c.nextId},
		Info: types.NodeInfo{
			Addr: [16]byte{12: 10, 13: 0, 14: 0, 15: byte(c.nextId)},
			Port: 7000,
			Zone: 1,
		},
	}
	logger := definition.NewDefaultLogger()
	node := &clusterNode{
		group:   &fakeGroup{self: self, hub: c.hub},
		handler: newRecorder(),
	}
	conf := &types.DriverConfiguration{
		GroupName: "sheepdog",
		Logger:    logger,
		OnFatal: func(format string, v ...interface{}) {
			node.fatals = append(node.fatals, fmt.Sprintf(format, v...))
		},
	}
	driver := NewDriver(conf, nil)
	driver.gcs = node.group
	driver.handler = node.handler
	driver.this = self
	node.driver = driver
	c.hub.nodes = append(c.hub.nodes, node)
	c.nodes = append(c.nodes, node)
	return node
}

// settle steps every node until nobody has pending input left.
func (c *cluster) settle() {
	for {
		progress := false
		for _, node := range c.nodes {
			if len(node.group.pending) > 0 {
				node.drain()
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

func (c *cluster) confChange(to *clusterNode, change ConfChange) {
	to.group.pending = append(to.group.pending, change)
}

func membersOf(nodes ...*clusterNode) []types.Member {
	var members []types.Member
	for _, node := range nodes {
		members = append(members, node.group.self)
	}
	return members
}

// connect announces a starting node to the membership layer: every
// running member learns of the newcomer as a delta, the newcomer
// receives the full list with only itself as the delta.
func (c *cluster) connect(joining *clusterNode, running ...*clusterNode) {
	members := membersOf(append(running, joining)...)
	for _, node := range running {
		c.confChange(node, ConfChange{Members: members, Joined: membersOf(joining)})
	}
	c.confChange(joining, ConfChange{Members: members, Joined: membersOf(joining)})
}

// disconnect simulates a node dying, its pending input vanishes with
// it and the survivors observe the departure.
func (c *cluster) disconnect(leaving *clusterNode, survivors ...*clusterNode) {
	leaving.group.closed = true
	leaving.group.pending = nil
	members := membersOf(survivors...)
	for _, node := range survivors {
		c.confChange(node, ConfChange{Members: members, Left: membersOf(leaving)})
	}
}

// bootstrap forms a cluster of the given size, nodes joining one
// after another, and verifies everyone agrees before handing it to
// the test.
func (c *cluster) bootstrap(size int) []*clusterNode {
	var nodes []*clusterNode
	for i := 0; i < size; i++ {
		node := c.addNode()
		c.connect(node, nodes...)
		if err := node.driver.Join(node.group.self.Info, []byte("join")); err != nil {
			c.t.Fatalf("failed joining node %d. %v", i, err)
		}
		c.settle()
		nodes = append(nodes, node)
	}
	for i, node := range nodes {
		if got := len(node.driver.Members()); got != size {
			c.t.Fatalf("node %d sees %d members after bootstrap, wanted %d", i, got, size)
		}
	}
	return nodes
}

func sameRoster(a, b []types.Member) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].NodeId.Equal(b[i].NodeId) {
			return false
		}
	}
	return true
}

func rosterIds(members []types.Member) []uint32 {
	var ids []uint32
	for _, m := range members {
		ids = append(ids, m.Id)
	}
	return ids
}
