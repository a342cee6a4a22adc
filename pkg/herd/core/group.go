package core

import "github.com/jabolina/go-herd/pkg/herd/types"

// ReliableGroup is the production group service: relt provides the
// totally ordered multicast stream, memberlist gossip provides the
// configuration change stream.
type ReliableGroup struct {
	transport *ReliableTransport
	members   *membership
}

// DialReliableGroup stands up both halves of the group service.
func DialReliableGroup(conf *types.DriverConfiguration, logger types.Logger) (GroupService, error) {
	transport, err := NewReliableTransport(conf, logger)
	if err != nil {
		return nil, err
	}
	members, err := newMembership(conf, logger)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return &ReliableGroup{transport: transport, members: members}, nil
}

func (g *ReliableGroup) Multicast(data []byte) error {
	return g.transport.Multicast(data)
}

func (g *ReliableGroup) Deliveries() <-chan Delivery {
	return g.transport.Deliveries()
}

func (g *ReliableGroup) ConfChanges() <-chan ConfChange {
	return g.members.changes
}

func (g *ReliableGroup) Pending() bool {
	return g.transport.Pending() || g.members.Pending()
}

func (g *ReliableGroup) Self() types.Member {
	return g.members.self
}

func (g *ReliableGroup) Close() error {
	memberErr := g.members.Close()
	if err := g.transport.Close(); err != nil {
		return err
	}
	return memberErr
}
