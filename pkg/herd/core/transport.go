package core

import (
	"context"
	"time"

	"github.com/jabolina/go-herd/pkg/herd/helper"
	"github.com/jabolina/go-herd/pkg/herd/types"
	"github.com/jabolina/relt/pkg/relt"
	"github.com/prometheus/common/log"
)

// How often and how long to insist when the underlying transport is
// not reachable yet at initialization.
const (
	initRetryCount    = 10
	initRetryInterval = 200 * time.Millisecond
)

// ReliableTransport is the totally ordered multicast half of the
// production group service, backed by relt. Frames broadcast to the
// group address come back to every member, the local one included,
// in the same relative order.
type ReliableTransport struct {
	log      types.Logger
	relt     *relt.Relt
	producer chan Delivery
	context  context.Context
	finish   context.CancelFunc
	group    string
}

// NewReliableTransport connects to the reliable transport, retrying
// transient unavailability before giving up on the caller.
func NewReliableTransport(conf *types.DriverConfiguration, logger types.Logger) (*ReliableTransport, error) {
	rconf := relt.DefaultReltConfiguration()
	rconf.Name = helper.GenerateUID()
	rconf.Exchange = relt.GroupAddress(conf.GroupName)

	var r *relt.Relt
	var err error
	for attempt := 0; attempt < initRetryCount; attempt++ {
		r, err = relt.NewRelt(*rconf)
		if err == nil {
			break
		}
		logger.Warnf("group transport unavailable, retrying. %v", err)
		time.Sleep(initRetryInterval)
	}
	if err != nil {
		return nil, err
	}

	ctx, done := context.WithCancel(context.Background())
	t := &ReliableTransport{
		log:      logger,
		relt:     r,
		producer: make(chan Delivery, 128),
		context:  ctx,
		finish:   done,
		group:    conf.GroupName,
	}
	go t.poll()
	return t, nil
}

// Multicast sends the frame to the whole group through the exchange.
func (t *ReliableTransport) Multicast(data []byte) error {
	return t.relt.Broadcast(t.context, relt.Send{
		Address: relt.GroupAddress(t.group),
		Data:    data,
	})
}

func (t *ReliableTransport) Deliveries() <-chan Delivery {
	return t.producer
}

func (t *ReliableTransport) Pending() bool {
	return len(t.producer) > 0
}

func (t *ReliableTransport) Close() error {
	t.finish()
	return t.relt.Close()
}

// poll pumps the consume channel into the producer until the
// transport dies. The producer closing is the signal the driver
// treats as loss of the group service.
func (t *ReliableTransport) poll() {
	defer close(t.producer)
	listener, err := t.relt.Consume()
	if err != nil {
		t.log.Errorf("failed listening on group %s. %v", t.group, err)
		return
	}
	for {
		select {
		case <-t.context.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			t.consume(recv.Origin, recv.Data, recv.Error)
		}
	}
}

func (t *ReliableTransport) consume(origin string, data []byte, err error) {
	if err != nil {
		log.Errorf("failed consuming message from %s. %v", origin, err)
		return
	}
	if data == nil {
		t.log.Warnf("received empty frame from %s", origin)
		return
	}
	select {
	case <-t.context.Done():
	case t.producer <- Delivery{Data: data}:
	}
}
