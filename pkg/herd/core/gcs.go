package core

import (
	"errors"

	"github.com/jabolina/go-herd/pkg/herd/types"
)

var (
	// ErrTryAgain marks a transient send failure. The driver keeps
	// retrying these indefinitely with a backoff, any other failure
	// is handed back to the caller.
	ErrTryAgain = errors.New("group service busy, try again")

	// ErrDriverClosed is returned for operations issued after the
	// driver was closed or before it was initialized.
	ErrDriverClosed = errors.New("driver not running")
)

// Delivery is one totally ordered multicast frame handed up by the
// group service. Every member observes the same delivery order.
type Delivery struct {
	Data []byte
}

// ConfChange is one membership change batch. Members is the full
// agreed member list after the change, Joined and Left are the
// delta. The guard against partitions relies on whole batches, a
// service that learns of departures one by one must coalesce them
// before handing them up.
type ConfChange struct {
	Members []types.Member
	Joined  []types.Member
	Left    []types.Member
}

// GroupService is the downward boundary of the driver: a virtually
// synchronous group layer providing totally ordered multicast and
// membership change notifications.
type GroupService interface {
	// Multicast sends a frame to every member of the group,
	// including the local node, in total order.
	Multicast(data []byte) error

	// Deliveries is the ordered stream of incoming frames. The
	// channel closing means the service connection was lost.
	Deliveries() <-chan Delivery

	// ConfChanges is the stream of membership change batches.
	ConfChanges() <-chan ConfChange

	// Pending reports whether more input is already waiting on
	// either stream. The dispatcher refuses to drain while the
	// service has undelivered input.
	Pending() bool

	// Self is the local identity as assigned by the service.
	Self() types.Member

	Close() error
}
