package herd

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jabolina/go-herd/pkg/herd/definition"
	"github.com/jabolina/go-herd/pkg/herd/types"
)

// GroupName is the 8 byte group literal every deployment shares.
// Part of the wire compatibility surface.
const GroupName = "sheepdog"

// ClusterDriver is the surface the storage daemon programs against.
// A driver delivers the five cluster event upcalls through the
// EventHandler given to Init and accepts the ordered send operations
// below. Send operations are asynchronous, their effect is observed
// through the upcalls once the group service echoes them back.
type ClusterDriver interface {
	// Init connects to the group communication service, learns the
	// local identity and starts delivering events. The option string
	// is reserved for transport variants.
	Init(handler types.EventHandler, option string) error

	// Join announces this node, carrying the host's opaque payload
	// for the master to adjudicate.
	Join(info types.NodeInfo, payload []byte) error

	// Leave announces graceful departure.
	Leave() error

	// Notify multicasts a totally ordered notification.
	Notify(payload []byte) error

	// Block requests the cluster wide serialization lock.
	Block() error

	// Unblock releases the lock held by this node.
	Unblock(payload []byte) error

	// LocalAddr is the local address in 16 byte wire form.
	LocalAddr() ([16]byte, error)

	Close() error
}

// Factory builds a driver from a configuration. Connecting is
// deferred to Init.
type Factory func(conf *types.DriverConfiguration) ClusterDriver

var (
	driversMutex sync.Mutex
	drivers      = make(map[string]Factory)
)

// Register makes a driver available under a name. Drivers register
// themselves at process start, the way the corosync driver does.
func Register(name string, factory Factory) {
	driversMutex.Lock()
	defer driversMutex.Unlock()
	if factory == nil {
		panic("herd: nil driver factory")
	}
	if _, dup := drivers[name]; dup {
		panic("herd: driver registered twice: " + name)
	}
	drivers[name] = factory
}

// New builds the named driver.
func New(name string, conf *types.DriverConfiguration) (ClusterDriver, error) {
	driversMutex.Lock()
	factory, ok := drivers[name]
	driversMutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("herd: unknown driver %q (registered: %v)", name, Drivers())
	}
	return factory(conf), nil
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMutex.Lock()
	defer driversMutex.Unlock()
	var names []string
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultConfiguration is the baseline a host starts from.
func DefaultConfiguration() *types.DriverConfiguration {
	return &types.DriverConfiguration{
		GroupName: GroupName,
		BindAddr:  "0.0.0.0",
		BindPort:  7000,
		Logger:    definition.NewDefaultLogger(),
	}
}
