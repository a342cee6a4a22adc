package herd

import (
	"github.com/jabolina/go-herd/pkg/herd/core"
	"github.com/jabolina/go-herd/pkg/herd/types"
)

// The production driver keeps the name existing deployments select
// their cluster driver by.
func init() {
	Register("corosync", func(conf *types.DriverConfiguration) ClusterDriver {
		return core.NewDriver(conf, core.DialReliableGroup)
	})
}
