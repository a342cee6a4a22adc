package herd

import (
	"testing"

	"github.com/jabolina/go-herd/pkg/herd/types"
)

func TestRegistry_CorosyncIsRegistered(t *testing.T) {
	found := false
	for _, name := range Drivers() {
		if name == "corosync" {
			found = true
		}
	}
	if !found {
		t.Fatalf("corosync missing from %v", Drivers())
	}
	driver, err := New("corosync", DefaultConfiguration())
	if err != nil {
		t.Fatalf("failed building the corosync driver. %v", err)
	}
	if driver == nil {
		t.Fatal("factory returned no driver")
	}
}

func TestRegistry_UnknownDriver(t *testing.T) {
	if _, err := New("zookeeper", DefaultConfiguration()); err == nil {
		t.Fatal("expected an unknown driver error")
	}
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on duplicate registration")
		}
	}()
	Register("corosync", func(conf *types.DriverConfiguration) ClusterDriver { return nil })
}

func TestDefaultConfiguration(t *testing.T) {
	conf := DefaultConfiguration()
	if conf.GroupName != GroupName || len(conf.GroupName) != 8 {
		t.Fatalf("group name %q breaks wire compatibility", conf.GroupName)
	}
	if conf.Logger == nil {
		t.Fatal("configuration without a logger")
	}
}
