package core

import (
	"errors"
	"testing"
)

// A transient refusal is retried until the service accepts, the
// caller never sees it.
func TestDriver_SendRetriesTransientFailures(t *testing.T) {
	c := newTestCluster(t)
	nodes := c.bootstrap(1)
	a := nodes[0]

	a.group.sendErr = []error{ErrTryAgain, ErrTryAgain}
	if err := a.driver.Notify([]byte("eventually")); err != nil {
		t.Fatalf("transient failure leaked to the caller. %v", err)
	}
	c.settle()
	if len(a.handler.notifies) != 1 {
		t.Fatal("retried send never went out")
	}
}

// Anything that is not a transient refusal is the caller's problem.
func TestDriver_SendSurfacesPermanentFailures(t *testing.T) {
	c := newTestCluster(t)
	nodes := c.bootstrap(1)
	a := nodes[0]

	denied := errors.New("permission denied")
	a.group.sendErr = []error{denied}
	err := a.driver.Notify([]byte("never"))
	if err == nil || !errors.Is(err, denied) {
		t.Fatalf("expected the send failure back, got %v", err)
	}
	c.settle()
	if len(a.handler.notifies) != 0 {
		t.Fatal("failed send was delivered anyway")
	}
}

func TestDriver_OperationsBeforeInit(t *testing.T) {
	driver := NewDriver(testConfiguration(t), nil)
	if err := driver.Notify(nil); !errors.Is(err, ErrDriverClosed) {
		t.Fatalf("expected %v, got %v", ErrDriverClosed, err)
	}
	if _, err := driver.LocalAddr(); !errors.Is(err, ErrDriverClosed) {
		t.Fatalf("expected %v, got %v", ErrDriverClosed, err)
	}
}

func TestDriver_LocalAddr(t *testing.T) {
	c := newTestCluster(t)
	a := c.addNode()
	addr, err := a.driver.LocalAddr()
	if err != nil {
		t.Fatalf("failed reading local address. %v", err)
	}
	if addr != a.group.self.Info.Addr {
		t.Fatalf("local address %v, wanted %v", addr, a.group.self.Info.Addr)
	}
}

func TestDriver_CloseIsIdempotent(t *testing.T) {
	c := newTestCluster(t)
	a := c.addNode()
	if err := a.driver.Close(); err != nil {
		t.Fatalf("failed closing. %v", err)
	}
	if !a.group.closed {
		t.Fatal("close never reached the group service")
	}
	if err := a.driver.Close(); err != nil {
		t.Fatalf("second close should be a no-op. %v", err)
	}
}
