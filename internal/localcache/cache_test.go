package localcache

import (
	"testing"
	"time"
)

func TestTryFastAdmit_ExhaustsBudgetThenDenies(t *testing.T) {
	c := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !c.TryFastAdmit("app1") {
			t.Fatalf("expected fast admit %d to succeed within budget", i)
		}
	}
	if c.TryFastAdmit("app1") {
		t.Fatal("expected fast admit to fail once budget is exhausted")
	}
}

func TestReconcile_AdmitReplenishesBudget(t *testing.T) {
	c := New(2, time.Minute)

	for i := 0; i < 2; i++ {
		if !c.TryFastAdmit("app1") {
			t.Fatalf("expected fast admit %d to succeed", i)
		}
	}
	if c.TryFastAdmit("app1") {
		t.Fatal("expected budget exhausted before reconcile")
	}

	c.Reconcile("app1", true)

	if !c.TryFastAdmit("app1") {
		t.Fatal("expected fast admit to succeed again after an admitting reconcile")
	}
}

func TestReconcile_DenyDisarmsUntilNextAdmit(t *testing.T) {
	c := New(5, time.Minute)

	c.Reconcile("app1", false)
	if c.TryFastAdmit("app1") {
		t.Fatal("expected fast admit to fail while disarmed")
	}

	c.Reconcile("app1", true)
	if !c.TryFastAdmit("app1") {
		t.Fatal("expected fast admit to succeed once re-armed")
	}
}

func TestReconcile_NeverDrainsScalarAcrossManyCycles(t *testing.T) {
	// Regression guard for the VSA-Commit misuse this package deliberately
	// avoids: repeated admitting reconciles must not shrink the budget.
	c := New(1, time.Minute)

	for i := 0; i < 50; i++ {
		if !c.TryFastAdmit("app1") {
			t.Fatalf("fast admit failed unexpectedly on iteration %d", i)
		}
		c.Reconcile("app1", true)
	}
}

func TestEvictionRemovesIdleEntries(t *testing.T) {
	c := New(1, 20*time.Millisecond)
	c.Start()
	defer c.Stop()

	c.TryFastAdmit("app1")
	if _, ok := c.entries.Load("app1"); !ok {
		t.Fatal("expected entry to exist immediately after access")
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := c.entries.Load("app1"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected idle entry to be evicted")
}
