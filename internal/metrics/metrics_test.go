package metrics

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total = %d, want 2", c.TotalSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Bytes(t *testing.T) {
	c := New()

	c.BytesToUpstream(1024)
	c.BytesToDownstream(512)
	c.BytesToUpstream(100)

	if c.TotalBytesUpstream() != 1124 {
		t.Errorf("bytes upstream = %d, want 1124", c.TotalBytesUpstream())
	}
	if c.TotalBytesDownstream() != 512 {
		t.Errorf("bytes downstream = %d, want 512", c.TotalBytesDownstream())
	}
}

func TestCollector_Failures(t *testing.T) {
	c := New()

	c.DialFailure()
	c.DialFailure()
	c.StorageFailure()
	c.LogWriteError()
	c.LogWriteError()
	c.LogWriteError()

	if c.DialFailures() != 2 {
		t.Errorf("dial failures = %d, want 2", c.DialFailures())
	}
	if c.StorageFailures() != 1 {
		t.Errorf("storage failures = %d, want 1", c.StorageFailures())
	}
	if c.LogWriteErrors() != 3 {
		t.Errorf("log write errors = %d, want 3", c.LogWriteErrors())
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if snap := c.Snapshot(); snap.LastErrorMessage != "second error" {
		t.Errorf("last error = %q", snap.LastErrorMessage)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.SessionOpened()
			c.BytesToUpstream(10)
			c.SessionClosed()
		}()
	}
	wg.Wait()

	if c.ActiveSessions() != 0 {
		t.Errorf("active = %d, want 0", c.ActiveSessions())
	}
	if c.TotalSessions() != 50 {
		t.Errorf("total = %d, want 50", c.TotalSessions())
	}
	if c.TotalBytesUpstream() != 500 {
		t.Errorf("bytes = %d, want 500", c.TotalBytesUpstream())
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.BytesToUpstream(100)
	c.BytesToDownstream(50)
	c.RecordError("test")

	snap := c.Snapshot()
	if snap.SessionsActive != 1 {
		t.Errorf("snap active = %d", snap.SessionsActive)
	}
	if snap.BytesUpstream != 100 {
		t.Errorf("snap bytes upstream = %d", snap.BytesUpstream)
	}
	if snap.BytesDownstream != 50 {
		t.Errorf("snap bytes downstream = %d", snap.BytesDownstream)
	}
	if snap.ErrorsTotal != 1 {
		t.Errorf("snap errors = %d", snap.ErrorsTotal)
	}
	if snap.LastErrorMessage != "test" {
		t.Errorf("snap error msg = %q", snap.LastErrorMessage)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.BytesToDownstream(42)

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.BytesDownstream != 42 {
		t.Errorf("JSON bytes downstream = %d", snap.BytesDownstream)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SessionOpened()
	c.SessionClosed()
	c.BytesToUpstream(100)
	c.BytesToDownstream(100)
	c.DialFailure()
	c.StorageFailure()
	c.LogWriteError()
	c.RecordError("test")

	if c.ActiveSessions() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.TotalBytesUpstream() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}

	snap := c.Snapshot()
	if snap.SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}

	j := c.JSON()
	if j == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
