package vicapdb

import (
	"testing"
	"time"
)

func TestDummyConnectionDropsRecords(t *testing.T) {
	db := DummyConnection()
	if db.IsConnected() {
		t.Error("dummy connection reports connected")
	}

	// with no database these must return immediately, not block on the
	// (nil) record channels
	done := make(chan struct{})
	go func() {
		db.RecordSession(&SessionMessage{ID: NewID(), Channel: "cam0",
			Start: time.Now(), End: time.Now()})
		db.RecordRecovery(&RecoveryMessage{ID: NewID(), Channel: "cam0",
			State: "timeout", Time: time.Now()})
		db.RecordSession(nil)
		db.RecordRecovery(nil)
		db.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("record calls blocked without a database")
	}
}

func TestNilConnection(t *testing.T) {
	var db *Connection
	if db.IsConnected() {
		t.Error("nil connection reports connected")
	}
}

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	if len(a) != 26 {
		t.Errorf("ID %q has length %d, want 26", a, len(a))
	}
	if a == b {
		t.Errorf("consecutive IDs collide: %q", a)
	}
}
