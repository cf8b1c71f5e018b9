package session

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCreateSessionLocksReference(t *testing.T) {
	t.Parallel()

	c := &clock{t: time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)}
	m := NewManager(10 * time.Minute).WithClock(c.now)

	first, err := m.CreateSession(Session{OperatorID: "op-1", Reference: "2025-09-14"})
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	if first.RunID == "" || first.ID == "" {
		t.Fatalf("ids not generated: %+v", first)
	}
	if _, err := m.CreateSession(Session{OperatorID: "op-2", Reference: "2025-09-14"}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second session err = %v, want ErrRunInProgress", err)
	}
	if _, err := m.CreateSession(Session{OperatorID: "op-2", Reference: "2025-09-15", RunID: "run-x"}); err != nil {
		t.Fatalf("other reference: %v", err)
	}

	if err := m.SetStatus(first.ID, StatusFinalized); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := m.CreateSession(Session{OperatorID: "op-2", Reference: "2025-09-14"}); err != nil {
		t.Fatalf("after finalize: %v", err)
	}
	if got, ok := m.ByRun("run-x"); !ok || got.OperatorID != "op-2" {
		t.Fatalf("ByRun = %+v, %v", got, ok)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	t.Parallel()

	c := &clock{t: time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)}
	m := NewManager(10 * time.Minute).WithClock(c.now)

	stale, _ := m.CreateSession(Session{OperatorID: "op-1", Reference: "a", RunID: "run-a"})
	c.t = c.t.Add(time.Minute)
	kept, _ := m.CreateSession(Session{OperatorID: "op-1", Reference: "b", RunID: "run-b"})
	done, _ := m.CreateSession(Session{OperatorID: "op-1", Reference: "c", RunID: "run-c"})
	_ = m.SetStatus(done.ID, StatusCancelled)

	c.t = c.t.Add(8 * time.Minute)
	if err := m.Heartbeat(kept.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	c.t = c.t.Add(5 * time.Minute)

	got := m.CleanupExpiredSessions()
	if len(got) != 1 || got[0].RunID != stale.RunID {
		t.Fatalf("stale = %+v", got)
	}
	if _, ok := m.GetSession(kept.ID); !ok {
		t.Fatalf("heartbeat session removed")
	}
	if _, ok := m.GetSession(done.ID); ok {
		t.Fatalf("expired closed session kept")
	}
	if err := m.Heartbeat(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Heartbeat on removed session err = %v", err)
	}
}
