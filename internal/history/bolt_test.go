package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"seqflow/internal/sequence"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)

	started := time.Now().Truncate(time.Second)
	rec := &RunRecord{
		ID:            "run-1",
		SequenceLabel: "demo",
		StartedAt:     started,
		FinishedAt:    started.Add(time.Second),
		Outcome:       "completed",
		Messages: []sequence.Message{
			{Type: sequence.MsgSequenceStarted, Text: "go", Timestamp: started, StepIndex: -1},
		},
	}

	if err := s.SaveRun(rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.SequenceLabel != "demo" || got.Outcome != "completed" {
		t.Errorf("got %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Type != sequence.MsgSequenceStarted {
		t.Errorf("messages = %+v", got.Messages)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started = %v, want %v", got.StartedAt, started)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"run-b", "run-a", "run-c"} {
		if err := s.SaveRun(&RunRecord{ID: id, Outcome: "completed"}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
	// Bolt iterates keys in byte order.
	if runs[0].ID != "run-a" || runs[2].ID != "run-c" {
		t.Errorf("order = %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
}

func TestSaveRunOverwrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveRun(&RunRecord{ID: "run-1", Outcome: "error"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(&RunRecord{ID: "run-1", Outcome: "completed"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome != "completed" {
		t.Errorf("outcome = %q, want completed", got.Outcome)
	}
}
