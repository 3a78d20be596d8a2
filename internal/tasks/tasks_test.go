package tasks

import (
	"testing"
	"time"
)

func TestCreateStartUpdateFinish(t *testing.T) {
	r := NewRegistry()
	id := r.Create(10)

	task, ok := r.Get(id)
	if !ok || task.State != StatePending {
		t.Fatalf("expected pending task, got %+v, ok=%v", task, ok)
	}

	if err := r.Start(id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.Update(id, Delta{CurrentFile: "/music/a.mp3", Processed: 5})
	task, _ = r.Get(id)
	if task.Processed != 5 || task.Progress != 0.5 {
		t.Fatalf("expected processed=5 progress=0.5, got %+v", task)
	}

	if err := r.Finish(id, StateCompleted, Summary{Successful: 9, Failed: 1}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	task, _ = r.Get(id)
	if task.State != StateCompleted || task.Summary == nil || task.Summary.Successful != 9 {
		t.Fatalf("expected completed summary, got %+v", task)
	}
}

func TestCancelOnlyValidFromRunning(t *testing.T) {
	r := NewRegistry()
	id := r.Create(1)

	if err := r.Cancel(id); err == nil {
		t.Fatal("expected cancel of pending task to fail")
	}

	if err := r.Start(id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := r.Cancel(id); err == nil {
		t.Fatal("expected cancel of already-cancelled task to fail")
	}
}

func TestTaskIDsNeverCollideWithinSameMillisecond(t *testing.T) {
	r := NewRegistry()
	fixed := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return fixed }

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Create(1)
		if seen[id] {
			t.Fatalf("duplicate task id %q", id)
		}
		seen[id] = true
	}
}

func TestUpdateIgnoredForNonRunningTask(t *testing.T) {
	r := NewRegistry()
	id := r.Create(10)
	r.Update(id, Delta{Processed: 5})

	task, _ := r.Get(id)
	if task.Processed != 0 {
		t.Fatalf("expected update on pending task to be ignored, got %+v", task)
	}
}

func TestGetUnknownTask(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("does-not-exist"); ok {
		t.Fatal("expected unknown task to report ok=false")
	}
}

func TestTerminalTasksEvictedAfterTTL(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }

	id := r.Create(1)
	r.Start(id)
	r.Finish(id, StateCompleted, Summary{Successful: 1})

	now = now.Add(TTL + time.Minute)
	if _, ok := r.Get(id); ok {
		t.Fatal("expected terminal task past TTL to be evicted")
	}
}

func TestFinishRejectsNonTerminalState(t *testing.T) {
	r := NewRegistry()
	id := r.Create(1)
	r.Start(id)
	if err := r.Finish(id, StateRunning, Summary{}); err == nil {
		t.Fatal("expected Finish with non-terminal state to error")
	}
}
