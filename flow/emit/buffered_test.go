package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitterGetHistory(t *testing.T) {
	b := NewBufferedEmitter()

	b.Emit(Event{Kind: KindStarted, RunID: "run-1"})
	b.Emit(Event{Kind: KindStepStart, RunID: "run-1", StepID: "a"})
	b.Emit(Event{Kind: KindStarted, RunID: "run-2"})

	got := b.GetHistory("run-1")
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Kind != KindStarted || got[1].Kind != KindStepStart {
		t.Errorf("events out of order: %+v", got)
	}

	if empty := b.GetHistory("run-3"); len(empty) != 0 {
		t.Errorf("unknown run returned %d events", len(empty))
	}
}

func TestBufferedEmitterHistoryIsCopy(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Kind: KindStarted, RunID: "run-1"})

	first := b.GetHistory("run-1")
	first[0].Kind = KindFailed

	second := b.GetHistory("run-1")
	if second[0].Kind != KindStarted {
		t.Error("GetHistory exposed internal slice to mutation")
	}
}

func TestBufferedEmitterFilter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Kind: KindStepStart, RunID: "r", StepID: "a"})
	b.Emit(Event{Kind: KindStepRetry, RunID: "r", StepID: "a", Attempt: 1})
	b.Emit(Event{Kind: KindStepRetry, RunID: "r", StepID: "a", Attempt: 2})
	b.Emit(Event{Kind: KindStepStart, RunID: "r", StepID: "b"})

	t.Run("by step", func(t *testing.T) {
		got := b.GetHistoryWithFilter("r", HistoryFilter{StepID: "b"})
		if len(got) != 1 || got[0].StepID != "b" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("by kind", func(t *testing.T) {
		got := b.GetHistoryWithFilter("r", HistoryFilter{Kind: KindStepRetry})
		if len(got) != 2 {
			t.Errorf("got %d retry events, want 2", len(got))
		}
	})

	t.Run("by attempt range", func(t *testing.T) {
		min, max := 2, 2
		got := b.GetHistoryWithFilter("r", HistoryFilter{MinAttempt: &min, MaxAttempt: &max})
		if len(got) != 1 || got[0].Attempt != 2 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("combined", func(t *testing.T) {
		got := b.GetHistoryWithFilter("r", HistoryFilter{StepID: "a", Kind: KindStepRetry})
		if len(got) != 2 {
			t.Errorf("got %d events, want 2", len(got))
		}
	})

	t.Run("empty filter returns all", func(t *testing.T) {
		got := b.GetHistoryWithFilter("r", HistoryFilter{})
		if len(got) != 4 {
			t.Errorf("got %d events, want 4", len(got))
		}
	})

	t.Run("no match returns empty slice", func(t *testing.T) {
		got := b.GetHistoryWithFilter("r", HistoryFilter{StepID: "nope"})
		if got == nil || len(got) != 0 {
			t.Errorf("got %v, want empty non-nil slice", got)
		}
	})
}

func TestBufferedEmitterClear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Kind: KindStarted, RunID: "r1"})
	b.Emit(Event{Kind: KindStarted, RunID: "r2"})

	b.Clear("r1")
	if len(b.GetHistory("r1")) != 0 {
		t.Error("Clear(r1) left events behind")
	}
	if len(b.GetHistory("r2")) != 1 {
		t.Error("Clear(r1) touched r2")
	}

	b.Clear("")
	if len(b.GetHistory("r2")) != 0 {
		t.Error("Clear all left events behind")
	}
}

func TestBufferedEmitterConcurrent(t *testing.T) {
	b := NewBufferedEmitter()

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runID := fmt.Sprintf("run-%d", i%2)
			for j := 0; j < perWriter; j++ {
				b.Emit(Event{Kind: KindStepStart, RunID: runID})
			}
		}(i)
	}
	wg.Wait()

	total := len(b.GetHistory("run-0")) + len(b.GetHistory("run-1"))
	if total != writers*perWriter {
		t.Errorf("got %d events, want %d", total, writers*perWriter)
	}
}
