package broadcast

import (
	"fmt"
	"testing"
	"time"

	"github.com/clipforge/clipforge-agent/internal/ledger"
)

func record(jobID string, percent int, status ledger.Status) *ledger.ProgressRecord {
	return &ledger.ProgressRecord{
		JobID:     jobID,
		ProjectID: "proj",
		Stages:    []string{"outline", "timeline"},
		Percent:   percent,
		Status:    status,
	}
}

func recv(t *testing.T, ch <-chan *ledger.ProgressRecord) *ledger.ProgressRecord {
	t.Helper()
	select {
	case rec, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while expecting a record")
		}
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a record")
		return nil
	}
}

func expectClosed(t *testing.T, ch <-chan *ledger.ProgressRecord) {
	t.Helper()
	select {
	case rec, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got record %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe("job1")
	defer cancel()

	b.Publish(record("job1", 10, ledger.StatusRunning))
	b.Publish(record("job1", 20, ledger.StatusRunning))

	if got := recv(t, ch).Percent; got != 10 {
		t.Errorf("first record percent = %d, want 10", got)
	}
	if got := recv(t, ch).Percent; got != 20 {
		t.Errorf("second record percent = %d, want 20", got)
	}
}

func TestPublishClonesRecord(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe("job1")
	defer cancel()

	rec := record("job1", 10, ledger.StatusRunning)
	b.Publish(rec)
	rec.Percent = 99

	if got := recv(t, ch).Percent; got != 10 {
		t.Errorf("delivered record percent = %d, want snapshot 10", got)
	}
}

func TestTerminalClosesSubscribers(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe("job1")
	defer cancel()

	b.Publish(record("job1", 100, ledger.StatusSucceeded))

	rec := recv(t, ch)
	if rec.Status != ledger.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", rec.Status)
	}
	expectClosed(t, ch)
}

func TestSlowSubscriberStillGetsTerminal(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe("job1")
	defer cancel()

	// Flood well past the channel buffer without draining, then finish.
	for i := 0; i < subscriberBuffer*4; i++ {
		b.Publish(record("job1", i, ledger.StatusRunning))
	}
	b.Publish(record("job1", 100, ledger.StatusSucceeded))

	var last *ledger.ProgressRecord
	prev := -1
	for rec := range ch {
		if rec.Percent < prev {
			t.Errorf("percent went backwards: %d after %d", rec.Percent, prev)
		}
		prev = rec.Percent
		last = rec
	}

	if last == nil || !last.Status.Terminal() {
		t.Fatalf("last delivered record = %+v, want terminal", last)
	}
}

func TestLateSubscriberGetsRetainedRecord(t *testing.T) {
	b := New(nil)

	b.Publish(record("job1", 40, ledger.StatusRunning))

	ch, cancel := b.Subscribe("job1")
	defer cancel()

	if got := recv(t, ch).Percent; got != 40 {
		t.Errorf("retained record percent = %d, want 40", got)
	}
}

func TestLateSubscriberAfterTerminal(t *testing.T) {
	b := New(nil)

	b.Publish(record("job1", 100, ledger.StatusSucceeded))

	ch, _ := b.Subscribe("job1")

	rec := recv(t, ch)
	if rec.Status != ledger.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", rec.Status)
	}
	expectClosed(t, ch)
}

func TestTwoSubscribersBothGetTerminal(t *testing.T) {
	b := New(nil)
	ch1, cancel1 := b.Subscribe("job1")
	ch2, cancel2 := b.Subscribe("job1")
	defer cancel1()
	defer cancel2()

	b.Publish(record("job1", 50, ledger.StatusRunning))
	b.Publish(record("job1", 100, ledger.StatusFailed))

	for i, ch := range []<-chan *ledger.ProgressRecord{ch1, ch2} {
		var last *ledger.ProgressRecord
		for rec := range ch {
			last = rec
		}
		if last == nil || last.Status != ledger.StatusFailed {
			t.Errorf("subscriber %d last record = %+v, want failed", i+1, last)
		}
	}
}

func TestSubscriberIsolation(t *testing.T) {
	b := New(nil)

	slow, cancelSlow := b.Subscribe("job1")
	defer cancelSlow()
	_ = slow // never drained

	fast, cancelFast := b.Subscribe("job1")
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*4; i++ {
			b.Publish(record("job1", i, ledger.StatusRunning))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if recv(t, fast) == nil {
		t.Fatal("fast subscriber received nothing")
	}
}

func TestCancelDetaches(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe("job1")

	if got := b.SubscriberCount("job1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	cancel()
	cancel() // safe to call twice

	if got := b.SubscriberCount("job1"); got != 0 {
		t.Errorf("SubscriberCount after cancel = %d, want 0", got)
	}
	expectClosed(t, ch)
}

func TestForget(t *testing.T) {
	b := New(nil)

	b.Publish(record("job1", 100, ledger.StatusSucceeded))
	b.Forget("job1")

	ch, cancel := b.Subscribe("job1")
	defer cancel()

	select {
	case rec := <-ch:
		t.Fatalf("expected no retained record after Forget, got %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIndependentJobs(t *testing.T) {
	b := New(nil)

	chans := make(map[string]<-chan *ledger.ProgressRecord)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("job%d", i)
		ch, cancel := b.Subscribe(id)
		defer cancel()
		chans[id] = ch
	}

	b.Publish(record("job1", 42, ledger.StatusRunning))

	if got := recv(t, chans["job1"]).Percent; got != 42 {
		t.Errorf("job1 percent = %d, want 42", got)
	}
	select {
	case rec := <-chans["job0"]:
		t.Fatalf("job0 received a record for job1: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}
