package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/clipforge/clipforge-agent/internal/ledger"
)

// progressSink forwards a stage attempt's report calls to the ledger and
// broadcaster. Updates arriving faster than the coalesce interval collapse
// into the latest value; intra-stage percent is clamped monotone; calls
// after the attempt finished are ignored.
type progressSink struct {
	o        *Orchestrator
	rec      *ledger.ProgressRecord
	stageIdx int
	interval time.Duration

	mu       sync.Mutex
	stopped  bool
	intra    int
	lastSent time.Time
}

func newProgressSink(o *Orchestrator, rec *ledger.ProgressRecord, stageIdx int, interval time.Duration) *progressSink {
	return &progressSink{
		o:        o,
		rec:      rec,
		stageIdx: stageIdx,
		interval: interval,
	}
}

// report implements stage.ReportFunc. Safe for concurrent use by stage
// goroutines.
func (s *progressSink) report(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if percent < s.intra {
		percent = s.intra
	}
	s.intra = percent

	now := s.o.now()
	if now.Sub(s.lastSent) < s.interval {
		// Coalesced; a later report or the stage-boundary commit
		// delivers a newer value.
		return
	}
	s.lastSent = now

	s.o.advancePercent(s.rec, overallPercent(s.stageIdx, percent, s.o.stages.Len()))
	s.rec.Message = message
	s.o.commit(context.Background(), s.rec)
}

// stop detaches the sink from the record. The executor owns the record
// exclusively once stop returns.
func (s *progressSink) stop() {
	s.mu.Lock()
	s.stopped = true
	s.rec.Message = ""
	s.mu.Unlock()
}
