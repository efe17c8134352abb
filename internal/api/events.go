package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge-agent/internal/ledger"
	"github.com/clipforge/clipforge-agent/internal/orchestrator"
)

// jobEventsHandler streams progress records for one job as server-sent
// events. The current ledger record is sent first, then live deltas until a
// terminal record closes the stream. A job that is already terminal yields
// exactly its final record.
func jobEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL_ERROR")
			return
		}

		rec, err := cfg.Orchestrator.GetStatus(r.Context(), id)
		if err != nil {
			if errors.Is(err, orchestrator.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		// Subscribe before writing the snapshot so a completion landing
		// in between is still delivered.
		events, cancel := cfg.Broadcaster.Subscribe(id)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		lastSent := writeEvent(w, flusher, rec)
		if rec.Status.Terminal() {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case update, ok := <-events:
				if !ok {
					return
				}
				// The pre-subscribe snapshot may arrive again as
				// the retained record; skip exact repeats.
				if sameEvent(lastSent, update) {
					continue
				}
				lastSent = writeEvent(w, flusher, update)
				if update.Status.Terminal() {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, rec *ledger.ProgressRecord) *ledger.ProgressRecord {
	payload, err := json.Marshal(JobToResponse(rec))
	if err != nil {
		return rec
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
	return rec
}

func sameEvent(a, b *ledger.ProgressRecord) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Status == b.Status &&
		a.StageIndex == b.StageIndex &&
		a.Percent == b.Percent &&
		a.Message == b.Message &&
		a.Error == b.Error
}
