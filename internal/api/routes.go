package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge-agent/internal/artifact"
	"github.com/clipforge/clipforge-agent/internal/config"
	"github.com/clipforge/clipforge-agent/internal/export"
	"github.com/clipforge/clipforge-agent/internal/ledger"
	"github.com/clipforge/clipforge-agent/internal/orchestrator"
	"github.com/clipforge/clipforge-agent/internal/stages"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Post("/jobs", submitJobHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Get("/jobs/{id}/results", stageResultsHandler(cfg))
		r.Get("/jobs/{id}/events", jobEventsHandler(cfg))
		r.Post("/jobs/{id}/cancel", cancelJobHandler(cfg))

		r.Get("/projects/{id}/clips", listClipsHandler(cfg))
		r.Get("/projects/{id}/clips/{clipID}/stream", streamClipHandler(cfg))
		r.Get("/projects/{id}/export/edl", exportEDLHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
			AgentID: cfg.AgentID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		records, _ := cfg.Repository.List(ctx, 20)

		state := "idle"
		lastError := ""
		var activeJobs []JobResponse

		for _, rec := range records {
			if rec.Status == ledger.StatusRunning || rec.Status == ledger.StatusPending {
				state = "processing"
				activeJobs = append(activeJobs, JobToResponse(rec))
			}
			if rec.Status == ledger.StatusFailed && lastError == "" {
				lastError = rec.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:       state,
			LastError:   lastError,
			JobsRunning: cfg.Orchestrator.ActiveCount(),
			ActiveJobs:  activeJobs,
		}

		if cfg.Probe != nil {
			if caps := cfg.Probe.Peek(); caps != nil {
				resp.Pipelines = &PipelinesResponse{
					HasContent:  caps.HasContent,
					HasFFmpeg:   caps.HasFFmpeg,
					LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
					DepsAvail:   caps.Summary.Available,
					DepsTotal:   caps.Summary.Total,
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func submitJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.ProjectID == "" {
			WriteError(w, http.StatusBadRequest, "project_id is required", "BAD_REQUEST")
			return
		}

		jobID, err := cfg.Orchestrator.Submit(r.Context(), orchestrator.SubmitRequest{
			ProjectID:    req.ProjectID,
			VideoPath:    req.VideoPath,
			SubtitlePath: req.SubtitlePath,
			StartStage:   req.StartStage,
		})
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrAlreadyRunning):
				WriteError(w, http.StatusConflict, err.Error(), "ALREADY_RUNNING")
			case orchestrator.IsMissingDependency(err):
				WriteError(w, http.StatusConflict, err.Error(), "MISSING_DEPENDENCY")
			default:
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			}
			return
		}

		WriteJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: jobID})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := cfg.Repository.List(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(records))}
		for i, rec := range records {
			resp.Jobs[i] = JobToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := cfg.Orchestrator.GetStatus(r.Context(), id)
		if err != nil {
			if errors.Is(err, orchestrator.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(rec))
	}
}

func stageResultsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		results, err := cfg.Repository.ListStageResults(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := StageResultsResponse{JobID: id, Results: make([]StageResultResponse, len(results))}
		for i, res := range results {
			resp.Results[i] = StageResultToResponse(res)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := cfg.Orchestrator.Cancel(id); err != nil {
			if errors.Is(err, orchestrator.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "no running job with that id", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		manifest, err := readCutManifest(cfg.Artifacts, projectID)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "no clips rendered for project", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{ProjectID: projectID}
		for _, c := range manifest.Clips {
			resp.Clips = append(resp.Clips, ClipResponse{
				ID:         c.ID,
				Title:      c.Title,
				StartMs:    c.StartMs,
				EndMs:      c.EndMs,
				DurationMs: c.DurationMs,
				Score:      c.Score,
			})
		}
		for _, col := range manifest.Collections {
			resp.Collections = append(resp.Collections, CollectionResponse{
				Name:    col.Name,
				ClipIDs: col.ClipIDs,
			})
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func streamClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		clipID := chi.URLParam(r, "clipID")

		manifest, err := readCutManifest(cfg.Artifacts, projectID)
		if err != nil {
			WriteError(w, http.StatusNotFound, "no clips rendered for project", "NOT_FOUND")
			return
		}

		for _, c := range manifest.Clips {
			if c.ID == clipID {
				if err := cfg.Streamer.ServeFile(w, r, c.File); err != nil {
					cfg.Logger.Error("clip streaming error", "error", err, "clip_id", clipID)
				}
				return
			}
		}

		WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
	}
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		fps := 30.0
		if q := r.URL.Query().Get("fps"); q != "" {
			parsed, err := strconv.ParseFloat(q, 64)
			if err != nil || parsed <= 0 {
				WriteError(w, http.StatusBadRequest, "invalid fps", "BAD_REQUEST")
				return
			}
			fps = parsed
		}

		manifest, err := readCutManifest(cfg.Artifacts, projectID)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "no clips rendered for project", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		clips := make([]export.Clip, len(manifest.Clips))
		for i, c := range manifest.Clips {
			clips[i] = export.Clip{
				Name:      c.Title,
				MediaPath: c.File,
				StartMs:   c.StartMs,
				EndMs:     c.EndMs,
			}
		}

		edl := export.GenerateEDL(clips, projectID, fps)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.SanitizeName(projectID, 60)+`.edl"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(edl))
	}
}

func readCutManifest(store *artifact.Store, projectID string) (*stages.CutManifest, error) {
	doc, err := store.Read(projectID, stages.CuttingStageName)
	if err != nil {
		return nil, err
	}
	var manifest stages.CutManifest
	if err := json.Unmarshal(doc, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
