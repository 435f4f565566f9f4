package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/ridecheck/internal/analysis"
	"github.com/ent0n29/ridecheck/internal/observability"
	"github.com/ent0n29/ridecheck/internal/storage"
	"github.com/ent0n29/ridecheck/internal/transcripts"
)

// handleUploadVideo stores a raw walkaround recording. The body is the video;
// ?name= picks the file name and Content-Type its extension.
func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := vehicleID(w, r)
	if !ok {
		return
	}
	if s.deps.Media == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "storage not configured")
		return
	}
	if r.Body == nil {
		respondError(w, http.StatusBadRequest, "empty_body", "video body is required")
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxVideoBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "video_too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, "empty_body", "video body is required")
		return
	}

	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == "" || !strings.HasPrefix(contentType, "video/") {
		contentType = "video/mp4"
	}
	key := storage.VideoKey(id, r.URL.Query().Get("name"), contentType, time.Now())
	start := time.Now()
	url, err := s.deps.Media.Put(r.Context(), storage.Object{Key: key, Body: body, ContentType: contentType})
	s.deps.Metrics.Upload("video", err)
	if err != nil {
		s.log.Error("video upload failed", zap.String("vehicle_id", id), zap.String("key", key), zap.Error(err))
		respondError(w, http.StatusBadGateway, "upload_failed", err.Error())
		return
	}
	s.deps.Metrics.ObserveStage(observability.StageUpload, time.Since(start))
	respondJSON(w, http.StatusCreated, map[string]any{
		"vehicle_id": id,
		"key":        key,
		"url":        url,
		"bytes":      len(body),
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := vehicleID(w, r)
	if !ok {
		return
	}
	if s.deps.Analyzer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "analysis not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), analysisDeadline)
	defer cancel()

	report, err := s.deps.Analyzer.AnalyzeVehicle(ctx, id)
	if err != nil {
		if errors.Is(err, analysis.ErrNoImages) {
			respondError(w, http.StatusNotFound, "no_images", err.Error())
			return
		}
		s.deps.Metrics.ProviderError("gemini", "analysis")
		s.log.Error("vehicle analysis failed", zap.String("vehicle_id", id), zap.Error(err))
		respondError(w, http.StatusBadGateway, "analysis_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleSummary summarizes the stored transcript, or the transcript in the
// request body when one is given.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := vehicleID(w, r)
	if !ok {
		return
	}
	if s.deps.Analyzer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "analysis not configured")
		return
	}

	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" && s.deps.Transcripts != nil {
		records, err := s.deps.Transcripts.ListByVehicle(r.Context(), id, transcriptLimit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "transcript_lookup_failed", err.Error())
			return
		}
		transcript = transcripts.Join(records)
	}

	ctx, cancel := context.WithTimeout(r.Context(), analysisDeadline)
	defer cancel()
	summary, err := s.deps.Analyzer.Summarize(ctx, id, transcript)
	if err != nil {
		if errors.Is(err, analysis.ErrEmptyTranscript) {
			respondError(w, http.StatusNotFound, "no_transcript", err.Error())
			return
		}
		s.deps.Metrics.ProviderError("gemini", "summary")
		s.log.Error("inspection summary failed", zap.String("vehicle_id", id), zap.Error(err))
		respondError(w, http.StatusBadGateway, "summary_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	id, ok := vehicleID(w, r)
	if !ok {
		return
	}
	if s.deps.Transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	records, err := s.deps.Transcripts.ListByVehicle(r.Context(), id, transcriptLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_lookup_failed", err.Error())
		return
	}
	if records == nil {
		records = []transcripts.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"vehicle_id":  id,
		"transcripts": records,
	})
}
