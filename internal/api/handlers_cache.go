package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/phone"
	"github.com/sells-group/screenpop/internal/phonesync"
)

type healthResponse struct {
	Status      string         `json:"status"`
	Service     string         `json:"service"`
	Caching     cachingStatus  `json:"caching"`
	ConnectWise upstreamStatus `json:"connectwise"`
	Nilear      upstreamStatus `json:"nilear"`
}

type cachingStatus struct {
	Enabled           bool `json:"enabled"`
	SyncIntervalHours int  `json:"sync_interval_hours"`
	*model.CacheStats
}

type upstreamStatus struct {
	Configured bool   `json:"configured"`
	BaseURL    string `json:"base_url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.storageFault(w, r, "health stats", err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: "screenpop",
		Caching: cachingStatus{
			Enabled:           true,
			SyncIntervalHours: int(s.opts.SyncInterval.Hours()),
			CacheStats:        stats,
		},
		ConnectWise: upstreamStatus{Configured: s.opts.ConnectWiseURL != "", BaseURL: s.opts.ConnectWiseURL},
		Nilear:      upstreamStatus{Configured: s.opts.NilearURL != "", BaseURL: s.opts.NilearURL},
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if !force {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":      "confirm",
			"message":     "This re-reads every contact from ConnectWise and may take several minutes.",
			"confirm_url": "/sync?force=true",
		})
		return
	}

	id, err := s.syncer.Trigger(r.Context(), model.SyncTypeManual)
	if errors.Is(err, phonesync.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.storageFault(w, r, "trigger manual sync", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "sync_started",
		"message":   "Manual sync has been triggered in the background",
		"sync_type": model.SyncTypeManual,
		"sync_id":   id,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.storageFault(w, r, "clear cache", err)
		return
	}
	s.log.Info("cache cleared", zap.String("request_id", RequestID(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "cache_cleared",
		"message": "All cached data has been cleared. Run /sync?force=true to rebuild it.",
	})
}

type testResponse struct {
	PhoneNumber  string              `json:"phone_number"`
	Normalized   string              `json:"normalized"`
	CacheHit     bool                `json:"cache_hit"`
	CacheResults []model.CacheRecord `json:"cache_results"`
	Message      string              `json:"message,omitempty"`
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("phone")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	normalized := phone.Normalize(raw)
	records := []model.CacheRecord{}
	if normalized != "" {
		found, err := s.store.Lookup(r.Context(), normalized)
		if err != nil {
			s.storageFault(w, r, "test lookup", err)
			return
		}
		records = append(records, found...)
	}

	resp := testResponse{
		PhoneNumber:  raw,
		Normalized:   normalized,
		CacheHit:     len(records) > 0,
		CacheResults: records,
	}
	if !resp.CacheHit {
		resp.Message = "Not in cache. Run /sync to update cache."
	}
	writeJSON(w, http.StatusOK, resp)
}
