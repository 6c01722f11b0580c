package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"go.uber.org/zap"
)

const sessionCookieMaxAge = 30 * 24 * time.Hour

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := s.sync.Status()
	resp := map[string]interface{}{
		"records":    st.Records,
		"index_size": st.IndexSize,
		"index_type": st.IndexType,
		"metric":     st.Metric,
		"stale":      st.Stale,
	}
	if s.transcripts != nil {
		sessions, err := s.transcripts.CountSessions(ctx)
		if err != nil {
			s.logger.Error("status: count sessions failed", zap.Error(err))
			s.respondError(w, err)
			return
		}
		turns, err := s.transcripts.CountTurns(ctx)
		if err != nil {
			s.logger.Error("status: count turns failed", zap.Error(err))
			s.respondError(w, err)
			return
		}
		resp["sessions"] = sessions
		resp["turns"] = turns
	}

	cfg := s.config
	dbPath := ""
	if cfg.Conversation.Store == "sqlite" {
		dbPath = cfg.Storage.DatabasePath
	}
	if usage, err := storage.MeasureUsage(cfg.Storage.RecordsPath, cfg.Storage.IndexPath, dbPath); err == nil {
		resp["disk_usage"] = usage
	}
	resp["config"] = map[string]interface{}{
		"records_path":         cfg.Storage.RecordsPath,
		"index_path":           cfg.Storage.IndexPath,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"generation_provider":  cfg.Generation.Provider,
		"default_k":            cfg.Retrieval.DefaultK,
		"max_k":                cfg.Retrieval.MaxK,
		"max_distance":         cfg.Retrieval.MaxDistance,
		"lexical_fallback":     cfg.Retrieval.LexicalFallbackOrDefault(),
		"conversation_store":   cfg.Conversation.Store,
		"max_turns":            cfg.Conversation.MaxTurns,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("k", req.K))
	resp, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp.Hits())
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("ask request", zap.String("query", req.Query), zap.Int("k", req.K))
	resp, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req models.SuggestRequest
	if !s.decode(w, r, &req) {
		return
	}
	response, err := s.assembler.Suggest(r.Context(), req.Message, req.BestPractice)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.ChatResponse{Response: response})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	session := s.session(w, r)
	response, err := s.assembler.Ask(r.Context(), session, req.Query)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.ChatResponse{Response: response})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	turns, err := s.assembler.Transcript(r.Context(), session)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"session": session, "turns": turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if err := s.assembler.ClearHistory(r.Context(), session); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	var records []models.Record
	_ = s.sync.Read(func() error {
		records = s.sync.Store().Records()
		return nil
	})
	if records == nil {
		records = []models.Record{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"records": records, "count": len(records)})
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var input models.RecordInput
	if !s.decode(w, r, &input) {
		return
	}
	rec, err := s.sync.AddQA(r.Context(), input.Question, input.Answer)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("record added", zap.Int("position", rec.ID))
	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		s.respondError(w, models.NewValidationError("position", chi.URLParam(r, "position"), models.ErrValidation))
		return
	}
	rec, err := s.sync.DeleteQA(r.Context(), position)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("record deleted", zap.Int("position", position))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "record": rec})
}

func (s *Server) handleFindAnswer(w http.ResponseWriter, r *http.Request) {
	question := strings.TrimSpace(r.URL.Query().Get("question"))
	if question == "" {
		s.respondError(w, models.NewValidationError("question", question, models.ErrValidation))
		return
	}
	answer, err := s.engine.FindAnswer(question)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"question": question, "answer": answer})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.RebuildFromStore(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sync.Status())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	rebuilt, err := s.sync.Reload(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": rebuilt, "status": s.sync.Status()})
}

// session returns the caller's session id from the configured header or cookie,
// issuing a new one in a cookie and the response header when neither is present.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	header := s.config.Server.SessionHeader
	if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
		return id
	}
	if c, err := r.Cookie(s.config.Server.SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Server.SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(header, id)
	return id
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err onto a status code. Upstream failures carry a retryable flag.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrDuplicateQuestion):
		status = http.StatusConflict
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrIndexOutOfRange), errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUpstreamUnavailable):
		s.logger.Warn("upstream unavailable", zap.Bool("retryable", models.IsRetryable(err)), zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":     err.Error(),
			"retryable": models.IsRetryable(err),
		})
		return
	default:
		s.logger.Error("request failed", zap.Error(err))
		status = http.StatusInternalServerError
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
