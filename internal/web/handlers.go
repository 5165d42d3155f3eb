package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/core"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
	"github.com/kamal2602/thinkhub-sub001/internal/store/rulecache"
)

type companyKey struct{}

// maxJSONBody bounds every non-upload request body.
const maxJSONBody = 1 << 20

// companyCtx parses {companyID} and attaches it and the request metadata to
// the context.
func (s *Server) companyCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, err := uuid.Parse(chi.URLParam(r, "companyID"))
		if err != nil || company == uuid.Nil {
			s.respondErrorStatus(w, r, errors.New("company id is required"), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), companyKey{}, company)
		ctx = WithRequestMetadata(ctx, r)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func companyFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(companyKey{}).(uuid.UUID)
	return id
}

// sessionID returns the {sessionID} of a request once the session is known
// to belong to the company in the path. Sessions of other companies are
// reported as not found.
func (s *Server) sessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		return uuid.Nil, core.ErrSessionNotFound
	}
	sess, err := s.service.Session(r.Context(), id)
	if err != nil {
		return uuid.Nil, err
	}
	if sess.CompanyID != companyFrom(r.Context()) {
		return uuid.Nil, core.ErrSessionNotFound
	}
	return id, nil
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// =============================================================================
// Health and catalog
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Store:   "ok",
		Commits: s.service.Limiter().Status(),
		Time:    time.Now().UTC(),
	}
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
		}
	}
	if c, ok := s.store.(*rulecache.Store); ok {
		resp.Cache = c.Stats()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, resp)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"fields":   s.service.Catalog().Fields(),
		"required": s.service.Catalog().Required(),
	})
}

// =============================================================================
// Rules and entities
// =============================================================================

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ruleType := store.RuleType(r.URL.Query().Get("type"))
	if ruleType == "" {
		ruleType = store.RuleColumnMapping
	}
	switch ruleType {
	case store.RuleColumnMapping, store.RuleValueLookup, store.RuleComponentPattern:
	default:
		s.respondError(w, r, core.ValidationError{Field: "type", Value: string(ruleType), Message: "unknown rule type"})
		return
	}

	rules, err := s.store.ListRules(r.Context(), companyFrom(r.Context()), ruleType, r.URL.Query().Get("field"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if rules == nil {
		rules = []store.IntelligenceRule{}
	}
	writeJSON(w, rules)
}

func (s *Server) handleSeedRules(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.SeedColumnRules(r.Context(), companyFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"created": n})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind := catalog.EntityKind(chi.URLParam(r, "kind"))
	switch kind {
	case catalog.KindProductType, catalog.KindSupplier, catalog.KindLocation:
	default:
		s.respondErrorStatus(w, r, core.ValidationError{Field: "kind", Value: string(kind), Message: "unknown entity kind"}, http.StatusNotFound)
		return
	}

	entities, err := s.store.ListActiveEntities(r.Context(), companyFrom(r.Context()), kind)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entities == nil {
		entities = []store.Entity{}
	}
	writeJSON(w, entities)
}

// =============================================================================
// Uploads
// =============================================================================

// readUpload reads the multipart "file" field, bounded by Import.MaxFileSize.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			return "", nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file too large: limit is %d bytes", s.cfg.Import.MaxFileSize)
		}
		return "", nil, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, http.StatusBadRequest, errors.New("no file provided")
		}
		return "", nil, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, http.StatusBadRequest, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, 0, nil
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	s.startSession(w, r, s.service.StartImport)
}

func (s *Server) handleStartAppend(w http.ResponseWriter, r *http.Request) {
	s.startSession(w, r, s.service.StartAppend)
}

type startFunc func(ctx context.Context, company uuid.UUID, fileName string, data []byte) (core.Session, error)

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, start startFunc) {
	name, data, status, err := s.readUpload(w, r)
	if err != nil {
		s.respondErrorStatus(w, r, err, status)
		return
	}

	sess, err := start(r.Context(), companyFrom(r.Context()), name, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, sess)
}

// =============================================================================
// Session steps
// =============================================================================

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sess, err := s.service.Session(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.Discard(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chooseSheetRequest struct {
	Sheet string `json:"sheet"`
}

func (s *Server) handleChooseSheet(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req chooseSheetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}

	sess, err := s.service.ChooseSheet(r.Context(), id, req.Sheet)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sess)
}

type updateMappingRequest struct {
	Column string `json:"column"`
	Field  string `json:"field"`
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req updateMappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}

	sess, err := s.service.UpdateMapping(r.Context(), id, req.Column, req.Field)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sess)
}

type confirmMappingsRequest struct {
	// Learn defaults to true.
	Learn *bool `json:"learn"`
}

func (s *Server) handleConfirmMappings(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req confirmMappingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}
	learn := req.Learn == nil || *req.Learn

	sess, err := s.service.ConfirmMappings(r.Context(), id, learn)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	groups, err := s.service.Groups(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, groups)
}

type decisionsRequest struct {
	Decisions []normalize.Decision `json:"decisions"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req decisionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}

	report, err := s.service.SubmitDecisions(r.Context(), id, req.Decisions)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var opts core.CommitOptions
	if err := decodeJSON(w, r, &opts); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}

	preview, err := s.service.Preview(r.Context(), id, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, preview)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var opts core.CommitOptions
	if err := decodeJSON(w, r, &opts); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}

	result, err := s.service.Commit(r.Context(), id, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

func (s *Server) handleCommitAppend(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	result, err := s.service.CommitAppend(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}
