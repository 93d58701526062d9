// Package visumtest provides an in-memory fake of the Visum records API for
// testing code built on the visum client. Records live in a map, search does
// literal matching, and tokens are issued to any client credentials; the
// point is wire-level fidelity, not recognition.
package visumtest

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/visumhq/visum-go/pkg/visum"
)

// defaultPerPage is the page size applied when a request does not set one.
const defaultPerPage = 20

// Server implements the Visum records API surface the client speaks. It is
// safe for concurrent use. Construct with NewServer and mount it on an
// httptest.Server.
type Server struct {
	router chi.Router

	// mu guards all fields below and is held while encoding any response
	// that references stored records.
	mu        sync.Mutex
	records   map[string]*visum.Record
	order     []string
	tokens    map[string]time.Time
	tokenTTL  time.Duration
	exchanges int
}

// NewServer returns a fake API with an empty collection.
func NewServer() *Server {
	s := &Server{
		records:  make(map[string]*visum.Record),
		tokens:   make(map[string]time.Time),
		tokenTTL: time.Hour,
	}

	r := chi.NewRouter()
	r.Post("/v2/token", s.handleToken)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/v2/records", s.handleList)
		r.Post("/v2/records", s.handleCreate)
		r.Patch("/v2/records", s.handleMutate)
		r.Delete("/v2/records", s.handleDeleteAll)
		r.Get("/v2/records/status", s.handleStatus)
		r.Get("/v2/records/{id}", s.handleGet)
		r.Delete("/v2/records/{id}", s.handleDelete)
		r.Post("/v2/searches", s.handleSearch)
	})
	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetTokenTTL controls the lifetime of subsequently issued tokens.
func (s *Server) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = d
}

// ExpireTokens invalidates every token issued so far, forcing clients to
// exchange again.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token := range s.tokens {
		s.tokens[token] = time.Time{}
	}
}

// TokenExchanges reports how many token exchanges the server has performed.
func (s *Server) TokenExchanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges
}

// RecordCount reports how many records the collection currently holds.
func (s *Server) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Reset empties the collection and forgets all issued tokens.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*visum.Record)
	s.order = nil
	s.tokens = make(map[string]time.Time)
	s.exchanges = 0
}

// requireAuth admits any non-empty API key and any unexpired issued token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		switch {
		case strings.HasPrefix(auth, "Key ") && auth != "Key ":
			next.ServeHTTP(w, r)
			return
		case strings.HasPrefix(auth, "Bearer "):
			token := strings.TrimPrefix(auth, "Bearer ")
			s.mu.Lock()
			expiry, ok := s.tokens[token]
			s.mu.Unlock()
			if ok && time.Now().Before(expiry) {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeStatus(w, http.StatusUnauthorized, visum.StatusUnauthorized, "authentication required")
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" || req.ClientSecret == "" {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "client_id and client_secret are required")
		return
	}

	token := uuid.NewString()

	s.mu.Lock()
	s.exchanges++
	ttl := s.tokenTTL
	s.tokens[token] = time.Now().Add(ttl)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(ttl / time.Second),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", defaultPerPage)
	if page < 1 || perPage < 1 {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "page and per_page must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := (page - 1) * perPage
	records := make([]*visum.Record, 0, perPage)
	for i := start; i < len(s.order) && i < start+perPage; i++ {
		records = append(records, s.records[s.order[i]])
	}

	writeJSON(w, http.StatusOK, recordsResponse{Status: okStatus(), Records: records})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Records []*visum.Record `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "malformed request body")
		return
	}
	if len(req.Records) == 0 {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "records are required")
		return
	}
	if len(req.Records) > visum.DefaultMaxBatchSize {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "too many records in one request")
		return
	}
	for _, rec := range req.Records {
		img := rec.Data.Image
		if img == nil || (img.URL == "" && len(img.Base64) == 0) {
			writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "record media is required")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range req.Records {
		if rec.ID == "" {
			rec.ID = uuid.Must(uuid.NewV7()).String()
		}
		rec.CreatedAt = time.Now().UTC()
		rec.Status = &visum.Status{Code: visum.StatusRecordProcessed, Description: "processed"}
		if _, exists := s.records[rec.ID]; !exists {
			s.order = append(s.order, rec.ID)
		}
		s.records[rec.ID] = rec
	}

	writeJSON(w, http.StatusOK, recordsResponse{Status: okStatus(), Records: req.Records})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		writeStatus(w, http.StatusNotFound, visum.StatusNotFound, "record "+id+" not found")
		return
	}

	writeJSON(w, http.StatusOK, recordResponse{Status: okStatus(), Record: record})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, ok := s.records[id]
	if ok {
		delete(s.records, id)
		s.order = slices.DeleteFunc(s.order, func(existing string) bool { return existing == id })
	}
	s.mu.Unlock()

	if !ok {
		writeStatus(w, http.StatusNotFound, visum.StatusNotFound, "record "+id+" not found")
		return
	}

	writeStatus(w, http.StatusOK, visum.StatusOK, "Ok")
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.records = make(map[string]*visum.Record)
	s.order = nil
	s.mu.Unlock()

	writeStatus(w, http.StatusOK, visum.StatusOK, "Ok")
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string          `json:"action"`
		Records []*visum.Record `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "malformed request body")
		return
	}
	if len(req.Records) == 0 {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "records are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every target before touching any, so mutations are all or
	// nothing within one request.
	for _, rec := range req.Records {
		if _, ok := s.records[rec.ID]; !ok {
			writeStatus(w, http.StatusNotFound, visum.StatusNotFound, "record "+rec.ID+" not found")
			return
		}
	}

	updated := make([]*visum.Record, 0, len(req.Records))
	switch req.Action {
	case "merge_concepts":
		for _, rec := range req.Records {
			target := s.records[rec.ID]
			target.Data.Concepts = mergeConcepts(target.Data.Concepts, rec.Data.Concepts)
			updated = append(updated, target)
		}
	case "delete_concepts":
		for _, rec := range req.Records {
			target := s.records[rec.ID]
			target.Data.Concepts = removeConcepts(target.Data.Concepts, rec.Data.Concepts)
			updated = append(updated, target)
		}
	case "overwrite_concepts":
		for _, rec := range req.Records {
			target := s.records[rec.ID]
			target.Data.Concepts = slices.Clone(rec.Data.Concepts)
			updated = append(updated, target)
		}
	case "delete_records":
		for _, rec := range req.Records {
			delete(s.records, rec.ID)
			id := rec.ID
			s.order = slices.DeleteFunc(s.order, func(existing string) bool { return existing == id })
		}
		writeStatus(w, http.StatusOK, visum.StatusOK, "Ok")
		return
	default:
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "unknown action "+req.Action)
		return
	}

	writeJSON(w, http.StatusOK, recordsResponse{Status: okStatus(), Records: updated})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts visum.CollectionStatus
	for _, rec := range s.records {
		switch {
		case rec.Status == nil:
			counts.ToProcess++
		case rec.Status.Code == visum.StatusRecordProcessed:
			counts.Processed++
		case rec.Status.Code == visum.StatusRecordFailed:
			counts.Errors++
		default:
			counts.ToProcess++
		}
	}

	writeJSON(w, http.StatusOK, countsResponse{Status: okStatus(), Counts: counts})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query struct {
			Ands []searchTerm `json:"ands"`
		} `json:"query"`
		Pagination struct {
			Page    int `json:"page"`
			PerPage int `json:"per_page"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, "malformed request body")
		return
	}

	for _, term := range req.Query.Ands {
		if err := term.validate(); err != "" {
			writeStatus(w, http.StatusBadRequest, visum.StatusInvalidRequest, err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := make([]hitObject, 0)
	for _, id := range s.order {
		record := s.records[id]
		if matchesAll(record, req.Query.Ands) {
			hits = append(hits, hitObject{Score: 1, Record: record})
		}
	}

	page := req.Pagination.Page
	perPage := req.Pagination.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	start := (page - 1) * perPage
	if start > len(hits) {
		start = len(hits)
	}
	end := min(start+perPage, len(hits))

	writeJSON(w, http.StatusOK, searchResponse{Status: okStatus(), Hits: hits[start:end]})
}

// searchTerm mirrors one entry of query.ands on the wire.
type searchTerm struct {
	Record      *termPayload `json:"record"`
	Predictions *termPayload `json:"predictions"`
	Ors         []searchTerm `json:"ors"`
}

type termPayload struct {
	Concepts []visum.Concept `json:"concepts"`
	Image    *visum.Image    `json:"image"`
}

// validate reports a rejection reason, or "" when the term is well formed.
func (t searchTerm) validate() string {
	if len(t.Ors) > 0 {
		for _, or := range t.Ors {
			if reason := or.validate(); reason != "" {
				return reason
			}
		}
		return ""
	}

	payload := t.payload()
	if payload == nil {
		return "query term must address record or predictions data"
	}
	if img := payload.Image; img != nil && img.URL == "" && len(img.Base64) == 0 {
		return "image term requires url or base64"
	}
	return ""
}

// payload returns whichever scope the term addresses. The fake stores no
// separate prediction data, so both scopes match against stored records.
func (t searchTerm) payload() *termPayload {
	if t.Record != nil {
		return t.Record
	}
	return t.Predictions
}

func matchesAll(record *visum.Record, terms []searchTerm) bool {
	for _, term := range terms {
		if !matchesTerm(record, term) {
			return false
		}
	}
	return true
}

func matchesTerm(record *visum.Record, term searchTerm) bool {
	if len(term.Ors) > 0 {
		for _, or := range term.Ors {
			if matchesTerm(record, or) {
				return true
			}
		}
		return false
	}

	payload := term.payload()
	if payload == nil {
		return false
	}

	for _, wanted := range payload.Concepts {
		if !hasConcept(record.Data.Concepts, wanted) {
			return false
		}
	}

	if img := payload.Image; img != nil {
		stored := record.Data.Image
		if stored == nil {
			return false
		}
		if img.URL != "" && stored.URL != img.URL {
			return false
		}
		if len(img.Base64) > 0 && !bytes.Equal(stored.Base64, img.Base64) {
			return false
		}
	}

	return true
}

// hasConcept reports whether the record's concepts satisfy the wanted
// assertion: present for value true, absent for value false.
func hasConcept(concepts []visum.Concept, wanted visum.Concept) bool {
	present := false
	for _, c := range concepts {
		if (wanted.ID != "" && c.ID == wanted.ID) || (wanted.Name != "" && (c.Name == wanted.Name || c.ID == wanted.Name)) {
			present = true
			break
		}
	}

	if wanted.Value != nil && !*wanted.Value {
		return !present
	}
	return present
}

func mergeConcepts(existing, updates []visum.Concept) []visum.Concept {
	out := slices.Clone(existing)
	for _, update := range updates {
		replaced := false
		for i, c := range out {
			if c.ID == update.ID {
				out[i] = update
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, update)
		}
	}
	return out
}

func removeConcepts(existing, removals []visum.Concept) []visum.Concept {
	return slices.DeleteFunc(slices.Clone(existing), func(c visum.Concept) bool {
		for _, removal := range removals {
			if c.ID == removal.ID {
				return true
			}
		}
		return false
	})
}

type recordsResponse struct {
	Status  visum.Status    `json:"status"`
	Records []*visum.Record `json:"records"`
}

type recordResponse struct {
	Status visum.Status  `json:"status"`
	Record *visum.Record `json:"record"`
}

type searchResponse struct {
	Status visum.Status `json:"status"`
	Hits   []hitObject  `json:"hits"`
}

type hitObject struct {
	Score  float64       `json:"score"`
	Record *visum.Record `json:"record"`
}

type countsResponse struct {
	Status visum.Status           `json:"status"`
	Counts visum.CollectionStatus `json:"counts"`
}

func okStatus() visum.Status {
	return visum.Status{Code: visum.StatusOK, Description: "Ok"}
}

func writeJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeStatus(w http.ResponseWriter, httpStatus, code int, description string) {
	writeJSON(w, httpStatus, map[string]any{
		"status": visum.Status{Code: code, Description: description},
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
