package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vango-dev/collab/pkg/docstore"
	"github.com/vango-dev/collab/pkg/lock"
)

type lockRequest struct {
	UserID string `json:"userId"`
}

type lockResponse struct {
	DocumentID  string `json:"documentId"`
	ParagraphID string `json:"paragraphId"`
	UserID      string `json:"userId,omitempty"`
	Acquired    *bool  `json:"acquired,omitempty"`
	Released    *bool  `json:"released,omitempty"`
}

type ownerResponse struct {
	DocumentID  string `json:"documentId"`
	ParagraphID string `json:"paragraphId"`
	Locked      bool   `json:"locked"`
	Owner       string `json:"owner,omitempty"`
}

type userLocksResponse struct {
	UserID string     `json:"userId"`
	Locks  []lock.Key `json:"locks"`
}

type paragraphRequest struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAcquireLock: POST /api/locks/{doc}/{para}
func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	if !s.requireLocks(w) {
		return
	}
	doc, para := pathParam(r, "doc"), pathParam(r, "para")
	user, err := s.userFromRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acquired, err := s.deps.Locks.TryLock(r.Context(), doc, para, user)
	if err != nil {
		s.writeLockError(w, err)
		return
	}
	status := http.StatusOK
	if !acquired {
		status = http.StatusConflict
	}
	writeJSON(w, status, lockResponse{DocumentID: doc, ParagraphID: para, UserID: user, Acquired: &acquired})
}

// handleReleaseLock: DELETE /api/locks/{doc}/{para}?user=
func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	if !s.requireLocks(w) {
		return
	}
	doc, para := pathParam(r, "doc"), pathParam(r, "para")
	user, err := s.userFromRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	released, err := s.deps.Locks.Unlock(r.Context(), doc, para, user)
	if err != nil {
		s.writeLockError(w, err)
		return
	}
	status := http.StatusOK
	if !released {
		status = http.StatusConflict
	}
	writeJSON(w, status, lockResponse{DocumentID: doc, ParagraphID: para, UserID: user, Released: &released})
}

// handleLockOwner: GET /api/locks/{doc}/{para}
func (s *Server) handleLockOwner(w http.ResponseWriter, r *http.Request) {
	if !s.requireLocks(w) {
		return
	}
	doc, para := pathParam(r, "doc"), pathParam(r, "para")

	owner, ok, err := s.deps.Locks.Owner(r.Context(), doc, para)
	if err != nil {
		s.writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerResponse{DocumentID: doc, ParagraphID: para, Locked: ok, Owner: owner})
}

// handleListLocks: GET /api/locks?user=
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	if !s.requireLocks(w) {
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, ErrMissingUser)
		return
	}

	keys, err := s.deps.Locks.LocksByUser(r.Context(), user)
	if err != nil {
		s.writeLockError(w, err)
		return
	}
	if keys == nil {
		keys = []lock.Key{}
	}
	writeJSON(w, http.StatusOK, userLocksResponse{UserID: user, Locks: keys})
}

// handleForceUnlock: DELETE /api/admin/locks/{key}
func (s *Server) handleForceUnlock(w http.ResponseWriter, r *http.Request) {
	if !s.requireLocks(w) {
		return
	}
	if err := s.deps.Locks.ForceUnlock(r.Context(), pathParam(r, "key")); err != nil {
		s.writeLockError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetParagraph: GET /api/documents/{doc}/paragraphs/{para}
func (s *Server) handleGetParagraph(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	p, err := s.deps.Store.GetParagraph(r.Context(), pathParam(r, "doc"), pathParam(r, "para"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutParagraph: PUT /api/documents/{doc}/paragraphs/{para}
//
// The write is accepted only from the user currently holding the
// paragraph lock.
func (s *Server) handlePutParagraph(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) || !s.requireLocks(w) {
		return
	}
	doc, para := pathParam(r, "doc"), pathParam(r, "para")

	var req paragraphRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingUser)
		return
	}

	owner, ok, err := s.deps.Locks.Owner(r.Context(), doc, para)
	if err != nil {
		s.writeLockError(w, err)
		return
	}
	if !ok || owner != req.UserID {
		writeError(w, http.StatusConflict, ErrNotLockOwner)
		return
	}

	p := &docstore.Paragraph{
		DocumentID:  doc,
		ParagraphID: para,
		Content:     req.Content,
		UpdatedBy:   req.UserID,
	}
	if err := s.deps.Store.SaveParagraph(r.Context(), p); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) requireLocks(w http.ResponseWriter) bool {
	if s.deps.Locks == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoLockManager)
		return false
	}
	return true
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoStore)
		return false
	}
	return true
}

// userFromRequest reads the user from the ?user= query parameter or a JSON
// body of the form {"userId": "..."}.
func (s *Server) userFromRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	if user := r.URL.Query().Get("user"); user != "" {
		return user, nil
	}
	if r.Body == nil || r.ContentLength == 0 {
		return "", ErrMissingUser
	}
	var req lockRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		return "", err
	}
	if req.UserID == "" {
		return "", ErrMissingUser
	}
	return req.UserID, nil
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func (s *Server) writeLockError(w http.ResponseWriter, err error) {
	if errors.Is(err, lock.ErrInvalidKey) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Error("lock store error", "error", err)
	writeError(w, http.StatusServiceUnavailable, err)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, docstore.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("document store error", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

// pathParam returns the decoded route parameter. chi matches against
// RawPath when the request carried escaped characters such as %2F.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" || !strings.Contains(v, "%") {
		return v
	}
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
