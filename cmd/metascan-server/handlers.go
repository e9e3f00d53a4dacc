package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/smehta/metascan/internal/analysis"
	"github.com/smehta/metascan/internal/auth"
	"github.com/smehta/metascan/internal/export"
	"github.com/smehta/metascan/internal/history"
)

// maxUploadBytes caps photo uploads at 25 MB.
const maxUploadBytes = 25 << 20

type server struct {
	auth      *auth.Manager
	geocoder  analysis.Geocoder
	assistant analysis.Assistant
	store     history.Store

	mu       sync.Mutex
	sessions map[string]*analysis.Session
	anon     *analysis.Session
}

func newServer(authMgr *auth.Manager, geocoder analysis.Geocoder, assistant analysis.Assistant, store history.Store) *server {
	return &server{
		auth:      authMgr,
		geocoder:  geocoder,
		assistant: assistant,
		store:     store,
		sessions:  make(map[string]*analysis.Session),
		anon:      analysis.NewSession(geocoder, assistant, nil, nil),
	}
}

func (s *server) registerRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", s.handleSignIn).Methods(http.MethodPost)
	api.HandleFunc("/auth/signout", s.handleSignOut).Methods(http.MethodPost)
	api.HandleFunc("/auth/session", s.handleSession).Methods(http.MethodGet)

	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/metadata", s.handleMetadata).Methods(http.MethodGet)
	api.HandleFunc("/describe", s.handleDescribe).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)

	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{index:[0-9]+}", s.handleDeleteHistory).Methods(http.MethodDelete)
	api.HandleFunc("/history/{index:[0-9]+}/restore", s.handleRestoreHistory).Methods(http.MethodPost)

	api.HandleFunc("/export/pdf", s.handleExportPDF).Methods(http.MethodGet)
	api.HandleFunc("/export/json", s.handleExportJSON).Methods(http.MethodGet)
}

// session resolves the request's bearer token to its session. Requests
// without a valid token share the anonymous session, which has no
// history.
func (s *server) session(r *http.Request) *analysis.Session {
	token := bearerToken(r)
	if token == "" {
		return s.anon
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		return sess
	}
	return s.anon
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  *auth.User `json:"user"`
}

func (s *server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, s.auth.SignUp)
}

func (s *server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, s.auth.SignIn)
}

func (s *server) handleCredentials(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, email, password string) (string, error)) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := fn(r.Context(), req.Email, req.Password)
	if err != nil {
		httpError(w, http.StatusUnauthorized, auth.DisplayMessage(err))
		return
	}

	user := s.auth.UserFor(token)
	sess := analysis.NewSession(s.geocoder, s.assistant, s.store, user)
	if err := sess.LoadHistory(r.Context()); err != nil {
		log.Warn().Err(err).Str("uid", user.UID).Msg("Failed to load history at sign-in")
	}
	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// handleSession reports who the bearer token belongs to. An unknown or
// absent token is a signed-out session, not an error.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]*auth.User{"user": s.auth.UserFor(bearerToken(r))})
}

func (s *server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" {
		s.auth.SignOut(token)
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// --- Analysis ---

type snapshotResponse struct {
	FileName    string            `json:"fileName"`
	Metadata    map[string]string `json:"metadata"`
	Keys        []string          `json:"keys"`
	Raw         map[string]any    `json:"raw,omitempty"`
	Address     string            `json:"address,omitempty"`
	Latitude    *float64          `json:"latitude,omitempty"`
	Longitude   *float64          `json:"longitude,omitempty"`
	Preview     string            `json:"imagePreview,omitempty"`
	Description string            `json:"description,omitempty"`
}

func toSnapshotResponse(snap *analysis.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		FileName:    snap.FileName,
		Metadata:    snap.Metadata,
		Keys:        analysis.SortedKeys(snap.Metadata),
		Raw:         snap.Raw,
		Address:     snap.Address,
		Latitude:    snap.Latitude,
		Longitude:   snap.Longitude,
		Description: snap.Description,
	}
	if len(snap.Preview) > 0 {
		resp.Preview = base64.StdEncoding.EncodeToString(snap.Preview)
	}
	return resp
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing photo field")
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		httpError(w, http.StatusBadRequest, "only image uploads are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	snap, err := s.session(r).ProcessFile(r.Context(), header.Filename, data)
	if err != nil {
		log.Warn().Err(err).Str("file", header.Filename).Msg("Analysis failed")
		httpError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.session(r).Reset()
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session(r).Snapshot()
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (s *server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	text, err := s.session(r).Describe(r.Context())
	if err != nil {
		s.aiError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"description": text})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		httpError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.session(r).Chat(r.Context(), req.Message)
	switch {
	case errors.Is(err, analysis.ErrNoPhoto), errors.Is(err, analysis.ErrStale):
		s.aiError(w, err)
		return
	case err != nil:
		// Adapter failures surface as a normal reply so the
		// conversation keeps its one message stream.
		log.Error().Err(err).Msg("Chat turn failed")
		reply = "Sorry, I could not answer that. Please try again."
	}
	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *server) aiError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrNoPhoto):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, analysis.ErrStale):
		httpError(w, http.StatusConflict, err.Error())
	default:
		httpError(w, http.StatusBadGateway, err.Error())
	}
}

// --- History ---

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if sess.User() == nil {
		httpError(w, http.StatusUnauthorized, "sign in to view history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": sess.History()})
}

func (s *server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if sess.User() == nil {
		httpError(w, http.StatusUnauthorized, "sign in to manage history")
		return
	}
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	if err := sess.DeleteHistory(r.Context(), index); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *server) handleRestoreHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if sess.User() == nil {
		httpError(w, http.StatusUnauthorized, "sign in to manage history")
		return
	}
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	if err := sess.RestoreHistory(index); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := sess.Snapshot()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

// --- Export ---

func (s *server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session(r).Snapshot()
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	doc, err := export.PDF(snap)
	if err != nil {
		s.exportError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFileName(snap, "pdf")))
	w.Write(doc)
}

func (s *server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session(r).Snapshot()
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	doc, err := export.JSON(snap)
	if err != nil {
		s.exportError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFileName(snap, "json")))
	w.Write(doc)
}

func (s *server) exportError(w http.ResponseWriter, err error) {
	if errors.Is(err, export.ErrNothingToExport) {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	httpError(w, http.StatusInternalServerError, err.Error())
}

func exportFileName(snap *analysis.Snapshot, ext string) string {
	base := snap.FileName
	if base == "" {
		base = "metascan-" + time.Now().Format("20060102-150405")
	}
	return base + "." + ext
}
