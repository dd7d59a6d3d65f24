// Package httpapi serves the registry over JSON/HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"crossword.ai/internal/protocol"
	"crossword.ai/internal/transport/dispatch"
	"crossword.ai/internal/transport/identity"
)

const maxBodyBytes = 1 << 20

type Server struct {
	mux      *http.ServeMux
	dispatch *dispatch.Dispatcher
	ids      *identity.Verifier
	log      *log.Logger
}

func NewServer(d *dispatch.Dispatcher, ids *identity.Verifier, logger *log.Logger) *Server {
	if ids == nil {
		ids = identity.NewVerifier("")
	}
	s := &Server{
		mux:      http.NewServeMux(),
		dispatch: d,
		ids:      ids,
		log:      logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/puzzles", s.handleCreatePuzzle)
	s.mux.HandleFunc("POST /v1/solutions", s.handleSubmitSolution)
	s.mux.HandleFunc("GET /v1/puzzles/{hash}/status", s.handlePuzzleStatus)
	s.mux.HandleFunc("GET /v1/unsolved", s.handleUnsolved)
	s.mux.HandleFunc("GET /v1/unsolved/{index}", s.handleUnsolvedByIndex)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	s.mux.ServeHTTP(w, r)
}

// POST /v1/puzzles (owner only)
func (s *Server) handleCreatePuzzle(w http.ResponseWriter, r *http.Request) {
	s.serveBody(w, r, protocol.OpCreatePuzzle, http.StatusCreated)
}

// POST /v1/solutions
func (s *Server) handleSubmitSolution(w http.ResponseWriter, r *http.Request) {
	s.serveBody(w, r, protocol.OpSubmitSolution, http.StatusOK)
}

// GET /v1/puzzles/{hash}/status
func (s *Server) handlePuzzleStatus(w http.ResponseWriter, r *http.Request) {
	payload, _ := json.Marshal(protocol.PuzzleStatusReq{SolutionHash: r.PathValue("hash")})
	s.serve(w, r, "", protocol.OpGetPuzzleStatus, payload, http.StatusOK)
}

// GET /v1/unsolved
func (s *Server) handleUnsolved(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "", protocol.OpGetUnsolvedPuzzles, nil, http.StatusOK)
}

// GET /v1/unsolved/{index}
func (s *Server) handleUnsolvedByIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		jsonError(w, protocol.ErrBadRequest, "index must be an integer")
		return
	}
	payload, _ := json.Marshal(protocol.UnsolvedByIndexReq{Index: idx})
	s.serve(w, r, "", protocol.OpGetUnsolvedByIndex, payload, http.StatusOK)
}

func (s *Server) serveBody(w http.ResponseWriter, r *http.Request, op string, okStatus int) {
	caller, found, err := s.ids.FromRequest(r)
	if err != nil {
		jsonError(w, protocol.ErrUnauthorized, err.Error())
		return
	}
	if !found {
		jsonError(w, protocol.ErrUnauthorized, "missing "+identity.HeaderAccountID+" header")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, protocol.ErrBadRequest, "request body too large")
			return
		}
		jsonError(w, protocol.ErrBadRequest, "read body: "+err.Error())
		return
	}
	s.serve(w, r, caller, op, body, okStatus)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, caller, op string, payload []byte, okStatus int) {
	data, err := s.dispatch.Do(r.Context(), "http", caller, op, payload)
	if err != nil {
		var de *dispatch.Error
		if errors.As(err, &de) {
			jsonError(w, de.Code, de.Message)
			return
		}
		jsonError(w, protocol.ErrInternal, "internal error")
		return
	}
	writeJSON(w, okStatus, data)
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func jsonError(w http.ResponseWriter, code, msg string) {
	writeJSON(w, StatusFor(code), errorBody{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a protocol error code onto an HTTP status.
func StatusFor(code string) int {
	switch code {
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrUnauthorized:
		return http.StatusForbidden
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrNoMatchingPuzzle:
		return http.StatusUnprocessableEntity
	case protocol.ErrDuplicatePuzzle, protocol.ErrAlreadySolved:
		return http.StatusConflict
	case protocol.ErrRateLimit:
		return http.StatusTooManyRequests
	case protocol.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
