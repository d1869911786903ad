package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// RoomService is the out-of-band administrative surface, used by
	// the course-creation flow to pre-provision one room per course.
	RoomService interface {
		CreateRoom(roomID string)
	}

	SessionIssuer interface {
		CreateSession(address string)
	}

	SignatureVerifier interface {
		Verify(message, signature, address string) bool
	}
)

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type AuthRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	logger   zerolog.Logger
	svc      RoomService
	sessions SessionIssuer
	verifier SignatureVerifier
	*http.Server
}

type Config struct {
	Logger      *zerolog.Logger
	RoomService RoomService
	Sessions    SessionIssuer
	Verifier    SignatureVerifier
	ListenAddr  string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:   cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:      cfg.RoomService,
		sessions: cfg.Sessions,
		verifier: cfg.Verifier,
	}

	r := http.NewServeMux()
	r.HandleFunc("POST /api/room", srv.createRoom)
	r.HandleFunc("POST /api/auth", srv.auth)
	r.HandleFunc("OPTIONS /", corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	var (
		body    []byte
		roomReq RoomRequest
	)
	body, _ = io.ReadAll(r.Body)
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.Unmarshal(body, &roomReq); err != nil || roomReq.RoomID == "" {
		writeResponse(w, http.StatusBadRequest, &APIResponse{Error: "roomId is required"})
		return
	}

	srv.logger.Trace().Any("request", roomReq).Msg("got create room request")

	srv.svc.CreateRoom(roomReq.RoomID)
	writeResponse(w, http.StatusOK, &APIResponse{Success: true})
}

func (srv *Server) auth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	var (
		body    []byte
		authReq AuthRequest
	)
	body, _ = io.ReadAll(r.Body)
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.Unmarshal(body, &authReq); err != nil || authReq.Address == "" {
		writeResponse(w, http.StatusBadRequest, &APIResponse{Error: "address is required"})
		return
	}

	if !srv.verifier.Verify(authReq.Message, authReq.Signature, authReq.Address) {
		srv.logger.Debug().
			Str("address", authReq.Address).
			Msg("signature verification failed")
		writeResponse(w, http.StatusOK, &APIResponse{Error: "Invalid signature"})
		return
	}

	srv.sessions.CreateSession(authReq.Address)
	srv.logger.Debug().
		Str("address", authReq.Address).
		Msg("session created")
	writeResponse(w, http.StatusOK, &APIResponse{Success: true})
}

func writeResponse(w http.ResponseWriter, code int, resp *APIResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, code, b)
}

func writeBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
