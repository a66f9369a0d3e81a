package arbiter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/taurusgroup/p2p-wager/pkg/identity"
)

// HTTP paths served by the arbiter.
const (
	PathSignWinner = "/v1/sign-winner"
	PathInfo       = "/v1/info"
	PathHealth     = "/healthz"
)

const maxRequest = 1 << 20

// InfoResponse describes the arbiter key stakes must name.
type InfoResponse struct {
	Npub   string `json:"npub"`
	Pubkey string `json:"pubkey"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes a Signer over HTTP.
type Server struct {
	signer *Signer
	router *mux.Router
	log    zerolog.Logger
}

// NewServer routes the arbiter API to signer.
func NewServer(signer *Signer, log zerolog.Logger) *Server {
	s := &Server{signer: signer, router: mux.NewRouter(), log: log.With().Str("component", "arbiter-http").Logger()}
	s.router.Methods(http.MethodPost).Path(PathSignWinner).HandlerFunc(s.handleSignWinner)
	s.router.Methods(http.MethodGet).Path(PathInfo).HandlerFunc(s.handleInfo)
	s.router.Methods(http.MethodGet).Path(PathHealth).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSignWinner(w http.ResponseWriter, r *http.Request) {
	var req SignWinnerRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequest))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err = json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.signer.SignWinner(r.Context(), &req)
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrRefused):
		writeError(w, http.StatusForbidden, err)
	case err != nil:
		s.log.Error().Err(err).Msg("sign winner")
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	pk := s.signer.PublicKey()
	npub, err := identity.EncodeNpub(pk)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, InfoResponse{Npub: npub, Pubkey: pk.Hex()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
