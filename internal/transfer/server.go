// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package transfer

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/bct8925/sftools-sub004/internal/metrics"
	"github.com/bct8925/sftools-sub004/internal/payload"
	"github.com/bct8925/sftools-sub004/internal/relay"
	"github.com/bct8925/sftools-sub004/pkg/core"
)

const (
	secretBytes     = 32
	maxUploadBytes  = 256 << 20
	maxRelayRequest = 64 << 20
)

// Info describes the running server. Port and Secret are zero values
// whenever Running is false.
type Info struct {
	Port    int    `json:"port"`
	Secret  string `json:"secret"`
	Running bool   `json:"running"`
}

type Options struct {
	Payloads       *payload.Store
	Relay          *relay.Client
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the authenticated loopback endpoint used for data that cannot
// cross the native messaging channel.
type Server struct {
	payloads *payload.Store
	relay    *relay.Client
	metrics  *metrics.Metrics
	hub      *Hub
	origins  []string
	logger   *slog.Logger

	mu     sync.Mutex
	server *http.Server
	port   int
	secret string
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		payloads: opts.Payloads,
		relay:    opts.Relay,
		metrics:  opts.Metrics,
		hub:      NewHub(opts.AllowedOrigins, logger),
		origins:  opts.AllowedOrigins,
		logger:   logger,
	}
}

// Start binds a loopback listener on an OS-assigned port and mints a new
// secret. When already running it returns the current port and secret.
func (s *Server) Start() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return Info{Port: s.port, Secret: s.secret, Running: true}, nil
	}

	secret, err := newSecret()
	if err != nil {
		return Info{}, fmt.Errorf("mint transfer secret: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return Info{}, fmt.Errorf("listen transfer server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.secret = secret

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("transfer server failed", "error", err)
		}
	}()

	s.logger.Info("transfer server started", "port", s.port)
	return Info{Port: s.port, Secret: s.secret, Running: true}, nil
}

// Stop releases the listener and forgets the secret. Stopping a server that
// is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	port := s.port
	s.server = nil
	s.port = 0
	s.secret = ""
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.hub.CloseAll()
	err := srv.Shutdown(ctx)
	s.logger.Info("transfer server stopped", "port", port)
	return err
}

func (s *Server) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return Info{}
	}
	return Info{Port: s.port, Secret: s.secret, Running: true}
}

// Clients reports how many websocket clients are attached to /events.
func (s *Server) Clients() int {
	return s.hub.Count()
}

// Broadcast mirrors an event to websocket clients attached to /events.
func (s *Server) Broadcast(data []byte) {
	s.hub.Broadcast(data)
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/payload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/payload/{id}", s.handlePayload).Methods(http.MethodGet)
	r.HandleFunc("/payload/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/relay", s.handleRelay).Methods(http.MethodPost)
	r.Handle("/events", s.hub).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	// Authenticate ahead of routing so unknown paths and methods are not
	// distinguishable without the secret.
	h := s.authenticate(r)

	if len(s.origins) == 0 {
		return h
	}
	return handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
	)(h)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		secret := s.secret
		s.mu.Unlock()

		token := bearerToken(r)
		if secret == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			if s.metrics != nil {
				s.metrics.TransferRejected.Inc()
			}
			s.logger.Warn("transfer request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken reads the secret from the Authorization header. Websocket
// clients cannot set headers, so /events also accepts ?access_token=.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if r.URL.Path == "/events" {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"payloads": s.payloads.Count(),
		"clients":  s.hub.Count(),
	})
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, ok := s.payloads.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "payload not found"})
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("payload write failed, keeping payload", "payload_id", id, "error", err)
		return
	}
	s.payloads.Delete(id)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.payloads.Delete(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	id := s.payloads.Store(data)
	writeJSON(w, http.StatusCreated, map[string]string{"payloadId": id})
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req core.HTTPRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRelayRequest)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid relay request: " + err.Error()})
		return
	}

	resp, err := s.relay.Do(r.Context(), req)
	if s.metrics != nil {
		s.metrics.RelayRequests.WithLabelValues(metrics.Outcome(err == nil)).Inc()
	}
	if err != nil {
		writeJSON(w, relayStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func relayStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrHostNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
