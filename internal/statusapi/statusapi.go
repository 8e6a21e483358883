// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package statusapi serves the local read-only status endpoints. The server
// binds to loopback only and exposes nothing that can mutate the relay.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/tevino/abool"

	"github.com/hyvehq/relay-agent/internal/agent"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/config"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var alog = log.WithComponent("StatusAPI")

const (
	statusPath = "/v1/status"
	healthPath = "/v1/status/health"

	readinessTimeout = 5 * time.Second
	shutdownTimeout  = 2 * time.Second
)

// Report is the JSON document served on /v1/status.
type Report struct {
	State         string               `json:"state"`
	Channel       string               `json:"channel,omitempty"`
	RelayID       string               `json:"relayId,omitempty"`
	Connection    channel.ConnState    `json:"connection"`
	UptimeSeconds int64                `json:"uptimeSeconds"`
	Version       string               `json:"version"`
	Counters      agent.MetricsSnapshot `json:"counters"`
}

// Server exposes the supervisor's view over HTTP on loopback.
type Server struct {
	cfg        *config.Config
	supervisor *agent.Supervisor
	version    string

	ready    *abool.AtomicBool
	addrLock sync.Mutex
	addr     string
}

// NewServer builds a status server for the given supervisor. Serve does the
// actual binding.
func NewServer(cfg *config.Config, supervisor *agent.Supervisor, version string) *Server {
	return &Server{
		cfg:        cfg,
		supervisor: supervisor,
		version:    version,
		ready:      abool.New(),
	}
}

// Addr returns the bound listen address, empty before Serve bound one. Tests
// use it with an ephemeral port.
func (s *Server) Addr() string {
	s.addrLock.Lock()
	defer s.addrLock.Unlock()
	return s.addr
}

// Ready reports whether the listener is accepting requests.
func (s *Server) Ready() bool {
	return s.ready.IsSet()
}

// Serve binds 127.0.0.1:<port> and blocks until ctx fires. A port already in
// use is an error: two relay processes must not share an install.
func (s *Server) Serve(ctx context.Context) error {
	router := httprouter.New()
	router.GET(statusPath, s.handleStatus)
	router.GET(healthPath, s.handleHealth)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Status.Port))
	if err != nil {
		return fmt.Errorf("unable to bind the status API: %w", err)
	}

	s.addrLock.Lock()
	s.addr = listener.Addr().String()
	s.addrLock.Unlock()
	s.ready.Set()
	defer s.ready.UnSet()

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readinessTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	alog.WithField("address", s.Addr()).Info("Status API listening.")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	report := Report{
		State:         string(s.supervisor.State()),
		Channel:       s.cfg.Channel,
		RelayID:       s.cfg.RelayID,
		Connection:    s.supervisor.Connection(),
		UptimeSeconds: int64(s.supervisor.Uptime().Seconds()),
		Version:       s.version,
		Counters:      s.supervisor.Metrics().Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		alog.WithError(err).Debug("Unable to encode the status report.")
	}
}

// handleHealth answers 200 only while the relay is in its steady state, so
// process managers can restart a wedged install.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	if s.supervisor.State() == agent.StateRunning {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"healthy":true}`))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = fmt.Fprintf(w, `{"healthy":false,"state":%q}`, string(s.supervisor.State()))
}
