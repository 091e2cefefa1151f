// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the platform over HTTP/JSON.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/pkg/auth"
	"github.com/teradata-labs/crucible/pkg/isolation"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
	"github.com/teradata-labs/crucible/pkg/runs"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           86400,
	}
}

// CoreServices bundles everything the HTTP handlers need.
type CoreServices struct {
	Engine       *isolation.Engine
	Orchestrator *runs.Orchestrator
	TestManager  *runs.TestManager
	Suites       *meta.SuiteStore
	Environments *meta.EnvironmentStore
	Resolver     auth.PrincipalResolver
	Tracer       observability.Tracer
}

// Server is the platform HTTP server.
type Server struct {
	core       *CoreServices
	httpServer *http.Server
	corsConfig CORSConfig
}

// NewServer creates a server listening on addr.
func NewServer(core *CoreServices, addr string, corsConfig CORSConfig) *Server {
	s := &Server{
		core:       core,
		corsConfig: corsConfig,
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
	s.httpServer.Handler = s.buildHandler()
	return s
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /v1/testSuites", s.authenticated(s.handleListSuites))
	mux.Handle("GET /v1/testSuites/{suiteId}", s.authenticated(s.handleGetSuite))
	mux.Handle("POST /v1/initEnv", s.authenticated(s.handleInitEnvironment))
	mux.Handle("POST /v1/startRun", s.authenticated(s.handleStartRun))
	mux.Handle("POST /v1/endRun", s.authenticated(s.handleEndRun))
	mux.Handle("GET /v1/results/{runId}", s.authenticated(s.handleGetResult))
	mux.Handle("DELETE /v1/env/{envId}", s.authenticated(s.handleDeleteEnvironment))
	mux.Handle("POST /v1/templates", s.authenticated(s.handleCreateTemplate))

	var handler http.Handler = mux
	if s.corsConfig.Enabled {
		handler = s.corsMiddleware(handler)
	}
	return s.loggingMiddleware(handler)
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	log.Info("starting http server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("stopping http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := ""
			for _, o := range s.corsConfig.AllowedOrigins {
				if o == "*" || o == origin {
					allowed = o
					break
				}
			}
			if allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.corsConfig.AllowedMethods, ", "))
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.corsConfig.AllowedHeaders, ", "))
				if s.corsConfig.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if s.corsConfig.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(s.corsConfig.MaxAge))
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
