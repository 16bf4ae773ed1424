/* SPDX-License-Identifier: Apache-2.0
 *
 * Copyright 2023 Damian Peckett <damian@pecke.tt>.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/gateway"
	"github.com/gpu-ninja/ldap-gateway/internal/util"
	"github.com/jimlambrt/gldap"
	"go.uber.org/zap"
)

const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Options configures the LDAP listener.
type Options struct {
	Address      string
	TLSConfig    *tls.Config
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Server speaks LDAPv3 on behalf of the bind and search processors. Each
// connection gets its own session, dropped on unbind or disconnect.
type Server struct {
	opts     Options
	logger   *zap.Logger
	binds    *gateway.BindProcessor
	searches *gateway.SearchProcessor
	sessions *gateway.Sessions
	srv      *gldap.Server

	// ctx is the parent of every request context, set by Run.
	ctx context.Context
}

// New configures a server. It does not listen until Run is called.
func New(binds *gateway.BindProcessor, searches *gateway.SearchProcessor, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		binds:    binds,
		searches: searches,
		sessions: gateway.NewSessions(),
		ctx:      context.Background(),
	}

	srv, err := gldap.NewServer(
		gldap.WithLogger(util.NewHCLogger(opts.Logger, "gldap")),
		gldap.WithReadTimeout(opts.ReadTimeout),
		gldap.WithWriteTimeout(opts.WriteTimeout),
		gldap.WithOnClose(s.onClose),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ldap server: %w", err)
	}

	mux, err := gldap.NewMux()
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	if err := mux.Bind(s.handleBind); err != nil {
		return nil, fmt.Errorf("failed to add bind route: %w", err)
	}
	if err := mux.Search(s.handleSearch); err != nil {
		return nil, fmt.Errorf("failed to add search route: %w", err)
	}
	if err := mux.Unbind(s.handleUnbind); err != nil {
		return nil, fmt.Errorf("failed to add unbind route: %w", err)
	}
	if err := mux.DefaultRoute(s.handleUnsupported); err != nil {
		return nil, fmt.Errorf("failed to add default route: %w", err)
	}

	if err := srv.Router(mux); err != nil {
		return nil, fmt.Errorf("failed to set router: %w", err)
	}

	s.srv = srv

	return s, nil
}

// Run listens until ctx is cancelled. Sessions of open connections are
// discarded on return.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx

	errCh := make(chan error, 1)
	go func() {
		var opts []gldap.Option
		if s.opts.TLSConfig != nil {
			opts = append(opts, gldap.WithTLSConfig(s.opts.TLSConfig))
		}

		s.logger.Info("Starting LDAP listener",
			zap.String("address", s.opts.Address), zap.Bool("tls", s.opts.TLSConfig != nil))

		errCh <- s.srv.Run(s.opts.Address, opts...)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Stopping LDAP listener")

		if err := s.srv.Stop(); err != nil {
			return fmt.Errorf("failed to stop ldap server: %w", err)
		}

		<-errCh

		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ldap server failed: %w", err)
		}

		return nil
	}
}

// Ready reports whether the listener is accepting connections.
func (s *Server) Ready() bool {
	return s.srv.Ready()
}

// Sessions returns the number of connections with a session.
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

func (s *Server) onClose(connID int) {
	s.sessions.Drop(connID)
}

func (s *Server) handleBind(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewBindResponse()
	defer func() {
		if err := w.Write(resp); err != nil {
			s.logger.Warn("Failed to write bind response", zap.Error(err))
		}
	}()

	req := gateway.BindRequest{
		MessageID: int(r.ID),
		Mechanism: gateway.MechanismSimple,
	}

	m, err := r.GetSimpleBindMessage()
	if err != nil {
		req.Mechanism = gateway.MechanismSASL
	} else {
		req.DN = m.UserName
		req.Secret = string(m.Password)
	}

	err = s.binds.Bind(s.ctx, s.sessions.Get(r.ConnectionID()), req)
	setResult(resp, err)
}

func (s *Server) handleSearch(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewSearchDoneResponse()
	defer func() {
		if err := w.Write(resp); err != nil {
			s.logger.Warn("Failed to write search done response", zap.Error(err))
		}
	}()

	m, err := r.GetSearchMessage()
	if err != nil {
		resp.SetResultCode(gldap.ResultProtocolError)
		resp.SetDiagnosticMessage("malformed search request")
		return
	}

	req := gateway.SearchRequest{
		MessageID:  int(r.ID),
		BaseDN:     m.BaseDN,
		Scope:      toScope(m.Scope),
		Filter:     m.Filter,
		Attributes: m.Attributes,
	}

	entries, err := s.searches.Search(s.ctx, s.sessions.Get(r.ConnectionID()), req)
	if err != nil {
		setResult(resp, err)
		return
	}

	for _, e := range entries {
		if err := w.Write(r.NewSearchResponseEntry(e.DN, gldap.WithAttributes(e.Attributes))); err != nil {
			s.logger.Warn("Failed to write search entry", zap.String("dn", e.DN), zap.Error(err))
			resp.SetResultCode(gldap.ResultOther)
			return
		}
	}

	resp.SetResultCode(gldap.ResultSuccess)
}

func (s *Server) handleUnbind(_ *gldap.ResponseWriter, r *gldap.Request) {
	s.sessions.Drop(r.ConnectionID())
}

func (s *Server) handleUnsupported(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewResponse(
		gldap.WithResponseCode(gldap.ResultUnwillingToPerform),
		gldap.WithDiagnosticMessage("operation not supported"))

	if err := w.Write(resp); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

type resultSetter interface {
	SetResultCode(code int)
	SetDiagnosticMessage(msg string)
}

func setResult(resp resultSetter, err error) {
	resp.SetResultCode(gateway.ResultCode(err))

	if err != nil {
		resp.SetDiagnosticMessage(gateway.DiagnosticMessage(err))
	}
}

func toScope(scope gldap.Scope) gateway.Scope {
	switch scope {
	case gldap.BaseObject:
		return gateway.ScopeBase
	case gldap.SingleLevel:
		return gateway.ScopeOne
	default:
		return gateway.ScopeSub
	}
}
