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

package gateway

import (
	"context"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/metrics"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	"go.uber.org/zap"
)

// Mechanism is the authentication choice of a bind request.
type Mechanism int

const (
	MechanismSimple Mechanism = iota
	MechanismSASL
)

// BindRequest is a bind operation as received from a client.
type BindRequest struct {
	MessageID int
	DN        string
	Mechanism Mechanism
	Secret    string
}

// BindProcessor authenticates bind requests against the backend.
type BindProcessor struct {
	translator *naming.Translator
	backend    backend.Backend
	recorder   metrics.Recorder
	logger     *zap.Logger
}

// NewBindProcessor returns a bind processor.
func NewBindProcessor(translator *naming.Translator, b backend.Backend, recorder metrics.Recorder, logger *zap.Logger) *BindProcessor {
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}

	return &BindProcessor{
		translator: translator,
		backend:    b,
		recorder:   recorder,
		logger:     logger,
	}
}

// Bind authenticates req and, on success, records the identity in the
// session unless it already holds one. Failures are returned as *Error.
func (p *BindProcessor) Bind(ctx context.Context, session *Session, req BindRequest) error {
	logger := p.logger.With(
		zap.Int("connID", session.ConnectionID()),
		zap.Int("messageID", req.MessageID),
		zap.String("dn", req.DN))

	kind := p.translator.Classify(req.DN)

	result, err := p.bind(ctx, req, kind)
	p.recorder.RecordBind(kind.String(), ResultName(err))
	if err != nil {
		logger.Info("Bind rejected", zap.Error(err))
		return err
	}

	if session.Establish(result) {
		logger.Info("Bind succeeded", zap.String("principal", result.String()))
	} else {
		logger.Info("Bind succeeded, keeping earlier session identity",
			zap.String("principal", result.String()))
	}

	return nil
}

func (p *BindProcessor) bind(ctx context.Context, req BindRequest, kind naming.Kind) (auth.Result, error) {
	if req.Mechanism != MechanismSimple {
		return auth.Negative(), newError(KindInvalidCredentials, nil, "only simple authentication is supported")
	}

	if req.Secret == "" {
		return auth.Negative(), newError(KindInvalidCredentials, nil, "empty password")
	}

	principalKind, ok := kind.Principal()
	if !ok {
		return auth.Negative(), newError(KindMalformedDN, nil, "bind dn does not name a user or service account")
	}

	name, err := p.translator.ExtractName(req.DN, kind)
	if err != nil {
		return auth.Negative(), newError(KindMalformedDN, err, "bind dn does not name a user or service account")
	}

	result, err := backend.Authenticate(ctx, p.backend, principalKind, name, req.Secret)
	if err != nil {
		return auth.Negative(), newError(KindBackendCommunication, err, "failed to reach identity backend")
	}

	if !result.Success() {
		return auth.Negative(), newError(KindInvalidCredentials, nil, "invalid credentials")
	}

	return result, nil
}
