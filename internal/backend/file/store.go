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

package file

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"sigs.k8s.io/yaml"
)

const (
	// FieldPasswordHash holds a bcrypt hash. It is never returned in listings.
	FieldPasswordHash = "passwordHash"
	fieldUserName     = "userName"
	fieldName         = "name"
	fieldIsActive     = "isActive"
)

// Document is the on-disk layout of the store.
type Document struct {
	Users    []backend.Record `json:"users,omitempty"`
	Services []backend.Record `json:"services,omitempty"`
	Groups   []backend.Record `json:"groups,omitempty"`
}

// Backend serves users, services and groups from a YAML or JSON file.
type Backend struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	doc *Document
}

var _ backend.Backend = (*Backend)(nil)

// New loads the file at path.
func New(path string, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{
		path:   path,
		logger: logger,
	}

	if err := b.Reload(); err != nil {
		return nil, err
	}

	return b, nil
}

// Reload re-reads the file. The previous content is kept when the file
// cannot be read or parsed.
func (b *Backend) Reload() error {
	doc, err := Load(b.path)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.doc = doc
	b.mu.Unlock()

	b.logger.Info("Loaded identity file",
		zap.String("path", b.path),
		zap.Int("users", len(doc.Users)),
		zap.Int("services", len(doc.Services)),
		zap.Int("groups", len(doc.Groups)))

	return nil
}

// Load reads and validates a store document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for i, u := range doc.Users {
		if u.String(fieldUserName) == "" {
			return nil, fmt.Errorf("user %d in %s has no %s", i, path, fieldUserName)
		}
	}
	for i, s := range doc.Services {
		if s.String(fieldName) == "" {
			return nil, fmt.Errorf("service %d in %s has no %s", i, path, fieldName)
		}
	}

	return &doc, nil
}

// Content returns the users and groups without secrets.
func (b *Backend) Content() (users, groups []backend.Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return public(b.doc.Users), public(b.doc.Groups)
}

func (b *Backend) AuthenticateUser(_ context.Context, name, secret string) (auth.Result, error) {
	b.mu.RLock()
	record, ok := find(b.doc.Users, fieldUserName, name)
	b.mu.RUnlock()

	if !ok || !active(record) || !verify(record, secret) {
		return auth.Negative(), nil
	}

	return auth.UserPrincipal(name, secret, true), nil
}

func (b *Backend) AuthenticateService(_ context.Context, name, secret string) (auth.Result, error) {
	b.mu.RLock()
	record, ok := find(b.doc.Services, fieldName, name)
	b.mu.RUnlock()

	if !ok || !verify(record, secret) {
		return auth.Negative(), nil
	}

	return auth.ServicePrincipal(name, secret, true), nil
}

func (b *Backend) ListUsers(_ context.Context, identity auth.Result) ([]backend.Record, error) {
	if !identity.Success() {
		return nil, fmt.Errorf("listing requires an authenticated identity: %w", backend.ErrUnauthorized)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return public(b.doc.Users), nil
}

func (b *Backend) ListGroups(_ context.Context, identity auth.Result) ([]backend.Record, error) {
	if !identity.Success() {
		return nil, fmt.Errorf("listing requires an authenticated identity: %w", backend.ErrUnauthorized)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return public(b.doc.Groups), nil
}

func find(records []backend.Record, key, name string) (backend.Record, bool) {
	for _, r := range records {
		if r.String(key) == name {
			return r, true
		}
	}
	return nil, false
}

func active(record backend.Record) bool {
	v, ok := record[fieldIsActive].(bool)
	return !ok || v
}

func verify(record backend.Record, secret string) bool {
	hash := record.String(FieldPasswordHash)
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func public(records []backend.Record) []backend.Record {
	out := make([]backend.Record, 0, len(records))
	for _, r := range records {
		c := r.Clone()
		delete(c, FieldPasswordHash)
		out = append(out, c)
	}
	return out
}
