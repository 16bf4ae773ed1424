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

package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
)

// Principal is a user or service account known to the fake backend.
type Principal struct {
	Name   string         `json:"name"`
	Secret string         `json:"secret"`
	Record backend.Record `json:"record,omitempty"`
}

// Calls counts backend invocations.
type Calls struct {
	AuthenticateUser    int
	AuthenticateService int
	ListUsers           int
	ListGroups          int
}

// Backend is an in-memory backend with call counters and injectable
// failures.
type Backend struct {
	mu       sync.Mutex
	users    []Principal
	services []Principal
	groups   []backend.Record
	authErr  error
	listErr  error
	listHook func()
	calls    Calls
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend returns an empty fake backend.
func NewBackend() *Backend {
	return &Backend{}
}

// WithUser adds a user. The record's userName is set to name.
func (b *Backend) WithUser(name, secret string, record backend.Record) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.users = append(b.users, principal(name, secret, record))
	return b
}

// WithService adds a service account.
func (b *Backend) WithService(name, secret string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.services = append(b.services, principal(name, secret, nil))
	return b
}

// WithGroup adds a group record.
func (b *Backend) WithGroup(record backend.Record) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.groups = append(b.groups, record.Clone())
	return b
}

// WithPrincipals loads users, services and groups in one go.
func (b *Backend) WithPrincipals(users, services []Principal, groups []backend.Record) *Backend {
	for _, u := range users {
		b.WithUser(u.Name, u.Secret, u.Record)
	}
	for _, s := range services {
		b.WithService(s.Name, s.Secret)
	}
	for _, g := range groups {
		b.WithGroup(g)
	}
	return b
}

// FailAuthentication makes every authentication call fail with err. A nil err
// clears the failure.
func (b *Backend) FailAuthentication(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.authErr = err
}

// FailListing makes every listing call fail with err. A nil err clears the
// failure.
func (b *Backend) FailListing(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listErr = err
}

// OnList registers a hook run at the start of every ListUsers call, outside
// the backend lock. Tests use it to hold a fetch in flight.
func (b *Backend) OnList(hook func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listHook = hook
}

// Calls returns the invocation counters.
func (b *Backend) Calls() Calls {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

// ResetCalls zeroes the invocation counters.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = Calls{}
}

// Content returns copies of the user and group records.
func (b *Backend) Content() (users, groups []backend.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.userRecords(), cloneAll(b.groups)
}

func (b *Backend) AuthenticateUser(_ context.Context, name, secret string) (auth.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls.AuthenticateUser++

	if b.authErr != nil {
		return auth.Negative(), fmt.Errorf("failed to authenticate user: %w", b.authErr)
	}

	if !check(b.users, name, secret) {
		return auth.Negative(), nil
	}

	return auth.UserPrincipal(name, secret, true), nil
}

func (b *Backend) AuthenticateService(_ context.Context, name, secret string) (auth.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls.AuthenticateService++

	if b.authErr != nil {
		return auth.Negative(), fmt.Errorf("failed to authenticate service: %w", b.authErr)
	}

	if !check(b.services, name, secret) {
		return auth.Negative(), nil
	}

	return auth.ServicePrincipal(name, secret, true), nil
}

func (b *Backend) ListUsers(_ context.Context, identity auth.Result) ([]backend.Record, error) {
	b.mu.Lock()
	hook := b.listHook
	b.calls.ListUsers++
	b.mu.Unlock()

	if hook != nil {
		hook()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.listable(identity); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return b.userRecords(), nil
}

func (b *Backend) ListGroups(_ context.Context, identity auth.Result) ([]backend.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls.ListGroups++

	if err := b.listable(identity); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	return cloneAll(b.groups), nil
}

func (b *Backend) listable(identity auth.Result) error {
	if b.listErr != nil {
		return b.listErr
	}
	if !identity.Success() {
		return backend.ErrUnauthorized
	}
	return nil
}

func (b *Backend) userRecords() []backend.Record {
	records := make([]backend.Record, 0, len(b.users))
	for _, u := range b.users {
		records = append(records, u.Record.Clone())
	}
	return records
}

func principal(name, secret string, record backend.Record) Principal {
	r := record.Clone()
	r["userName"] = name
	return Principal{Name: name, Secret: secret, Record: r}
}

func check(principals []Principal, name, secret string) bool {
	for _, p := range principals {
		if p.Name == name {
			return p.Secret == secret
		}
	}
	return false
}

func cloneAll(records []backend.Record) []backend.Record {
	out := make([]backend.Record, 0, len(records))
	for _, r := range records {
		out = append(out, r.Clone())
	}
	return out
}
