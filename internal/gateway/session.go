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
	"sync"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
)

// Session is the state of one client connection: at most one authenticated
// identity, set by the first successful bind and never replaced.
//
// Requests of one connection may be served concurrently, so access is
// serialized.
type Session struct {
	connectionID int

	mu       sync.Mutex
	identity auth.Result
	bound    bool
}

// NewSession returns an unauthenticated session.
func NewSession(connectionID int) *Session {
	return &Session{connectionID: connectionID}
}

// ConnectionID returns the id of the connection owning the session.
func (s *Session) ConnectionID() int {
	return s.connectionID
}

// Establish stores result as the session identity if it is successful and no
// identity was stored before. It reports whether result was stored.
func (s *Session) Establish(result auth.Result) bool {
	if !result.Success() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bound {
		return false
	}

	s.identity, s.bound = result, true

	return true
}

// Identity returns the session identity, if any.
func (s *Session) Identity() (auth.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.identity, s.bound
}

// Sessions tracks the session of every open connection.
type Sessions struct {
	mu       sync.Mutex
	sessions map[int]*Session
}

// NewSessions returns an empty session table.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[int]*Session)}
}

// Get returns the session of a connection, creating it on first use.
func (t *Sessions) Get(connectionID int) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		s = NewSession(connectionID)
		t.sessions[connectionID] = s
	}

	return s
}

// Drop forgets the session of a connection.
func (t *Sessions) Drop(connectionID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, connectionID)
}

// Len returns the number of tracked sessions.
func (t *Sessions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions)
}
