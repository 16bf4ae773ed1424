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

package backend

import (
	"context"
	"errors"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
)

var (
	// ErrCommunication is wrapped by backends when the backend could not be
	// reached or answered with something unexpected.
	ErrCommunication = errors.New("backend communication failure")
	// ErrUnauthorized is wrapped by backends when the backend refused to serve
	// a listing for the given identity.
	ErrUnauthorized = errors.New("backend refused access")
)

// Record is a raw user or group record as returned by a backend.
type Record map[string]any

// Backend is an identity store that can be presented as a directory.
//
// A rejected credential is reported as a negative auth.Result with a nil
// error. Errors are reserved for failures to talk to the backend and wrap
// ErrCommunication or ErrUnauthorized.
type Backend interface {
	AuthenticateUser(ctx context.Context, name, secret string) (auth.Result, error)
	AuthenticateService(ctx context.Context, name, secret string) (auth.Result, error)
	ListUsers(ctx context.Context, identity auth.Result) ([]Record, error)
	ListGroups(ctx context.Context, identity auth.Result) ([]Record, error)
}

// ChangeFunc is called by backends that can detect changes to their content
// on their own (watched files, watched resources). It receives the complete
// new content.
type ChangeFunc func(users, groups []Record)

// Authenticate dispatches to the backend call matching the principal kind.
func Authenticate(ctx context.Context, b Backend, kind auth.Kind, name, secret string) (auth.Result, error) {
	switch kind {
	case auth.KindUser:
		return b.AuthenticateUser(ctx, name, secret)
	case auth.KindService:
		return b.AuthenticateService(ctx, name, secret)
	default:
		return auth.Negative(), nil
	}
}

// IsCommunicationError reports whether err is a backend fault rather than a
// rejected credential.
func IsCommunicationError(err error) bool {
	return errors.Is(err, ErrCommunication) || errors.Is(err, ErrUnauthorized)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the string value of key, or "" if absent or not a string.
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}
