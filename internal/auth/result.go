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

package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// Kind is the tag of an authentication result.
type Kind int

const (
	// KindNegative is the result of a failed authentication.
	KindNegative Kind = iota
	// KindUser is an ordinary user principal.
	KindUser
	// KindService is a service account principal.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindService:
		return "service"
	default:
		return "negative"
	}
}

// Identity is the comparable (kind, name, secret) triple that identifies an
// authenticated principal. It is used as the snapshot cache key.
type Identity struct {
	Kind   Kind
	Name   string
	Secret string
}

// Key returns a digest of the identity that is safe to use in logs and
// single-flight tables.
func (id Identity) Key() string {
	h := sha256.New()
	h.Write([]byte(id.Kind.String()))
	h.Write([]byte{0})
	h.Write([]byte(id.Name))
	h.Write([]byte{0})
	h.Write([]byte(id.Secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Result is the outcome of a bind attempt. It is a closed variant: a result is
// either negative, or a user or service principal carrying its credentials and
// a success flag. Results are immutable once produced.
type Result struct {
	identity Identity
	success  bool
}

// Negative returns a failed authentication result.
func Negative() Result {
	return Result{identity: Identity{Kind: KindNegative}}
}

// UserPrincipal returns a result for an ordinary user.
func UserPrincipal(name, secret string, success bool) Result {
	return Result{identity: Identity{Kind: KindUser, Name: name, Secret: secret}, success: success}
}

// ServicePrincipal returns a result for a service account.
func ServicePrincipal(name, secret string, success bool) Result {
	return Result{identity: Identity{Kind: KindService, Name: name, Secret: secret}, success: success}
}

// Kind returns the variant tag.
func (r Result) Kind() Kind {
	return r.identity.Kind
}

// Name returns the principal name, empty for negative results.
func (r Result) Name() string {
	return r.identity.Name
}

// Secret returns the principal secret, empty for negative results.
func (r Result) Secret() string {
	return r.identity.Secret
}

// Success reports whether the principal authenticated successfully.
// Negative results are never successful.
func (r Result) Success() bool {
	return r.identity.Kind != KindNegative && r.success
}

// Identity returns the cache identity of the result.
func (r Result) Identity() Identity {
	return r.identity
}

func (r Result) String() string {
	if r.identity.Kind == KindNegative {
		return "negative"
	}

	status := "failed"
	if r.success {
		status = "ok"
	}

	return r.identity.Kind.String() + ":" + r.identity.Name + "(" + status + ")"
}
