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

package auth_test

import (
	"testing"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	t.Run("Negative", func(t *testing.T) {
		r := auth.Negative()

		assert.Equal(t, auth.KindNegative, r.Kind())
		assert.False(t, r.Success())
		assert.Empty(t, r.Name())
		assert.Empty(t, r.Secret())
		assert.Equal(t, "negative", r.String())
	})

	t.Run("User", func(t *testing.T) {
		r := auth.UserPrincipal("alice", "s3cr3t", true)

		assert.Equal(t, auth.KindUser, r.Kind())
		assert.True(t, r.Success())
		assert.Equal(t, "alice", r.Name())
		assert.Equal(t, "s3cr3t", r.Secret())
		assert.Equal(t, "user:alice(ok)", r.String())
		assert.NotContains(t, r.String(), "s3cr3t")
	})

	t.Run("Failed Service", func(t *testing.T) {
		r := auth.ServicePrincipal("ci", "token", false)

		assert.Equal(t, auth.KindService, r.Kind())
		assert.False(t, r.Success())
		assert.Equal(t, "service:ci(failed)", r.String())
	})
}

func TestIdentity(t *testing.T) {
	alice := auth.UserPrincipal("alice", "s3cr3t", true).Identity()

	assert.Equal(t, alice, auth.UserPrincipal("alice", "s3cr3t", true).Identity())
	assert.Equal(t, alice.Key(), auth.UserPrincipal("alice", "s3cr3t", true).Identity().Key())

	// Every component of the triple is part of the key.
	assert.NotEqual(t, alice.Key(), auth.ServicePrincipal("alice", "s3cr3t", true).Identity().Key())
	assert.NotEqual(t, alice.Key(), auth.UserPrincipal("alice", "other", true).Identity().Key())
	assert.NotEqual(t, alice.Key(), auth.UserPrincipal("bob", "s3cr3t", true).Identity().Key())

	// Components are separated.
	assert.NotEqual(t,
		auth.UserPrincipal("ab", "c", true).Identity().Key(),
		auth.UserPrincipal("a", "bc", true).Identity().Key())

	assert.NotContains(t, alice.Key(), "s3cr3t")
	assert.Len(t, alice.Key(), 64)
}
