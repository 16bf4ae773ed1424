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

package upstream_test

import (
	"context"
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/fake"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/upstream"
	"github.com/gpu-ninja/ldap-gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping listener test in short mode")
	}

	certsDir := t.TempDir()
	require.NoError(t, testutil.GenerateCertificates(certsDir))

	cert, err := tls.LoadX509KeyPair(filepath.Join(certsDir, "tls.crt"), filepath.Join(certsDir, "tls.key"))
	require.NoError(t, err)

	directory := fake.NewBackend().
		WithUser("alice", "s3cr3t", backend.Record{
			"name":         "Alice Liddell",
			"emailAddress": "alice@example.com",
			"lastName":     "Liddell",
		}).
		WithUser("bob", "hunter2", backend.Record{"name": "Bob"}).
		WithService("ci", "token").
		WithGroup(backend.Record{"name": "admins", "description": "Administrators", "members": []any{"alice", "ghost"}})

	_, addr := testutil.StartGateway(t, directory, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})

	b, err := upstream.New(upstream.Options{
		URL:        "ldaps://" + addr,
		CAFile:     filepath.Join(certsDir, "ca.crt"),
		UsersDN:    testutil.UsersDN,
		ServicesDN: testutil.ServicesDN,
		GroupsDN:   testutil.GroupsDN,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("Authenticate User", func(t *testing.T) {
		res, err := b.AuthenticateUser(ctx, "alice", "s3cr3t")
		require.NoError(t, err)
		assert.True(t, res.Success())
		assert.Equal(t, auth.KindUser, res.Kind())

		res, err = b.AuthenticateUser(ctx, "alice", "wrong")
		require.NoError(t, err)
		assert.False(t, res.Success())
	})

	t.Run("Authenticate Service", func(t *testing.T) {
		res, err := b.AuthenticateService(ctx, "ci", "token")
		require.NoError(t, err)
		assert.True(t, res.Success())
		assert.Equal(t, auth.KindService, res.Kind())
	})

	t.Run("List Users", func(t *testing.T) {
		users, err := b.ListUsers(ctx, auth.UserPrincipal("alice", "s3cr3t", true))
		require.NoError(t, err)
		require.Len(t, users, 2)

		var alice backend.Record
		for _, u := range users {
			if u.String("userName") == "alice" {
				alice = u
			}
		}
		require.NotNil(t, alice)
		assert.Equal(t, "Alice Liddell", alice.String("name"))
		assert.Equal(t, "alice@example.com", alice.String("emailAddress"))
		assert.Equal(t, "Liddell", alice.String("lastName"))
	})

	t.Run("List Groups As Service", func(t *testing.T) {
		groups, err := b.ListGroups(ctx, auth.ServicePrincipal("ci", "token", true))
		require.NoError(t, err)
		require.Len(t, groups, 1)

		assert.Equal(t, "admins", groups[0].String("name"))
		assert.Equal(t, "Administrators", groups[0].String("description"))
		// Members that do not exist upstream are not listed by the upstream.
		assert.Equal(t, []any{"alice"}, groups[0]["members"])
	})

	t.Run("List Unauthenticated", func(t *testing.T) {
		_, err := b.ListUsers(ctx, auth.Negative())
		assert.ErrorIs(t, err, backend.ErrUnauthorized)

		_, err = b.ListUsers(ctx, auth.UserPrincipal("alice", "stale", true))
		assert.ErrorIs(t, err, backend.ErrUnauthorized)
	})

	t.Run("Unreachable", func(t *testing.T) {
		unreachable, err := upstream.New(upstream.Options{
			URL:     "ldap://" + testutil.FreeAddress(t),
			UsersDN: testutil.UsersDN,
		})
		require.NoError(t, err)

		_, err = unreachable.AuthenticateUser(ctx, "alice", "s3cr3t")
		assert.ErrorIs(t, err, backend.ErrCommunication)
	})

	t.Run("Invalid Options", func(t *testing.T) {
		_, err := upstream.New(upstream.Options{URL: "http://example.com", UsersDN: testutil.UsersDN})
		assert.Error(t, err)

		_, err = upstream.New(upstream.Options{URL: "ldap://example.com"})
		assert.Error(t, err)
	})
}
