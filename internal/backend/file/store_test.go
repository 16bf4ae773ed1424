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

package file_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func hash(t *testing.T, secret string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func writeStore(t *testing.T, path string, extraUser string) {
	content := fmt.Sprintf(`users:
- userName: alice
  name: Alice Liddell
  passwordHash: %q
  uidNumber: 1001
- userName: bob
  isActive: false
  passwordHash: %q
%s
services:
- name: ci
  passwordHash: %q
groups:
- name: admins
  members: [alice]
`, hash(t, "s3cr3t"), hash(t, "hunter2"), extraUser, hash(t, "token"))

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identities.yaml")
	writeStore(t, path, "")

	b, err := file.New(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("Authenticate User", func(t *testing.T) {
		result, err := b.AuthenticateUser(ctx, "alice", "s3cr3t")
		require.NoError(t, err)
		assert.True(t, result.Success())

		result, err = b.AuthenticateUser(ctx, "alice", "wrong")
		require.NoError(t, err)
		assert.False(t, result.Success())

		result, err = b.AuthenticateUser(ctx, "nobody", "s3cr3t")
		require.NoError(t, err)
		assert.False(t, result.Success())
	})

	t.Run("Inactive User", func(t *testing.T) {
		result, err := b.AuthenticateUser(ctx, "bob", "hunter2")
		require.NoError(t, err)
		assert.False(t, result.Success())
	})

	t.Run("Authenticate Service", func(t *testing.T) {
		result, err := b.AuthenticateService(ctx, "ci", "token")
		require.NoError(t, err)
		assert.Equal(t, auth.KindService, result.Kind())
		assert.True(t, result.Success())

		result, err = b.AuthenticateService(ctx, "alice", "s3cr3t")
		require.NoError(t, err)
		assert.False(t, result.Success())
	})

	t.Run("List Hides Secrets", func(t *testing.T) {
		users, err := b.ListUsers(ctx, auth.UserPrincipal("alice", "s3cr3t", true))
		require.NoError(t, err)
		require.Len(t, users, 2)

		for _, u := range users {
			assert.NotContains(t, u, file.FieldPasswordHash)
		}
		assert.Equal(t, "Alice Liddell", users[0].String("name"))
		assert.Equal(t, float64(1001), users[0]["uidNumber"])

		groups, err := b.ListGroups(ctx, auth.UserPrincipal("alice", "s3cr3t", true))
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, []any{"alice"}, groups[0]["members"])
	})

	t.Run("List Unauthenticated", func(t *testing.T) {
		_, err := b.ListUsers(ctx, auth.Negative())
		require.Error(t, err)
		assert.True(t, errors.Is(err, backend.ErrUnauthorized))
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing File", func(t *testing.T) {
		_, err := file.New(filepath.Join(dir, "missing.yaml"), nil)
		require.Error(t, err)
	})

	t.Run("Missing User Name", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("users:\n- name: nameless\n"), 0o600))

		_, err := file.Load(path)
		require.Error(t, err)
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "store.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"groups": [{"name": "ops"}]}`), 0o600))

		doc, err := file.Load(path)
		require.NoError(t, err)
		require.Len(t, doc.Groups, 1)
	})
}

func TestWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}

	path := filepath.Join(t.TempDir(), "identities.yaml")
	writeStore(t, path, "")

	b, err := file.New(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	changes := make(chan []backend.Record, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, 100*time.Millisecond, func(users, _ []backend.Record) {
			changes <- users
		})
	}()

	// Let the watcher register before touching the file.
	time.Sleep(100 * time.Millisecond)

	writeStore(t, path, "- userName: carol\n  passwordHash: x")

	select {
	case users := <-changes:
		assert.Len(t, users, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	result, err := b.AuthenticateUser(ctx, "carol", "anything")
	require.NoError(t, err)
	assert.False(t, result.Success())

	cancel()
	require.NoError(t, <-done)
}
