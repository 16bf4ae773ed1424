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

package directory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/fake"
	"github.com/gpu-ninja/ldap-gateway/internal/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	alice := auth.UserPrincipal("alice", "s3cr3t", true)
	bob := auth.UserPrincipal("bob", "hunter2", true)

	newCache := func(t *testing.T) (*directory.Cache, *fake.Backend, *testingclock.FakeClock) {
		b := fake.NewBackend().
			WithUser("alice", "s3cr3t", backend.Record{"name": "Alice"}).
			WithUser("bob", "hunter2", nil).
			WithGroup(backend.Record{"name": "admins", "members": []any{"alice"}})

		clk := testingclock.NewFakeClock(time.Now())
		c := directory.NewCache(b, directory.BuilderFunc(buildEntries), directory.CacheOptions{
			TTL:    time.Minute,
			Clock:  clk,
			Logger: zaptest.NewLogger(t),
		})

		return c, b, clk
	}

	t.Run("Hit Within TTL", func(t *testing.T) {
		c, b, clk := newCache(t)

		users, err := c.Users(ctx, alice)
		require.NoError(t, err)
		assert.Len(t, users, 2)

		clk.Step(30 * time.Second)

		again, err := c.Users(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, users, again)

		assert.Equal(t, 1, b.Calls().ListUsers)
		assert.Equal(t, 1, b.Calls().ListGroups)
	})

	t.Run("Sliding Expiry", func(t *testing.T) {
		c, b, clk := newCache(t)

		_, outcome, err := c.Snapshot(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, directory.OutcomeFetched, outcome)

		// Each access pushes expiry out again.
		for i := 0; i < 3; i++ {
			clk.Step(45 * time.Second)
			_, outcome, err = c.Snapshot(ctx, alice)
			require.NoError(t, err)
			assert.Equal(t, directory.OutcomeHit, outcome)
		}

		clk.Step(61 * time.Second)

		_, outcome, err = c.Snapshot(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, directory.OutcomeFetched, outcome)

		assert.Equal(t, 2, b.Calls().ListUsers)
	})

	t.Run("Identities Are Separate", func(t *testing.T) {
		c, b, _ := newCache(t)

		_, err := c.Users(ctx, alice)
		require.NoError(t, err)
		_, err = c.Users(ctx, bob)
		require.NoError(t, err)

		assert.Equal(t, 2, b.Calls().ListUsers)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("Concurrent Misses Fetch Once", func(t *testing.T) {
		c, b, _ := newCache(t)

		release := make(chan struct{})
		entered := make(chan struct{}, 1)
		b.OnList(func() {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		})

		const callers = 8
		var wg sync.WaitGroup
		results := make([]*directory.Snapshot, callers)
		errs := make([]error, callers)

		wg.Add(1)
		go func() {
			defer wg.Done()
			results[0], _, errs[0] = c.Snapshot(ctx, alice)
		}()

		<-entered

		for i := 1; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _, errs[i] = c.Snapshot(ctx, alice)
			}(i)
		}

		// Give the waiters a moment to join the flight.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Same(t, results[0], results[i])
		}

		assert.Equal(t, 1, b.Calls().ListUsers)
	})

	t.Run("Failures Are Not Cached", func(t *testing.T) {
		c, b, _ := newCache(t)

		b.FailListing(backend.ErrCommunication)

		_, _, err := c.Snapshot(ctx, alice)
		require.Error(t, err)
		assert.True(t, errors.Is(err, backend.ErrCommunication))
		assert.Equal(t, 0, c.Len())

		b.FailListing(nil)

		s, outcome, err := c.Snapshot(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, directory.OutcomeFetched, outcome)
		assert.Equal(t, 3, s.Len())
		assert.Equal(t, 2, b.Calls().ListUsers)
	})

	t.Run("Unauthenticated Identity", func(t *testing.T) {
		c, b, _ := newCache(t)

		_, _, err := c.Snapshot(ctx, auth.Negative())
		require.Error(t, err)
		assert.Equal(t, 0, b.Calls().ListUsers)
	})

	t.Run("Replace All", func(t *testing.T) {
		c, b, _ := newCache(t)

		_, err := c.Users(ctx, alice)
		require.NoError(t, err)
		_, err = c.Users(ctx, bob)
		require.NoError(t, err)

		err = c.ReplaceAll([]backend.Record{{"userName": "carol"}}, nil)
		require.NoError(t, err)

		for _, id := range []auth.Result{alice, bob} {
			s, outcome, err := c.Snapshot(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, directory.OutcomeHit, outcome)
			require.Len(t, s.Users, 1)
			assert.Equal(t, "carol", s.Users[0].First("uid"))
			assert.Empty(t, s.Groups)
		}

		assert.Equal(t, 2, b.Calls().ListUsers)
	})

	t.Run("Invalidate And Purge", func(t *testing.T) {
		c, b, clk := newCache(t)

		_, err := c.Users(ctx, alice)
		require.NoError(t, err)
		_, err = c.Users(ctx, bob)
		require.NoError(t, err)

		c.Invalidate(alice)
		assert.Equal(t, 1, c.Len())

		clk.Step(2 * time.Minute)
		assert.Equal(t, 1, c.PurgeExpired())
		assert.Equal(t, 0, c.Len())

		_, err = c.Users(ctx, alice)
		require.NoError(t, err)
		c.Purge()
		assert.Equal(t, 0, c.Len())

		assert.Equal(t, 3, b.Calls().ListUsers)
	})

	t.Run("On Change", func(t *testing.T) {
		c, _, _ := newCache(t)

		_, err := c.Users(ctx, alice)
		require.NoError(t, err)

		c.OnChange()(nil, []backend.Record{{"name": "ops"}})

		groups, err := c.Groups(ctx, alice)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "cn=ops", groups[0].DN())
	})
}

func buildEntries(users, groups []backend.Record) ([]directory.Entry, []directory.Entry, error) {
	var userEntries, groupEntries []directory.Entry
	for _, u := range users {
		name := u.String("userName")
		userEntries = append(userEntries, directory.Entry{
			directory.AttributeDN: {"uid=" + name},
			"uid":                 {name},
		})
	}
	for _, g := range groups {
		name := g.String("name")
		groupEntries = append(groupEntries, directory.Entry{
			directory.AttributeDN: {"cn=" + name},
			"cn":                  {name},
		})
	}
	return userEntries, groupEntries, nil
}
