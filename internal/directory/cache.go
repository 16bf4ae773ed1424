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

package directory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// DefaultTTL is the idle period after which a cached snapshot expires.
const DefaultTTL = 5 * time.Minute

// Outcome describes how a snapshot request was served.
type Outcome int

const (
	// OutcomeHit means the snapshot came from the cache.
	OutcomeHit Outcome = iota
	// OutcomeFetched means the snapshot was fetched from the backend.
	OutcomeFetched
)

func (o Outcome) String() string {
	if o == OutcomeHit {
		return "hit"
	}
	return "fetched"
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// TTL is the sliding expiry: a snapshot expires after being idle this long.
	TTL time.Duration
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Recorder defaults to a no-op recorder.
	Recorder metrics.Recorder
}

// Cache holds one snapshot per authenticated identity.
type Cache struct {
	backend  backend.Backend
	builder  Builder
	ttl      time.Duration
	clock    clock.PassiveClock
	logger   *zap.Logger
	recorder metrics.Recorder

	// mu guards entries and the snapshot pointers inside them. Lookups share
	// it, ReplaceAll and purges take it exclusively.
	mu      sync.RWMutex
	entries map[auth.Identity]*cacheEntry

	// flight allows at most one backend fetch per identity at a time.
	flight singleflight.Group
}

type cacheEntry struct {
	snapshot   *Snapshot
	lastAccess atomic.Int64
}

func (e *cacheEntry) touch(now time.Time) {
	e.lastAccess.Store(now.UnixNano())
}

func (e *cacheEntry) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastAccess.Load()))
}

// NewCache returns an empty cache that fetches from b and shapes records with builder.
func NewCache(b backend.Backend, builder Builder, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NewNoopRecorder()
	}

	return &Cache{
		backend:  b,
		builder:  builder,
		ttl:      opts.TTL,
		clock:    opts.Clock,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		entries:  make(map[auth.Identity]*cacheEntry),
	}
}

// Users returns the user entries visible to identity.
func (c *Cache) Users(ctx context.Context, identity auth.Result) ([]Entry, error) {
	s, _, err := c.Snapshot(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.Users, nil
}

// Groups returns the group entries visible to identity.
func (c *Cache) Groups(ctx context.Context, identity auth.Result) ([]Entry, error) {
	s, _, err := c.Snapshot(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.Groups, nil
}

type flightResult struct {
	snapshot *Snapshot
	outcome  Outcome
}

// Snapshot returns the cached snapshot for identity, fetching it from the
// backend on a miss. Concurrent misses for one identity share a single fetch.
// Failed fetches are not cached.
func (c *Cache) Snapshot(ctx context.Context, identity auth.Result) (*Snapshot, Outcome, error) {
	if !identity.Success() {
		return nil, OutcomeFetched, fmt.Errorf("refusing to fetch for unauthenticated identity %s", identity)
	}

	id := identity.Identity()
	if s, ok := c.lookup(id); ok {
		c.recorder.RecordCacheLookup(OutcomeHit.String())
		return s, OutcomeHit, nil
	}

	v, err, shared := c.flight.Do(id.Key(), func() (any, error) {
		// A flight that finished just before this one may have stored it.
		if s, ok := c.lookup(id); ok {
			return flightResult{snapshot: s, outcome: OutcomeHit}, nil
		}

		s, err := c.fetch(context.WithoutCancel(ctx), identity)
		if err != nil {
			return nil, err
		}

		return flightResult{snapshot: s, outcome: OutcomeFetched}, nil
	})
	if err != nil {
		c.recorder.RecordCacheLookup("error")
		return nil, OutcomeFetched, err
	}

	res := v.(flightResult)
	c.recorder.RecordCacheLookup(res.outcome.String())

	if shared {
		c.logger.Debug("Shared in-flight snapshot fetch", zap.String("identity", id.Key()[:12]))
	}

	return res.snapshot, res.outcome, nil
}

func (c *Cache) lookup(id auth.Identity) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	now := c.clock.Now()
	if e.idle(now) > c.ttl {
		return nil, false
	}

	e.touch(now)

	return e.snapshot, true
}

func (c *Cache) fetch(ctx context.Context, identity auth.Result) (*Snapshot, error) {
	start := c.clock.Now()

	s, err := c.load(ctx, identity)
	c.recorder.RecordBackendFetch(c.clock.Since(start), err)
	if err != nil {
		c.logger.Warn("Failed to fetch directory snapshot",
			zap.String("principal", identity.String()), zap.Error(err))
		return nil, err
	}

	e := &cacheEntry{snapshot: s}
	e.touch(c.clock.Now())

	c.mu.Lock()
	c.entries[identity.Identity()] = e
	c.mu.Unlock()

	c.logger.Debug("Fetched directory snapshot",
		zap.String("principal", identity.String()),
		zap.Int("users", len(s.Users)), zap.Int("groups", len(s.Groups)))

	return s, nil
}

func (c *Cache) load(ctx context.Context, identity auth.Result) (*Snapshot, error) {
	users, err := c.backend.ListUsers(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	groups, err := c.backend.ListGroups(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	userEntries, groupEntries, err := c.builder.Build(users, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to build entries: %w", err)
	}

	return NewSnapshot(userEntries, groupEntries, c.clock.Now()), nil
}

// ReplaceAll swaps the content of every cached identity for the given
// records in one step, without calling the backend. Fetches in flight are not
// waited for.
func (c *Cache) ReplaceAll(users, groups []backend.Record) error {
	userEntries, groupEntries, err := c.builder.Build(users, groups)
	if err != nil {
		return fmt.Errorf("failed to build entries: %w", err)
	}

	now := c.clock.Now()
	s := NewSnapshot(userEntries, groupEntries, now)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.snapshot = s
		e.touch(now)
	}

	c.logger.Info("Replaced cached directory content",
		zap.Int("identities", len(c.entries)),
		zap.Int("users", len(userEntries)), zap.Int("groups", len(groupEntries)))

	return nil
}

// OnChange returns a backend.ChangeFunc that replaces the cache content.
func (c *Cache) OnChange() backend.ChangeFunc {
	return func(users, groups []backend.Record) {
		if err := c.ReplaceAll(users, groups); err != nil {
			c.logger.Error("Failed to replace cached directory content", zap.Error(err))
		}
	}
}

// Invalidate drops the snapshot of one identity.
func (c *Cache) Invalidate(identity auth.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, identity.Identity())
}

// Purge drops every snapshot.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[auth.Identity]*cacheEntry)
}

// PurgeExpired drops snapshots idle for longer than the TTL and returns how
// many were dropped.
func (c *Cache) PurgeExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var purged int
	for id, e := range c.entries {
		if e.idle(now) > c.ttl {
			delete(c.entries, id)
			purged++
		}
	}

	return purged
}

// Len returns the number of cached identities, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Run purges expired snapshots every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	wait.UntilWithContext(ctx, func(context.Context) {
		if n := c.PurgeExpired(); n > 0 {
			c.logger.Debug("Purged expired snapshots", zap.Int("count", n))
		}
	}, interval)
}
