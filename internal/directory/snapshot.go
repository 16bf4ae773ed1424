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
	"strings"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/backend"
)

// Builder turns raw backend records into directory entries. Returned entries
// must carry their dn attribute.
type Builder interface {
	Build(users, groups []backend.Record) (userEntries, groupEntries []Entry, err error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(users, groups []backend.Record) ([]Entry, []Entry, error)

func (f BuilderFunc) Build(users, groups []backend.Record) ([]Entry, []Entry, error) {
	return f(users, groups)
}

// Collection selects the users or the groups of a snapshot.
type Collection int

const (
	CollectionUsers Collection = iota
	CollectionGroups
)

// Snapshot is the directory content seen by one identity. It is never
// modified after construction.
type Snapshot struct {
	Users     []Entry
	Groups    []Entry
	FetchedAt time.Time

	usersByDN  map[string]Entry
	groupsByDN map[string]Entry
}

// NewSnapshot indexes users and groups by DN.
func NewSnapshot(users, groups []Entry, fetchedAt time.Time) *Snapshot {
	return &Snapshot{
		Users:      users,
		Groups:     groups,
		FetchedAt:  fetchedAt,
		usersByDN:  index(users),
		groupsByDN: index(groups),
	}
}

func index(entries []Entry) map[string]Entry {
	byDN := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if dn := e.DN(); dn != "" {
			key := strings.ToLower(dn)
			if _, ok := byDN[key]; !ok {
				byDN[key] = e
			}
		}
	}
	return byDN
}

// Entries returns the entries of a collection.
func (s *Snapshot) Entries(c Collection) []Entry {
	if c == CollectionGroups {
		return s.Groups
	}
	return s.Users
}

// Find returns the entry of a collection with the given canonical DN.
func (s *Snapshot) Find(c Collection, dn string) (Entry, bool) {
	byDN := s.usersByDN
	if c == CollectionGroups {
		byDN = s.groupsByDN
	}

	e, ok := byDN[strings.ToLower(dn)]
	return e, ok
}

// Lookup returns the user or group with the given canonical DN. Users are
// checked first.
func (s *Snapshot) Lookup(dn string) (Entry, bool) {
	if e, ok := s.Find(CollectionUsers, dn); ok {
		return e, true
	}
	return s.Find(CollectionGroups, dn)
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Users) + len(s.Groups)
}
