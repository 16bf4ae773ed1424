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
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/directory"
	"github.com/gpu-ninja/ldap-gateway/internal/filter"
	"github.com/gpu-ninja/ldap-gateway/internal/metrics"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	"go.uber.org/zap"
)

// Scope is the breadth of a search.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOne
	ScopeSub
)

func (s Scope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeOne:
		return "one"
	default:
		return "sub"
	}
}

const (
	// AttributeAll requests every user attribute.
	AttributeAll = "*"
	// AttributeNone requests no attributes.
	AttributeNone = "1.1"
	// AttributeOperational requests operational attributes, of which there
	// are none.
	AttributeOperational = "+"
)

// SearchRequest is a search operation as received from a client.
type SearchRequest struct {
	MessageID  int
	BaseDN     string
	Scope      Scope
	Filter     string
	Attributes []string
}

// SearchEntry is one projected search result.
type SearchEntry struct {
	DN         string
	Attributes map[string][]string
}

// SnapshotSource provides the directory content visible to a session.
type SnapshotSource interface {
	Snapshot(ctx context.Context, identity auth.Result) (*directory.Snapshot, directory.Outcome, error)
}

// SearchProcessor answers search requests from cached snapshots.
type SearchProcessor struct {
	translator *naming.Translator
	source     SnapshotSource
	recorder   metrics.Recorder
	logger     *zap.Logger
}

// NewSearchProcessor returns a search processor.
func NewSearchProcessor(translator *naming.Translator, source SnapshotSource, recorder metrics.Recorder, logger *zap.Logger) *SearchProcessor {
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}

	return &SearchProcessor{
		translator: translator,
		source:     source,
		recorder:   recorder,
		logger:     logger,
	}
}

// Search evaluates req for the identity held by session. Failures are
// returned as *Error.
func (p *SearchProcessor) Search(ctx context.Context, session *Session, req SearchRequest) ([]SearchEntry, error) {
	logger := p.logger.With(
		zap.Int("connID", session.ConnectionID()),
		zap.Int("messageID", req.MessageID),
		zap.String("baseDN", req.BaseDN),
		zap.Stringer("scope", req.Scope),
		zap.String("filter", req.Filter))

	entries, err := p.search(ctx, session, req)
	p.recorder.RecordSearch(ResultName(err), len(entries))
	if err != nil {
		logger.Info("Search failed", zap.Error(err))
		return nil, err
	}

	logger.Debug("Search completed", zap.Int("entries", len(entries)))

	return entries, nil
}

func (p *SearchProcessor) search(ctx context.Context, session *Session, req SearchRequest) ([]SearchEntry, error) {
	identity, ok := session.Identity()
	if !ok {
		return nil, newError(KindSearchBeforeBind, nil, "bind required before search")
	}

	expr, err := filter.Parse(req.Filter)
	if err != nil {
		return nil, newError(KindUnsupportedOperation, err, "unsupported filter")
	}

	baseDN, err := naming.Canonical(req.BaseDN)
	if err != nil {
		return nil, newError(KindMalformedDN, err, "invalid base dn")
	}

	if branch := p.translator.Branch(baseDN); branch != naming.BranchNone {
		if req.Scope == ScopeBase {
			return p.searchContainer(baseDN, branch, expr, req.Attributes)
		}

		snapshot, err := p.snapshot(ctx, identity)
		if err != nil {
			return nil, err
		}

		return p.searchBranch(snapshot, branch, expr, req.Attributes), nil
	}

	kind := p.translator.Classify(baseDN)
	if kind == naming.KindUnknown {
		return nil, newError(KindNoSuchEntry, nil, "no such object")
	}

	if req.Scope == ScopeOne {
		// Leaf entries have no children.
		return nil, nil
	}

	snapshot, err := p.snapshot(ctx, identity)
	if err != nil {
		return nil, err
	}

	entries := p.searchEntry(snapshot, baseDN, kind, expr, req.Attributes)
	if len(entries) == 0 && req.Scope == ScopeBase {
		return nil, newError(KindNoSuchEntry, nil, "no such object")
	}

	return entries, nil
}

func (p *SearchProcessor) snapshot(ctx context.Context, identity auth.Result) (*directory.Snapshot, error) {
	snapshot, _, err := p.source.Snapshot(ctx, identity)
	if err != nil {
		return nil, newError(KindBackendCommunication, err, "failed to load directory content")
	}

	return snapshot, nil
}

// searchContainer answers a base search on one of the synthesized container
// entries.
func (p *SearchProcessor) searchContainer(dn string, branch naming.Branch, expr filter.Expr, attributes []string) ([]SearchEntry, error) {
	entry := containerEntry(dn, branch)
	if !filter.Matches(entry, expr) {
		return nil, newError(KindNoSuchEntry, nil, "no such object")
	}

	return []SearchEntry{project(entry, attributes)}, nil
}

func (p *SearchProcessor) searchBranch(snapshot *directory.Snapshot, branch naming.Branch, expr filter.Expr, attributes []string) []SearchEntry {
	var collections []directory.Collection
	switch branch {
	case naming.BranchRoot:
		collections = []directory.Collection{directory.CollectionUsers, directory.CollectionGroups}
	case naming.BranchUsers:
		collections = []directory.Collection{directory.CollectionUsers}
	case naming.BranchGroups:
		collections = []directory.Collection{directory.CollectionGroups}
	default:
		// Service accounts are principals only and are never listed.
		return nil
	}

	var results []SearchEntry
	for _, c := range collections {
		for _, entry := range p.candidates(snapshot, c, expr) {
			entry = p.withDN(entry, c)
			if filter.Matches(entry, expr) {
				results = append(results, project(entry, attributes))
			}
		}
	}

	return results
}

// candidates narrows a collection to a single entry when the filter requires
// an equality on the naming attribute, and returns the whole collection
// otherwise. The naming attribute may carry more values than the one in the
// DN, so a miss falls back to the whole collection.
func (p *SearchProcessor) candidates(snapshot *directory.Snapshot, c directory.Collection, expr filter.Expr) []directory.Entry {
	tmpl := p.translator.Template(collectionKind(c))

	name, ok := p.translator.ExtractNameFromFilter(expr)
	if !ok || tmpl == nil || tmpl.Attribute != p.translator.NameAttribute() ||
		!filter.IsConjunct(expr, tmpl.Attribute, name) {
		return snapshot.Entries(c)
	}

	if entry, ok := snapshot.Find(c, tmpl.Format(name)); ok {
		return []directory.Entry{entry}
	}

	return snapshot.Entries(c)
}

func (p *SearchProcessor) searchEntry(snapshot *directory.Snapshot, dn string, kind naming.Kind, expr filter.Expr, attributes []string) []SearchEntry {
	var c directory.Collection
	switch kind {
	case naming.KindUser:
		c = directory.CollectionUsers
	case naming.KindGroup:
		c = directory.CollectionGroups
	default:
		return nil
	}

	entry, ok := snapshot.Find(c, dn)
	if !ok {
		return nil
	}

	entry = p.withDN(entry, c)
	if !filter.Matches(entry, expr) {
		return nil
	}

	return []SearchEntry{project(entry, attributes)}
}

func (p *SearchProcessor) withDN(entry directory.Entry, c directory.Collection) directory.Entry {
	if entry.DN() != "" {
		return entry
	}

	dn, err := p.translator.SynthesizeDN(entry, collectionKind(c))
	if err != nil {
		return entry
	}

	return entry.WithDN(dn)
}

func collectionKind(c directory.Collection) naming.Kind {
	if c == directory.CollectionGroups {
		return naming.KindGroup
	}
	return naming.KindUser
}

func containerEntry(dn string, branch naming.Branch) directory.Entry {
	objectClass := "organizationalUnit"
	if branch == naming.BranchRoot {
		objectClass = "domain"
	}

	entry := directory.Entry{
		directory.AttributeDN: {dn},
		"objectClass":         {"top", objectClass},
	}

	if parsed, err := ldap.ParseDN(dn); err == nil && len(parsed.RDNs) > 0 {
		for _, atv := range parsed.RDNs[0].Attributes {
			entry[atv.Type] = append(entry[atv.Type], atv.Value)
		}
	}

	return entry
}

// project keeps the requested attributes of entry. Names match exactly, as in
// filters. Requested attributes the entry lacks are returned with no values.
func project(entry directory.Entry, requested []string) SearchEntry {
	result := SearchEntry{
		DN:         entry.DN(),
		Attributes: make(map[string][]string),
	}

	all := len(requested) == 0
	for _, attr := range requested {
		if attr == AttributeAll {
			all = true
		}
	}

	if all {
		for name, values := range entry {
			if name != directory.AttributeDN {
				result.Attributes[name] = append([]string(nil), values...)
			}
		}
	}

	for _, attr := range requested {
		switch attr {
		case AttributeAll, AttributeNone, AttributeOperational:
			continue
		}

		values, ok := entry[attr]
		if !ok {
			result.Attributes[attr] = []string{}
			continue
		}

		result.Attributes[attr] = append([]string(nil), values...)
	}

	return result
}
