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

package mapper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/directory"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	AttributeObjectClass = "objectClass"
	AttributeMemberOf    = "memberof"
	AttributeMember      = "member"
	AttributeMemberUID   = "memberUid"
)

// Field maps one backend record field onto one or more directory attributes.
type Field struct {
	Source  string
	Targets []string
}

// UserFields is the field mapping table for user records.
var UserFields = []Field{
	{Source: "userName", Targets: []string{"uid"}},
	{Source: "name", Targets: []string{"cn"}},
	{Source: "emailAddress", Targets: []string{"mail"}},
	{Source: "isActive", Targets: []string{"active"}},
	{Source: "firstName", Targets: []string{"givenName"}},
	{Source: "lastName", Targets: []string{"sn"}},
	{Source: "displayName", Targets: []string{"displayName"}},
	{Source: "telephoneNumber", Targets: []string{"telephoneNumber"}},
}

// GroupFields is the field mapping table for group records.
var GroupFields = []Field{
	{Source: "name", Targets: []string{"uid", "cn"}},
	{Source: "description", Targets: []string{"description"}},
	{Source: "members", Targets: []string{AttributeMemberUID}},
}

var (
	userObjectClasses  = []string{"top", "person", "organizationalPerson", "inetOrgPerson"}
	groupObjectClasses = []string{"top", "groupOfNames"}
)

// Mapper shapes backend records into directory entries.
type Mapper struct {
	translator  *naming.Translator
	userFields  []Field
	groupFields []Field
}

// New returns a mapper using the default field tables.
func New(translator *naming.Translator) *Mapper {
	return (&Mapper{translator: translator}).WithFields(UserFields, GroupFields)
}

// WithFields returns a copy of the mapper using custom field tables. The
// userName of users and the name of groups always become the first value of
// the translator's naming attributes, so that entry DNs agree with bind DNs.
func (m *Mapper) WithFields(userFields, groupFields []Field) *Mapper {
	return &Mapper{
		translator:  m.translator,
		userFields:  withNaming(userFields, "userName", m.translator.Template(naming.KindUser).Attribute),
		groupFields: withNaming(groupFields, "name", m.translator.Template(naming.KindGroup).Attribute),
	}
}

// withNaming prepends source -> attr to fields and spells every other target
// matching attr the same way.
func withNaming(fields []Field, source, attr string) []Field {
	out := make([]Field, 0, len(fields)+1)
	out = append(out, Field{Source: source, Targets: []string{attr}})

	for _, f := range fields {
		targets := make([]string, 0, len(f.Targets))
		for _, target := range f.Targets {
			if strings.EqualFold(target, attr) {
				if f.Source == source {
					continue
				}
				target = attr
			}
			targets = append(targets, target)
		}

		if len(targets) > 0 {
			out = append(out, Field{Source: f.Source, Targets: targets})
		}
	}

	return out
}

// Build maps the records and fills in the membership cross reference: every
// user gets the DNs of the groups listing its userName in memberof, and every group
// gets the DNs of its existing members in member. Records without a naming
// value, and later records repeating a name, are skipped.
func (m *Mapper) Build(users, groups []backend.Record) ([]directory.Entry, []directory.Entry, error) {
	userEntries, err := m.mapAll(users, m.userFields, userObjectClasses, naming.KindUser)
	if err != nil {
		return nil, nil, err
	}

	groupEntries, err := m.mapAll(groups, m.groupFields, groupObjectClasses, naming.KindGroup)
	if err != nil {
		return nil, nil, err
	}

	// The first naming value is the userName group members refer to.
	nameAttr := m.translator.Template(naming.KindUser).Attribute
	usersByName := make(map[string]directory.Entry, len(userEntries))
	for _, u := range userEntries {
		usersByName[u.First(nameAttr)] = u
	}

	memberOf := make(map[string]sets.Set[string], len(userEntries))
	for _, g := range groupEntries {
		groupDN := g.DN()
		seen := sets.New[string]()
		for _, name := range g[AttributeMemberUID] {
			u, ok := usersByName[name]
			if !ok || seen.Has(name) {
				continue
			}
			seen.Insert(name)

			g[AttributeMember] = append(g[AttributeMember], u.DN())

			if memberOf[name] == nil {
				memberOf[name] = sets.New[string]()
			}
			if !memberOf[name].Has(groupDN) {
				memberOf[name].Insert(groupDN)
				u[AttributeMemberOf] = append(u[AttributeMemberOf], groupDN)
			}
		}
	}

	return userEntries, groupEntries, nil
}

func (m *Mapper) mapAll(records []backend.Record, fields []Field, objectClasses []string, kind naming.Kind) ([]directory.Entry, error) {
	entries := make([]directory.Entry, 0, len(records))
	seen := sets.New[string]()

	for _, record := range records {
		entry := MapRecord(record, fields)
		entry[AttributeObjectClass] = append([]string(nil), objectClasses...)

		dn, err := m.translator.SynthesizeDN(entry, kind)
		if err != nil {
			continue
		}

		// DNs compare case-insensitively.
		key := strings.ToLower(dn)
		if seen.Has(key) {
			continue
		}
		seen.Insert(key)

		entry[directory.AttributeDN] = []string{dn}
		entries = append(entries, entry)
	}

	return entries, nil
}

// MapRecord applies a field table to a single record.
func MapRecord(record backend.Record, fields []Field) directory.Entry {
	entry := make(directory.Entry, len(fields))
	for _, f := range fields {
		v, ok := record[f.Source]
		if !ok {
			continue
		}

		values := Render(v)
		if len(values) == 0 {
			continue
		}

		for _, target := range f.Targets {
			entry[target] = append(entry[target], values...)
		}
	}

	return entry
}

// Render converts a decoded record value into attribute values.
func Render(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case bool:
		if v {
			return []string{"TRUE"}
		}
		return []string{"FALSE"}
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case int:
		return []string{strconv.Itoa(v)}
	case int64:
		return []string{strconv.FormatInt(v, 10)}
	case json.Number:
		return []string{v.String()}
	case []string:
		return append([]string(nil), v...)
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, Render(item)...)
		}
		return out
	case map[string]any:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}
