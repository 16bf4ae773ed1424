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
	"sort"
)

// AttributeDN is the synthesized attribute holding an entry's distinguished name.
const AttributeDN = "dn"

// Entry is a directory entry: attribute name to ordered values. Attribute
// names are case-sensitive.
type Entry map[string][]string

// DN returns the entry's distinguished name, or "" if it has none yet.
func (e Entry) DN() string {
	if v := e[AttributeDN]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// First returns the first value of attr, or "".
func (e Entry) First(attr string) string {
	if v := e[attr]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Has reports whether attr is present with at least one value.
func (e Entry) Has(attr string) bool {
	return len(e[attr]) > 0
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// WithDN returns a copy of the entry carrying dn.
func (e Entry) WithDN(dn string) Entry {
	out := e.Clone()
	out[AttributeDN] = []string{dn}
	return out
}

// AttributeNames returns the entry's attribute names in sorted order.
func (e Entry) AttributeNames() []string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
