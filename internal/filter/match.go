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

package filter

import (
	"strings"
)

// Entry is the attribute view the evaluator needs.
type Entry interface {
	~map[string][]string
}

// Matches reports whether entry satisfies expr. Attribute names and values are
// compared case-sensitively. A missing attribute never satisfies an Equality,
// Substring or Ordering, and is absent for Presence.
func Matches[E Entry](entry E, expr Expr) bool {
	switch f := expr.(type) {
	case And:
		for _, c := range f.Children {
			if !Matches(entry, c) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range f.Children {
			if Matches(entry, c) {
				return true
			}
		}
		return false
	case Not:
		return !Matches(entry, f.Child)
	case Equality:
		for _, v := range entry[f.Attribute] {
			if v == f.Value {
				return true
			}
		}
		return false
	case Presence:
		return len(entry[f.Attribute]) > 0
	case Substring:
		for _, v := range entry[f.Attribute] {
			if matchSubstring(v, f) {
				return true
			}
		}
		return false
	case Ordering:
		for _, v := range entry[f.Attribute] {
			if f.Op == GreaterOrEqual && v >= f.Value {
				return true
			}
			if f.Op == LessOrEqual && v <= f.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchSubstring(v string, f Substring) bool {
	rest := v

	if f.Initial != nil {
		if !strings.HasPrefix(rest, *f.Initial) {
			return false
		}
		rest = rest[len(*f.Initial):]
	}

	for _, part := range f.Any {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}

	if f.Final != nil {
		return strings.HasSuffix(rest, *f.Final)
	}

	return true
}
