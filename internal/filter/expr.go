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

	"github.com/go-ldap/ldap/v3"
)

// Expr is a parsed search filter.
type Expr interface {
	String() string
	isExpr()
}

// And matches when every child matches. An empty And always matches.
type And struct {
	Children []Expr
}

// Or matches when at least one child matches. An empty Or never matches.
type Or struct {
	Children []Expr
}

// Not negates its child.
type Not struct {
	Child Expr
}

// Equality matches when any value of Attribute equals Value exactly.
type Equality struct {
	Attribute string
	Value     string
}

// Presence matches when Attribute has at least one value.
type Presence struct {
	Attribute string
}

// Substring matches values of Attribute against an optional anchored
// Initial piece, ordered Any pieces and an optional anchored Final piece.
type Substring struct {
	Attribute string
	Initial   *string
	Any       []string
	Final     *string
}

// OrderingOp is the comparison of an Ordering filter.
type OrderingOp int

const (
	GreaterOrEqual OrderingOp = iota
	LessOrEqual
)

// Ordering compares values of Attribute with Value lexically.
type Ordering struct {
	Attribute string
	Op        OrderingOp
	Value     string
}

func (And) isExpr()       {}
func (Or) isExpr()        {}
func (Not) isExpr()       {}
func (Equality) isExpr()  {}
func (Presence) isExpr()  {}
func (Substring) isExpr() {}
func (Ordering) isExpr()  {}

func (f And) String() string {
	return "(&" + joinChildren(f.Children) + ")"
}

func (f Or) String() string {
	return "(|" + joinChildren(f.Children) + ")"
}

func (f Not) String() string {
	return "(!" + f.Child.String() + ")"
}

func (f Equality) String() string {
	return "(" + f.Attribute + "=" + ldap.EscapeFilter(f.Value) + ")"
}

func (f Presence) String() string {
	return "(" + f.Attribute + "=*)"
}

func (f Substring) String() string {
	var sb strings.Builder
	sb.WriteString("(" + f.Attribute + "=")
	if f.Initial != nil {
		sb.WriteString(ldap.EscapeFilter(*f.Initial))
	}
	sb.WriteString("*")
	for _, part := range f.Any {
		sb.WriteString(ldap.EscapeFilter(part))
		sb.WriteString("*")
	}
	if f.Final != nil {
		sb.WriteString(ldap.EscapeFilter(*f.Final))
	}
	sb.WriteString(")")
	return sb.String()
}

func (f Ordering) String() string {
	op := ">="
	if f.Op == LessOrEqual {
		op = "<="
	}
	return "(" + f.Attribute + op + ldap.EscapeFilter(f.Value) + ")"
}

func joinChildren(children []Expr) string {
	var sb strings.Builder
	for _, c := range children {
		sb.WriteString(c.String())
	}
	return sb.String()
}

// IsConjunct reports whether an Equality on attr with value is reachable from
// the root through And nodes only, i.e. whether every entry matching expr
// must also match that equality.
func IsConjunct(expr Expr, attr, value string) bool {
	switch f := expr.(type) {
	case Equality:
		return f.Attribute == attr && f.Value == value
	case And:
		for _, c := range f.Children {
			if IsConjunct(c, attr, value) {
				return true
			}
		}
	}
	return false
}

// Walk visits expr depth first, left to right. Traversal stops when visit
// returns false.
func Walk(expr Expr, visit func(Expr) bool) bool {
	if !visit(expr) {
		return false
	}

	switch f := expr.(type) {
	case And:
		for _, c := range f.Children {
			if !Walk(c, visit) {
				return false
			}
		}
	case Or:
		for _, c := range f.Children {
			if !Walk(c, visit) {
				return false
			}
		}
	case Not:
		return Walk(f.Child, visit)
	}

	return true
}
