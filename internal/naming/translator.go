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

package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/filter"
)

// ErrMalformedDN is returned when a DN cannot be parsed or does not fit the
// template it is expected to match.
var ErrMalformedDN = errors.New("malformed distinguished name")

// Kind is the kind of entry a DN names.
type Kind int

const (
	KindUnknown Kind = iota
	KindUser
	KindService
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindService:
		return "service"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Principal returns the authentication kind for principal kinds.
func (k Kind) Principal() (auth.Kind, bool) {
	switch k {
	case KindUser:
		return auth.KindUser, true
	case KindService:
		return auth.KindService, true
	default:
		return auth.KindNegative, false
	}
}

// Branch is a container DN of the synthesized tree.
type Branch int

const (
	BranchNone Branch = iota
	BranchRoot
	BranchUsers
	BranchServices
	BranchGroups
)

func (b Branch) String() string {
	switch b {
	case BranchRoot:
		return "root"
	case BranchUsers:
		return "users"
	case BranchServices:
		return "services"
	case BranchGroups:
		return "groups"
	default:
		return "none"
	}
}

// Options describes the synthesized tree.
type Options struct {
	BaseDN     string
	UsersDN    string
	ServicesDN string
	GroupsDN   string
	// NameAttribute is the naming attribute of every template (commonly uid).
	NameAttribute string
	// GroupNameAttribute overrides NameAttribute for groups.
	GroupNameAttribute string
}

// Template is "attribute=value,suffix" for one kind of entry.
type Template struct {
	Kind      Kind
	Attribute string
	Suffix    string

	pattern *regexp.Regexp
}

// Translator maps between DNs and backend identity names.
type Translator struct {
	nameAttribute string
	templates     []*Template
	containers    []container
}

type container struct {
	branch Branch
	dn     string
}

// NewTranslator compiles the templates described by opts.
func NewTranslator(opts Options) (*Translator, error) {
	if opts.NameAttribute == "" {
		return nil, fmt.Errorf("name attribute is required")
	}

	groupAttr := opts.GroupNameAttribute
	if groupAttr == "" {
		groupAttr = opts.NameAttribute
	}

	t := &Translator{
		nameAttribute: opts.NameAttribute,
	}

	containers := []container{
		{BranchRoot, opts.BaseDN},
		{BranchUsers, opts.UsersDN},
		{BranchServices, opts.ServicesDN},
		{BranchGroups, opts.GroupsDN},
	}
	for _, c := range containers {
		canonical, err := Canonical(c.dn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s dn: %w", c.branch, err)
		}
		t.containers = append(t.containers, container{branch: c.branch, dn: canonical})
	}

	// Order is the classification priority.
	specs := []struct {
		kind   Kind
		attr   string
		suffix string
	}{
		{KindUser, opts.NameAttribute, opts.UsersDN},
		{KindService, opts.NameAttribute, opts.ServicesDN},
		{KindGroup, groupAttr, opts.GroupsDN},
	}
	for _, s := range specs {
		tmpl, err := newTemplate(s.kind, s.attr, s.suffix)
		if err != nil {
			return nil, err
		}
		t.templates = append(t.templates, tmpl)
	}

	return t, nil
}

func newTemplate(kind Kind, attr, suffix string) (*Template, error) {
	canonicalSuffix, err := Canonical(suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s suffix: %w", kind, err)
	}

	expr := `(?i)^` + regexp.QuoteMeta(strings.ToLower(attr)) + `=((?:[^,+\\]|\\.)+)`
	if canonicalSuffix != "" {
		expr += `,` + regexp.QuoteMeta(canonicalSuffix)
	}
	expr += `$`

	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s pattern: %w", kind, err)
	}

	return &Template{
		Kind:      kind,
		Attribute: attr,
		Suffix:    canonicalSuffix,
		pattern:   pattern,
	}, nil
}

// NameAttribute returns the main name attribute.
func (t *Translator) NameAttribute() string {
	return t.nameAttribute
}

// Template returns the template for kind, or nil.
func (t *Translator) Template(kind Kind) *Template {
	for _, tmpl := range t.templates {
		if tmpl.Kind == kind {
			return tmpl
		}
	}
	return nil
}

// Classify returns the kind of entry dn names. The first matching template
// wins; KindUnknown is returned when none match or dn cannot be parsed.
func (t *Translator) Classify(dn string) Kind {
	canonical, err := Canonical(dn)
	if err != nil {
		return KindUnknown
	}

	for _, tmpl := range t.templates {
		if tmpl.pattern.MatchString(canonical) {
			return tmpl.Kind
		}
	}

	return KindUnknown
}

// ExtractName returns the (unescaped) naming value of dn according to the
// template of kind.
func (t *Translator) ExtractName(dn string, kind Kind) (string, error) {
	tmpl := t.Template(kind)
	if tmpl == nil {
		return "", fmt.Errorf("no template for %s: %w", kind, ErrMalformedDN)
	}

	canonical, err := Canonical(dn)
	if err != nil {
		return "", err
	}

	m := tmpl.pattern.FindStringSubmatch(canonical)
	if m == nil {
		return "", fmt.Errorf("%q is not a %s dn: %w", dn, kind, ErrMalformedDN)
	}

	rdn, err := ldap.ParseDN(tmpl.Attribute + "=" + m[1])
	if err != nil || len(rdn.RDNs) != 1 || len(rdn.RDNs[0].Attributes) != 1 {
		return "", fmt.Errorf("failed to unescape %q: %w", m[1], ErrMalformedDN)
	}

	return rdn.RDNs[0].Attributes[0].Value, nil
}

// SynthesizeDN formats the template of kind with the entry's naming value.
func (t *Translator) SynthesizeDN(entry map[string][]string, kind Kind) (string, error) {
	tmpl := t.Template(kind)
	if tmpl == nil {
		return "", fmt.Errorf("no template for %s", kind)
	}

	values := entry[tmpl.Attribute]
	if len(values) == 0 || values[0] == "" {
		return "", fmt.Errorf("entry has no %s value", tmpl.Attribute)
	}

	return tmpl.Format(values[0]), nil
}

// Format renders the template for a naming value.
func (tmpl *Template) Format(name string) string {
	rdn := strings.ToLower(tmpl.Attribute) + "=" + EscapeValue(name)
	if tmpl.Suffix == "" {
		return rdn
	}
	return rdn + "," + tmpl.Suffix
}

// ExtractNameFromFilter returns the value of the first equality assertion on
// the main name attribute, searching depth first from the left. The second
// return value is false when there is none.
func (t *Translator) ExtractNameFromFilter(expr filter.Expr) (string, bool) {
	var (
		name  string
		found bool
	)

	filter.Walk(expr, func(e filter.Expr) bool {
		if eq, ok := e.(filter.Equality); ok && eq.Attribute == t.nameAttribute {
			name, found = eq.Value, true
			return false
		}
		return true
	})

	return name, found
}

// Branch returns the container the DN names, or BranchNone.
func (t *Translator) Branch(dn string) Branch {
	canonical, err := Canonical(dn)
	if err != nil {
		return BranchNone
	}

	// Earlier containers win when two branches share a DN.
	for _, c := range t.containers {
		if strings.EqualFold(c.dn, canonical) {
			return c.branch
		}
	}

	return BranchNone
}

// ContainerDN returns the configured DN of a branch.
func (t *Translator) ContainerDN(b Branch) string {
	for _, c := range t.containers {
		if c.branch == b {
			return c.dn
		}
	}
	return ""
}
