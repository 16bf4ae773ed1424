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
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Canonical parses dn and renders it back with lower-case attribute types,
// no insignificant spaces and RFC 4514 escaping, so that equivalent spellings
// of one DN compare equal.
func Canonical(dn string) (string, error) {
	if strings.TrimSpace(dn) == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("failed to parse %q: %v: %w", dn, err, ErrMalformedDN)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, atv := range rdn.Attributes {
			attrs = append(attrs, strings.ToLower(atv.Type)+"="+EscapeValue(atv.Value))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return strings.Join(rdns, ","), nil
}

// EscapeValue escapes an attribute value for use in a DN (RFC 4514 section 2.4).
func EscapeValue(v string) string {
	var sb strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '\\' || c == ',' || c == '+' || c == '"' || c == '<' || c == '>' || c == ';' || c == '=':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '#' && i == 0:
			sb.WriteString(`\#`)
		case c == ' ' && (i == 0 || i == len(v)-1):
			sb.WriteString(`\ `)
		case c == 0:
			sb.WriteString(`\00`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
