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
	"errors"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// ErrUnsupported is returned for well formed filters that cannot be evaluated,
// such as extensible matches.
var ErrUnsupported = errors.New("unsupported filter")

// Parse parses an RFC 4515 filter string.
func Parse(s string) (Expr, error) {
	packet, err := ldap.CompileFilter(s)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", s, err)
	}

	return fromPacket(packet)
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Expr {
	expr, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return expr
}

func fromPacket(packet *ber.Packet) (Expr, error) {
	if packet.ClassType != ber.ClassContext {
		return nil, fmt.Errorf("unexpected filter packet class %d", packet.ClassType)
	}

	switch packet.Tag {
	case ldap.FilterAnd, ldap.FilterOr:
		children := make([]Expr, 0, len(packet.Children))
		for _, child := range packet.Children {
			expr, err := fromPacket(child)
			if err != nil {
				return nil, err
			}
			children = append(children, expr)
		}
		if packet.Tag == ldap.FilterAnd {
			return And{Children: children}, nil
		}
		return Or{Children: children}, nil
	case ldap.FilterNot:
		if len(packet.Children) != 1 {
			return nil, fmt.Errorf("not filter must have exactly one child, got %d", len(packet.Children))
		}
		child, err := fromPacket(packet.Children[0])
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case ldap.FilterEqualityMatch, ldap.FilterApproxMatch, ldap.FilterGreaterOrEqual, ldap.FilterLessOrEqual:
		attr, value, err := attributeValueAssertion(packet)
		if err != nil {
			return nil, err
		}
		switch packet.Tag {
		case ldap.FilterGreaterOrEqual:
			return Ordering{Attribute: attr, Op: GreaterOrEqual, Value: value}, nil
		case ldap.FilterLessOrEqual:
			return Ordering{Attribute: attr, Op: LessOrEqual, Value: value}, nil
		default:
			return Equality{Attribute: attr, Value: value}, nil
		}
	case ldap.FilterPresent:
		return Presence{Attribute: packet.Data.String()}, nil
	case ldap.FilterSubstrings:
		return substringFromPacket(packet)
	case ldap.FilterExtensibleMatch:
		return nil, fmt.Errorf("extensible match: %w", ErrUnsupported)
	default:
		return nil, fmt.Errorf("unknown filter tag %d: %w", packet.Tag, ErrUnsupported)
	}
}

func attributeValueAssertion(packet *ber.Packet) (string, string, error) {
	if len(packet.Children) != 2 {
		return "", "", fmt.Errorf("attribute value assertion must have two children, got %d", len(packet.Children))
	}

	return packet.Children[0].Data.String(), string(packet.Children[1].Data.Bytes()), nil
}

func substringFromPacket(packet *ber.Packet) (Expr, error) {
	if len(packet.Children) != 2 {
		return nil, fmt.Errorf("substring filter must have two children, got %d", len(packet.Children))
	}

	f := Substring{Attribute: packet.Children[0].Data.String()}
	for _, part := range packet.Children[1].Children {
		value := string(part.Data.Bytes())
		switch part.Tag {
		case ldap.FilterSubstringsInitial:
			f.Initial = &value
		case ldap.FilterSubstringsAny:
			f.Any = append(f.Any, value)
		case ldap.FilterSubstringsFinal:
			f.Final = &value
		default:
			return nil, fmt.Errorf("unknown substring tag %d", part.Tag)
		}
	}

	return f, nil
}
