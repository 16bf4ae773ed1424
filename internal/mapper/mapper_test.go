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

package mapper_test

import (
	"encoding/json"
	"testing"

	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/mapper"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapper(t *testing.T) {
	translator, err := naming.NewTranslator(naming.Options{
		BaseDN:        "dc=example,dc=com",
		UsersDN:       "ou=users,dc=example,dc=com",
		ServicesDN:    "ou=services,dc=example,dc=com",
		GroupsDN:      "ou=groups,dc=example,dc=com",
		NameAttribute: "uid",
	})
	require.NoError(t, err)

	m := mapper.New(translator)

	users := []backend.Record{
		{"userName": "u1", "name": "User One", "emailAddress": "u1@example.com", "isActive": true, "ignored": "x"},
		{"userName": "u2", "name": "User Two", "isActive": false, "telephoneNumber": nil},
		{"name": "No Username"},
		{"userName": "U1", "name": "Duplicate"},
	}
	groups := []backend.Record{
		{"name": "g1", "description": "First", "members": []any{"u1", "u2", "ghost"}},
		{"name": "g2", "members": []any{"u1", "u1"}},
	}

	userEntries, groupEntries, err := m.Build(users, groups)
	require.NoError(t, err)

	t.Run("Users", func(t *testing.T) {
		require.Len(t, userEntries, 2)

		u1 := userEntries[0]
		assert.Equal(t, "uid=u1,ou=users,dc=example,dc=com", u1.DN())
		assert.Equal(t, []string{"u1"}, u1["uid"])
		assert.Equal(t, []string{"User One"}, u1["cn"])
		assert.Equal(t, []string{"u1@example.com"}, u1["mail"])
		assert.Equal(t, []string{"TRUE"}, u1["active"])
		assert.Equal(t, []string{"top", "person", "organizationalPerson", "inetOrgPerson"}, u1["objectClass"])
		assert.NotContains(t, u1, "ignored")

		assert.Equal(t, []string{"FALSE"}, userEntries[1]["active"])
		assert.NotContains(t, userEntries[1], "telephoneNumber")
	})

	t.Run("Groups", func(t *testing.T) {
		require.Len(t, groupEntries, 2)

		g1 := groupEntries[0]
		assert.Equal(t, "uid=g1,ou=groups,dc=example,dc=com", g1.DN())
		assert.Equal(t, []string{"g1"}, g1["uid"])
		assert.Equal(t, []string{"g1"}, g1["cn"])
		assert.Equal(t, []string{"First"}, g1["description"])
		assert.Equal(t, []string{"top", "groupOfNames"}, g1["objectClass"])
		assert.Equal(t, []string{"u1", "u2", "ghost"}, g1[mapper.AttributeMemberUID])
	})

	t.Run("Membership", func(t *testing.T) {
		assert.Equal(t, []string{
			"uid=u1,ou=users,dc=example,dc=com",
			"uid=u2,ou=users,dc=example,dc=com",
		}, groupEntries[0][mapper.AttributeMember])
		assert.Equal(t, []string{"uid=u1,ou=users,dc=example,dc=com"}, groupEntries[1][mapper.AttributeMember])

		assert.Equal(t, []string{
			"uid=g1,ou=groups,dc=example,dc=com",
			"uid=g2,ou=groups,dc=example,dc=com",
		}, userEntries[0][mapper.AttributeMemberOf])
		assert.Equal(t, []string{"uid=g1,ou=groups,dc=example,dc=com"}, userEntries[1][mapper.AttributeMemberOf])
	})
}

func TestMapperNameAttribute(t *testing.T) {
	translator, err := naming.NewTranslator(naming.Options{
		BaseDN:        "dc=example,dc=com",
		UsersDN:       "ou=users,dc=example,dc=com",
		ServicesDN:    "ou=services,dc=example,dc=com",
		GroupsDN:      "ou=groups,dc=example,dc=com",
		NameAttribute: "sAMAccountName",
	})
	require.NoError(t, err)

	userEntries, groupEntries, err := mapper.New(translator).Build(
		[]backend.Record{{"userName": "u1", "name": "User One"}},
		[]backend.Record{{"name": "g1", "members": []any{"u1"}}},
	)
	require.NoError(t, err)

	require.Len(t, userEntries, 1)
	u1 := userEntries[0]
	assert.Equal(t, "samaccountname=u1,ou=users,dc=example,dc=com", u1.DN())
	assert.Equal(t, []string{"u1"}, u1["sAMAccountName"])
	assert.Equal(t, []string{"u1"}, u1["uid"])
	assert.Equal(t, []string{"User One"}, u1["cn"])
	assert.Equal(t, []string{"samaccountname=g1,ou=groups,dc=example,dc=com"}, u1[mapper.AttributeMemberOf])

	require.Len(t, groupEntries, 1)
	g1 := groupEntries[0]
	assert.Equal(t, []string{"g1"}, g1["sAMAccountName"])
	assert.Equal(t, []string{"g1"}, g1["cn"])
	assert.Equal(t, []string{"samaccountname=u1,ou=users,dc=example,dc=com"}, g1[mapper.AttributeMember])
}

func TestRender(t *testing.T) {
	assert.Nil(t, mapper.Render(nil))
	assert.Equal(t, []string{"x"}, mapper.Render("x"))
	assert.Equal(t, []string{"TRUE"}, mapper.Render(true))
	assert.Equal(t, []string{"42"}, mapper.Render(float64(42)))
	assert.Equal(t, []string{"1.5"}, mapper.Render(1.5))
	assert.Equal(t, []string{"7"}, mapper.Render(json.Number("7")))
	assert.Equal(t, []string{"a", "FALSE", "3"}, mapper.Render([]any{"a", false, nil, 3}))
	assert.Nil(t, mapper.Render(map[string]any{"a": 1}))
}
