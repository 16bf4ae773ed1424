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
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// ResultConnectError is the client-library result code for a failed upstream
// connection. go-ldap has no constant for it.
const ResultConnectError = 91

// ErrorKind classifies every failure a request can end with.
type ErrorKind int

const (
	KindInvalidCredentials ErrorKind = iota
	KindMalformedDN
	KindBackendCommunication
	KindNoSuchEntry
	KindUnsupportedOperation
	KindSearchBeforeBind
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalidCredentials"
	case KindMalformedDN:
		return "invalidDNSyntax"
	case KindBackendCommunication:
		return "connectError"
	case KindNoSuchEntry:
		return "noSuchObject"
	case KindUnsupportedOperation:
		return "unwillingToPerform"
	case KindSearchBeforeBind:
		return "insufficientAccessRights"
	default:
		return "other"
	}
}

// ResultCode returns the protocol result code for the kind.
func (k ErrorKind) ResultCode() int {
	switch k {
	case KindInvalidCredentials:
		return ldap.LDAPResultInvalidCredentials
	case KindMalformedDN:
		return ldap.LDAPResultInvalidDNSyntax
	case KindBackendCommunication:
		return ResultConnectError
	case KindNoSuchEntry:
		return ldap.LDAPResultNoSuchObject
	case KindUnsupportedOperation:
		return ldap.LDAPResultUnwillingToPerform
	case KindSearchBeforeBind:
		return ldap.LDAPResultInsufficientAccessRights
	default:
		return ldap.LDAPResultOther
	}
}

// Error is a classified request failure. Message is safe to send to the
// client; Err is the underlying cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ResultCode returns the protocol result code for err: success for nil, the
// kind's code for an *Error and other for anything else.
func ResultCode(err error) int {
	if err == nil {
		return ldap.LDAPResultSuccess
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind.ResultCode()
	}

	return ldap.LDAPResultOther
}

// ResultName returns a short name for the outcome of err, used as a metric
// label.
func ResultName(err error) string {
	if err == nil {
		return "success"
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind.String()
	}

	return "other"
}

// DiagnosticMessage returns the client-facing message for err.
func DiagnosticMessage(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	if err != nil {
		return "internal error"
	}
	return ""
}
