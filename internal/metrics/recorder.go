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

package metrics

import "time"

// Recorder receives gateway events worth counting.
type Recorder interface {
	// RecordBind records a bind attempt for a principal kind ("user",
	// "service" or "unknown") and its result code name.
	RecordBind(kind, result string)
	// RecordSearch records a finished search and how many entries it returned.
	RecordSearch(result string, entries int)
	// RecordCacheLookup records how a snapshot request was served.
	RecordCacheLookup(outcome string)
	// RecordBackendFetch records the duration of a snapshot fetch.
	RecordBackendFetch(d time.Duration, err error)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

// NewNoopRecorder returns a recorder for when metrics are disabled.
func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) RecordBind(kind, result string) {}

func (n *NoopRecorder) RecordSearch(result string, entries int) {}

func (n *NoopRecorder) RecordCacheLookup(outcome string) {}

func (n *NoopRecorder) RecordBackendFetch(d time.Duration, err error) {}

var _ Recorder = (*NoopRecorder)(nil)
