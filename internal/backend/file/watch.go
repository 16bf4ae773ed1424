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

package file

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a burst of file events is coalesced for.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the file whenever it changes and passes the new content to
// onChange. It blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// editors and config-map updates that replace the file are noticed.
func (b *Backend) Watch(ctx context.Context, debounce time.Duration, onChange backend.ChangeFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	path, err := filepath.Abs(b.path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", b.path, err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	b.logger.Info("Watching identity file", zap.String("path", path))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("Identity file watcher error", zap.Error(err))
		case <-timerCh:
			timerCh = nil

			if err := b.Reload(); err != nil {
				b.logger.Error("Failed to reload identity file, keeping previous content",
					zap.String("path", path), zap.Error(err))
				continue
			}

			if onChange != nil {
				onChange(b.Content())
			}
		}
	}
}
