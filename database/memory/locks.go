/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package memory

import (
	"context"
	"sync"
)

// rowLocks hands out exclusive locks keyed by string. A waiter blocks until
// the holder releases or its context is done.
type rowLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newRowLocks() *rowLocks {
	return &rowLocks{held: make(map[string]chan struct{})}
}

func (l *rowLocks) acquire(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *rowLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if released, ok := l.held[key]; ok {
		close(released)
		delete(l.held, key)
	}
}
