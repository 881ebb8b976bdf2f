// Copyright 2024 ptindex Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package util holds the retry helpers shared by the indexer and the query
// engine.
package util

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// lockMarkers are the driver messages for a contended SQLite database.
var lockMarkers = []string{
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
}

// backoff builds exponential backoff options that retry only lock errors.
func backoff(ctx context.Context, attempts uint, delay, maxDelay time.Duration) []retry.Option {
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsDatabaseLocked),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// DatabaseRetryOptions returns retry options for index writes: three attempts,
// 100ms to 300ms apart.
func DatabaseRetryOptions(ctx context.Context) []retry.Option {
	return backoff(ctx, 3, 100*time.Millisecond, 300*time.Millisecond)
}

// QueryRetryOptions returns retry options for read-only queries. A reader can
// sit behind a long indexing transaction, so it waits longer than a writer.
func QueryRetryOptions(ctx context.Context) []retry.Option {
	return backoff(ctx, 6, 50*time.Millisecond, 2*time.Second)
}

// Retry runs fn until it succeeds or opts give up. Without opts it uses
// DatabaseRetryOptions.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = DatabaseRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// RetryWithResult is Retry for functions returning a value.
func RetryWithResult[T any](ctx context.Context, fn func() (T, error), opts ...retry.Option) (T, error) {
	if len(opts) == 0 {
		opts = DatabaseRetryOptions(ctx)
	}
	return retry.DoWithData(fn, opts...)
}

// IsDatabaseLocked reports whether err comes from a busy or locked database.
func IsDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range lockMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
