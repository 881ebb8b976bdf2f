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

// Package cache provides the in-memory caches used while answering queries.
package cache

import "os"

// Disabled turns every cache into a permanent miss.
// Set via PTINDEX_CACHE=0. Useful to rule out stale entries when debugging.
var Disabled = os.Getenv("PTINDEX_CACHE") == "0"
