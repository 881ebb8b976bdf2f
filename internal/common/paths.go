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

package common

import (
	"fmt"
	"path"
	"runtime"
	"strings"
)

// PosixRoot is the root segment of every POSIX path in the index.
const PosixRoot = "/"

// IsDrive reports whether seg is a drive-letter root segment such as "c:".
func IsDrive(seg string) bool {
	if len(seg) != 2 || seg[1] != ':' {
		return false
	}
	c := seg[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsNativeRoot reports whether a root segment names a filesystem of the
// running platform: drives on Windows, "/" everywhere else.
func IsNativeRoot(seg string) bool {
	if runtime.GOOS == "windows" {
		return IsDrive(seg)
	}
	return seg == PosixRoot
}

// isDrivePath reports whether p starts with a drive root ("c:\..." or "c:/...").
// A bare "c:" or "c:foo" is relative to the drive's current directory.
func isDrivePath(p string) bool {
	return len(p) >= 3 && IsDrive(p[:2]) && (p[2] == '\\' || p[2] == '/')
}

// SplitAbsPath splits an absolute path into its segments, root first.
//
//	/a/b/c.txt     -> ["/", "a", "b", "c.txt"]
//	c:\a\b\c.txt   -> ["c:", "a", "b", "c.txt"]
//
// Drive-letter paths are recognised on every platform so an index built on one
// system can still be read on another. Relative paths are rejected.
func SplitAbsPath(p string) ([]string, error) {
	if isDrivePath(p) {
		segments := []string{p[:2]}
		rest := strings.ReplaceAll(p[2:], `\`, "/")
		return appendCleanSegments(segments, rest), nil
	}
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	return appendCleanSegments([]string{PosixRoot}, p), nil
}

// appendCleanSegments appends the components of a slash separated path,
// resolving "." and ".." without ever climbing above the root segment.
func appendCleanSegments(segments []string, p string) []string {
	for _, part := range strings.Split(path.Clean("/"+p), "/") {
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	return segments
}

// JoinSegments is the inverse of SplitAbsPath.
func JoinSegments(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	root, rest := segments[0], segments[1:]
	if IsDrive(root) {
		return root + `\` + strings.Join(rest, `\`)
	}
	if len(rest) == 0 {
		return root
	}
	return strings.TrimSuffix(root, "/") + "/" + strings.Join(rest, "/")
}
