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

package tagcodec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"ptindex/internal/tagset"
)

// Untagged is the posting stored for a file whose header holds no tags.
const Untagged = "untagged"

var ErrMalformedHeader = errors.New("malformed tag header")

// EncodeTag renders one (key, value) pair as a tag string: "key=value", or the
// bare key when the value is empty.
func EncodeTag(key, value string) string {
	if value == "" {
		return key
	}
	return key + "=" + value
}

// DecodeTag splits a tag string at its first '='.
func DecodeTag(tag string) (key, value string) {
	key, value, _ = strings.Cut(tag, "=")
	return key, value
}

// EncodeTags renders a tag set as newline-terminated tag lines in ascending
// order. The empty set encodes to the empty string.
func EncodeTags(s tagset.Set) string {
	var b strings.Builder
	for _, p := range s.Pairs() {
		b.WriteString(EncodeTag(p.Key, p.Value))
		b.WriteByte('\n')
	}
	return b.String()
}

// DecodeTags parses tag lines. Blank lines are ignored and trailing NUL padding
// ends the data.
func DecodeTags(blob string) (tagset.Set, error) {
	if i := strings.IndexByte(blob, 0); i >= 0 {
		if strings.Trim(blob[i:], "\x00") != "" {
			return nil, fmt.Errorf("data after padding: %w", ErrMalformedHeader)
		}
		blob = blob[:i]
	}
	if !utf8.ValidString(blob) {
		return nil, fmt.Errorf("invalid utf-8: %w", ErrMalformedHeader)
	}
	s := tagset.New()
	for line := range strings.SplitSeq(blob, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		key, value := DecodeTag(line)
		if key == "" {
			return nil, fmt.Errorf("tag %q has no key: %w", line, ErrMalformedHeader)
		}
		s.Add(key, value)
	}
	return s, nil
}

// Postings returns the posting strings stored for a tag set: one per pair, or
// the single Untagged sentinel for an empty set.
func Postings(s tagset.Set) []string {
	if s.Len() == 0 {
		return []string{Untagged}
	}
	out := make([]string, 0, s.Len())
	for _, p := range s.Pairs() {
		out = append(out, EncodeTag(p.Key, p.Value))
	}
	return out
}
