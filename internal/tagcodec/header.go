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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ptindex/internal/common"
	"ptindex/internal/tagset"
)

const (
	// Magic opens every tagged file.
	Magic = "polytaxis00"

	unsizedMarker = "u\n"
	unsizedEnd    = "<<<<\n"
	sizeDigits    = 10

	// headerBlock is the granularity of sized headers so small tag edits can
	// usually be rewritten in place by other tools.
	headerBlock = 512
)

// Codec reads and writes the tag header of a file.
//
// GetTags returns ok=false when the path is not a regular file, has no
// header, or disappeared before it could be read. An empty set with ok=true
// means the header exists but holds no tags.
type Codec interface {
	GetTags(path string) (tags tagset.Set, ok bool, err error)
	SetTags(path string, tags tagset.Set) error
}

// HeaderCodec implements Codec for the polytaxis header format.
type HeaderCodec struct{}

// NewHeaderCodec returns the default file header codec.
func NewHeaderCodec() *HeaderCodec {
	return &HeaderCodec{}
}

func (HeaderCodec) GetTags(path string) (tagset.Set, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if common.IsGone(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}

	tags, _, ok, err := ReadHeader(bufio.NewReader(f))
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return tags, ok, nil
}

const tempInfix = ".tags-"

// IsTempFile reports whether path names a temporary file left by SetTags
// while it rewrites a header.
func IsTempFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && strings.Contains(base, tempInfix)
}

// SetTags replaces the header of path, adding one if the file has none. The
// file is rewritten through a temporary sibling and renamed into place.
func (HeaderCodec) SetTags(path string, tags tagset.Set) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	body := bufio.NewReader(src)
	if _, _, _, err := ReadHeader(body); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+tempInfix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := WriteHeader(tmp, tags); err != nil {
		cleanup()
		return err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadHeader parses a header from the start of r. It reports the number of
// bytes the header occupies. ok is false when r does not start with Magic, in
// which case nothing has been consumed.
func ReadHeader(r *bufio.Reader) (tags tagset.Set, n int, ok bool, err error) {
	magic, err := r.Peek(len(Magic))
	if err != nil || string(magic) != Magic {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, 0, false, err
		}
		return nil, 0, false, nil
	}
	if _, err := r.Discard(len(Magic)); err != nil {
		return nil, 0, false, err
	}
	n = len(Magic)

	first, err := r.Peek(1)
	if err != nil {
		return nil, 0, false, fmt.Errorf("truncated after magic: %w", ErrMalformedHeader)
	}

	if first[0] == unsizedMarker[0] {
		return readUnsized(r, n)
	}
	return readSized(r, n)
}

func readUnsized(r *bufio.Reader, n int) (tagset.Set, int, bool, error) {
	marker := make([]byte, len(unsizedMarker))
	if _, err := io.ReadFull(r, marker); err != nil || string(marker) != unsizedMarker {
		return nil, 0, false, fmt.Errorf("bad unsized marker: %w", ErrMalformedHeader)
	}
	n += len(marker)

	var body bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		n += len(line)
		if line == unsizedEnd {
			break
		}
		if err != nil {
			return nil, 0, false, fmt.Errorf("missing header terminator: %w", ErrMalformedHeader)
		}
		body.WriteString(line)
	}

	tags, err := DecodeTags(body.String())
	if err != nil {
		return nil, 0, false, err
	}
	return tags, n, true, nil
}

func readSized(r *bufio.Reader, n int) (tagset.Set, int, bool, error) {
	prefix := make([]byte, sizeDigits+1)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, 0, false, fmt.Errorf("truncated size: %w", ErrMalformedHeader)
	}
	if prefix[sizeDigits] != '\n' {
		return nil, 0, false, fmt.Errorf("size not terminated: %w", ErrMalformedHeader)
	}
	size, err := strconv.ParseUint(string(prefix[:sizeDigits]), 10, 32)
	if err != nil {
		return nil, 0, false, fmt.Errorf("bad size %q: %w", prefix[:sizeDigits], ErrMalformedHeader)
	}
	n += len(prefix)

	// The declared size is untrusted: grow with the bytes actually present.
	var body bytes.Buffer
	got, err := body.ReadFrom(io.LimitReader(r, int64(size)))
	if err != nil || got < int64(size) {
		return nil, 0, false, fmt.Errorf("header shorter than %d bytes: %w", size, ErrMalformedHeader)
	}
	n += body.Len()

	tags, err := DecodeTags(body.String())
	if err != nil {
		return nil, 0, false, err
	}
	return tags, n, true, nil
}

// WriteHeader writes a sized header for tags, padding the tag block with NUL
// bytes up to the next block boundary.
func WriteHeader(w io.Writer, tags tagset.Set) error {
	encoded := EncodeTags(tags)
	size := (len(encoded)/headerBlock + 1) * headerBlock

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s%0*d\n", Magic, sizeDigits, size)
	bw.WriteString(encoded)
	bw.Write(make([]byte, size-len(encoded)))
	return bw.Flush()
}
