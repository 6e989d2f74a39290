// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package share models the operator-declared share roots, their on-wire
// masking, and the file records kept in the index.
package share

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Separator is the path separator used on the wire, regardless of host OS.
const Separator = "\\"

// A Share is one declared share root. The local path is what we crawl; the
// remote path is the prefix remote peers see instead. Excluded shares
// contribute only their local path, as a subtree to hide from enclosing
// shares.
type Share struct {
	Raw        string
	Alias      string
	LocalPath  string
	RemotePath string
	Mask       string
	IsExcluded bool
}

// Parse interprets a raw share declaration. The forms are:
//
//	/path/to/dir             share under the alias "dir"
//	[books]/path/to/dir      share under the alias "books"
//	-/path/to/dir            exclude the subtree from enclosing shares
//	![old]/path/to/dir       exclusions take an alias too, it is ignored
//
// The local path is cleaned and Unicode-normalized so that equivalent
// declarations produce identical shares.
func Parse(raw string) (*Share, error) {
	decl := strings.TrimSpace(raw)
	if decl == "" {
		return nil, fmt.Errorf("parse share %q: empty declaration", raw)
	}

	excluded := false
	if decl[0] == '-' || decl[0] == '!' {
		excluded = true
		decl = decl[1:]
	}

	alias := ""
	if strings.HasPrefix(decl, "[") {
		end := strings.Index(decl, "]")
		if end < 0 {
			return nil, fmt.Errorf("parse share %q: unterminated alias", raw)
		}
		alias = decl[1:end]
		decl = decl[end+1:]
	}

	if decl == "" {
		return nil, fmt.Errorf("parse share %q: missing path", raw)
	}

	local := filepath.Clean(norm.NFC.String(decl))
	if alias == "" {
		alias = filepath.Base(local)
	}
	if err := checkAlias(alias); err != nil {
		return nil, fmt.Errorf("parse share %q: %w", raw, err)
	}

	return &Share{
		Raw:        raw,
		Alias:      alias,
		LocalPath:  local,
		RemotePath: alias,
		Mask:       stableHash5(filepath.Dir(local)),
		IsExcluded: excluded,
	}, nil
}

func checkAlias(alias string) error {
	switch {
	case alias == "" || alias == "." || alias == string(filepath.Separator):
		return fmt.Errorf("invalid alias %q", alias)
	case strings.ContainsAny(alias, `/\`):
		return fmt.Errorf("alias %q contains a path separator", alias)
	}
	return nil
}

const maskAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

// stableHash5 derives a five character token from s, stable across runs and
// platforms.
func stableHash5(s string) string {
	h := xxhash.Sum64String(s)
	var b [5]byte
	for i := range b {
		b[i] = maskAlphabet[h&31]
		h >>= 5
	}
	return string(b[:])
}

// MaskPath translates a local path inside the share to its wire form,
// replacing the share's local path with its remote path and normalizing
// separators. The second return is false when the path is not inside the
// share.
func (s *Share) MaskPath(local string) (string, bool) {
	rel, ok := relWithin(local, s.LocalPath)
	if !ok {
		return "", false
	}
	if rel == "" {
		return s.RemotePath, true
	}
	return s.RemotePath + Separator + ToWire(rel), true
}

// UnmaskPath inverts MaskPath. The second return is false when the masked
// path does not belong to this share.
func (s *Share) UnmaskPath(masked string) (string, bool) {
	switch {
	case masked == s.RemotePath:
		return s.LocalPath, true
	case strings.HasPrefix(masked, s.RemotePath+Separator):
		rel := masked[len(s.RemotePath)+1:]
		return filepath.Join(s.LocalPath, FromWire(rel)), true
	default:
		return "", false
	}
}

// ContainsLocal reports whether the local path is the share root or inside
// it.
func (s *Share) ContainsLocal(local string) bool {
	_, ok := relWithin(local, s.LocalPath)
	return ok
}

func (s *Share) String() string {
	if s.IsExcluded {
		return fmt.Sprintf("share(-%s)", s.LocalPath)
	}
	return fmt.Sprintf("share(%s=%s)", s.Alias, s.LocalPath)
}

// relWithin returns path relative to root when path equals root or is below
// it, in native separators. It does not touch the filesystem.
func relWithin(path, root string) (string, bool) {
	if path == root {
		return "", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if strings.HasPrefix(path, prefix) {
		return path[len(prefix):], true
	}
	return "", false
}

// ToWire normalizes a native path fragment to wire separators.
func ToWire(p string) string {
	if filepath.Separator != '\\' {
		p = strings.ReplaceAll(p, string(filepath.Separator), Separator)
	}
	return strings.ReplaceAll(p, "/", Separator)
}

// FromWire converts a wire path fragment to native separators.
func FromWire(p string) string {
	return strings.ReplaceAll(p, Separator, string(filepath.Separator))
}

// A List is an ordered set of shares. Most operations expect the list sorted
// by descending local path length, so that subdirectory shares take
// precedence over their parents.
type List []*Share

// ParseList builds a sorted share list from raw declarations. Blank and
// duplicate declarations are dropped. Aliases must be unique across included
// shares.
func ParseList(raws []string) (List, error) {
	seen := make(map[string]struct{}, len(raws))
	list := make(List, 0, len(raws))
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}

		s, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}

	list.Sort()

	aliases := make(map[string]string)
	for _, s := range list.Included() {
		if prev, ok := aliases[s.Alias]; ok {
			return nil, fmt.Errorf("duplicate alias %q for %s and %s", s.Alias, prev, s.LocalPath)
		}
		aliases[s.Alias] = s.LocalPath
	}

	return list, nil
}

// Sort orders the list by descending local path length, ties broken
// lexically for determinism.
func (l List) Sort() {
	sort.SliceStable(l, func(a, b int) bool {
		if len(l[a].LocalPath) != len(l[b].LocalPath) {
			return len(l[a].LocalPath) > len(l[b].LocalPath)
		}
		return l[a].LocalPath < l[b].LocalPath
	})
}

// Included returns the shares that publish files.
func (l List) Included() List {
	res := make(List, 0, len(l))
	for _, s := range l {
		if !s.IsExcluded {
			res = append(res, s)
		}
	}
	return res
}

// Excluded returns the shares that hide subtrees.
func (l List) Excluded() List {
	res := make(List, 0, len(l))
	for _, s := range l {
		if s.IsExcluded {
			res = append(res, s)
		}
	}
	return res
}

// ShareFor returns the included share owning the given local directory. With
// the list sorted, a subdirectory share wins over the share containing it.
func (l List) ShareFor(local string) (*Share, bool) {
	for _, s := range l {
		if s.IsExcluded {
			continue
		}
		if s.ContainsLocal(local) {
			return s, true
		}
	}
	return nil, false
}

// ResolveShare returns the included share whose remote path prefixes the
// masked path.
func (l List) ResolveShare(masked string) (*Share, bool) {
	for _, s := range l {
		if s.IsExcluded {
			continue
		}
		if masked == s.RemotePath || strings.HasPrefix(masked, s.RemotePath+Separator) {
			return s, true
		}
	}
	return nil, false
}

// LocalExcluded reports whether the local path falls under any excluded
// share.
func (l List) LocalExcluded(local string) bool {
	for _, s := range l {
		if s.IsExcluded && s.ContainsLocal(local) {
			return true
		}
	}
	return false
}
