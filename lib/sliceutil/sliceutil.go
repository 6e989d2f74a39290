// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sliceutil

// RemoveAndZero removes the element at index i from slice s and returns the
// resulting slice. The slice ordering is preserved. The vacated tail element
// is zeroed so that removed handlers and listeners do not linger behind the
// shortened slice.
func RemoveAndZero[E any, S ~[]E](s S, i int) S {
	copy(s[i:], s[i+1:])
	s[len(s)-1] = *new(E)
	return s[:len(s)-1]
}
