// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package util

import (
	"slices"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	x := &struct {
		A string `default:"string"`
		B int    `default:"2"`
		C bool   `default:"true"`
		D int    // no tag, left alone
	}{}

	SetDefaults(x)

	if x.A != "string" {
		t.Error("string failed")
	}
	if x.B != 2 {
		t.Error("int failed")
	}
	if !x.C {
		t.Error("bool failed")
	}
	if x.D != 0 {
		t.Error("untagged field changed")
	}
}

func TestUniqueTrimmedStrings(t *testing.T) {
	cases := []struct {
		input    []string
		expected []string
	}{
		{[]string{"a", "b"}, []string{"a", "b"}},
		{[]string{"a", "a", "b", "a"}, []string{"a", "b"}},
		{[]string{"  a  ", "a", "b\t", " b"}, []string{"a", "b"}},
		{nil, []string{}},
	}

	for _, tc := range cases {
		if result := UniqueTrimmedStrings(tc.input); !slices.Equal(result, tc.expected) {
			t.Errorf("UniqueTrimmedStrings(%q) => %q, expected %q", tc.input, result, tc.expected)
		}
	}
}

func TestNiceDurationString(t *testing.T) {
	cases := []struct {
		in  time.Duration
		out string
	}{
		{123456 * time.Nanosecond, "123.456µs"},
		{123456 * time.Microsecond, "123.456ms"},
		{2*time.Second + 123456*time.Microsecond, "2.123s"},
		{2*time.Minute + 2*time.Second + 123456*time.Microsecond, "2m2s"},
		{49 * time.Hour, "49h0m0s"},
	}
	for _, tc := range cases {
		if out := NiceDurationString(tc.in); out != tc.out {
			t.Errorf("NiceDurationString(%v) => %q, expected %q", tc.in, out, tc.out)
		}
	}
}
