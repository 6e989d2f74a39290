// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package util holds small helpers shared across packages: reflection based
// configuration defaults and human friendly formatting.
package util

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

// SetDefaults fills in struct fields from their `default` tag. Only the
// field types the configuration actually uses are supported; an unsupported
// tagged field is a programming error and panics.
func SetDefaults(data any) {
	s := reflect.ValueOf(data).Elem()
	t := s.Type()

	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		v, ok := t.Field(i).Tag.Lookup("default")
		if !ok {
			continue
		}

		switch f.Interface().(type) {
		case string:
			f.SetString(v)

		case int, int32, int64:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				panic(err)
			}
			f.SetInt(n)

		case bool:
			f.SetBool(v == "true")

		default:
			panic(f.Type())
		}
	}
}

// UniqueTrimmedStrings trims surrounding whitespace from each string and
// drops duplicates, keeping first occurrence order. The input slice is not
// modified.
func UniqueTrimmedStrings(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	us := make([]string, 0, len(ss))
	for _, v := range ss {
		v = strings.TrimSpace(v)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		us = append(us, v)
	}
	return us
}

// NiceDurationString formats d with a precision matching its magnitude, so
// a log line says "4.7s" rather than "4.719372612s".
func NiceDurationString(d time.Duration) string {
	switch {
	case d > 24*time.Hour:
		d = d.Round(time.Hour)
	case d > time.Hour:
		d = d.Round(time.Minute)
	case d > time.Minute:
		d = d.Round(time.Second)
	case d > time.Second:
		d = d.Round(time.Millisecond)
	case d > time.Millisecond:
		d = d.Round(time.Microsecond)
	}
	return d.String()
}
