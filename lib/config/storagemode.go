// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

type StorageMode int

const (
	StorageModeDisk StorageMode = iota // default is disk
	StorageModeMemory
)

func (m StorageMode) String() string {
	switch m {
	case StorageModeDisk:
		return "disk"
	case StorageModeMemory:
		return "memory"
	default:
		return "unknown"
	}
}

func (m StorageMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *StorageMode) UnmarshalText(bs []byte) error {
	switch string(bs) {
	case "memory":
		*m = StorageModeMemory
	default:
		*m = StorageModeDisk
	}
	return nil
}
