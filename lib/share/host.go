// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package share

import (
	"github.com/sleekd/sleekd/lib/sync"
)

type HostState int

const (
	HostOffline HostState = iota
	HostOnline
)

func (s HostState) String() string {
	switch s {
	case HostOffline:
		return "offline"
	case HostOnline:
		return "online"
	default:
		return "unknown"
	}
}

// A Host groups the shares published under one name. Every file in the index
// belongs to exactly one share of one host. The share list is replaced
// wholesale on reconfiguration, never edited in place.
type Host struct {
	name   string
	mut    sync.RWMutex
	shares List
	state  HostState
}

func NewHost(name string) *Host {
	return &Host{
		name: name,
		mut:  sync.NewRWMutex(),
	}
}

func (h *Host) Name() string {
	return h.name
}

func (h *Host) State() HostState {
	h.mut.RLock()
	defer h.mut.RUnlock()
	return h.state
}

func (h *Host) SetState(state HostState) {
	h.mut.Lock()
	h.state = state
	h.mut.Unlock()
}

// Shares returns a copy of the host's share list. The shares themselves are
// shared; they are immutable after construction.
func (h *Host) Shares() List {
	h.mut.RLock()
	defer h.mut.RUnlock()
	res := make(List, len(h.shares))
	copy(res, h.shares)
	return res
}

func (h *Host) SetShares(shares List) {
	h.mut.Lock()
	h.shares = shares
	h.mut.Unlock()
}
