// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"

	"github.com/sleekd/sleekd/lib/events"
)

// The verbose service subscribes to events and prints them in a readable
// format at INFO level.
type verboseService struct {
	evLogger *events.Logger
}

func newVerboseService(evLogger *events.Logger) *verboseService {
	return &verboseService{evLogger: evLogger}
}

func (s *verboseService) Serve(ctx context.Context) error {
	sub := s.evLogger.Subscribe(events.AllEvents)
	defer s.evLogger.Unsubscribe(sub)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			if formatted := s.formatEvent(ev); formatted != "" {
				l.Infoln(formatted)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *verboseService) String() string {
	return fmt.Sprintf("verboseService@%p", s)
}

func (s *verboseService) formatEvent(ev events.Event) string {
	data, _ := ev.Data.(map[string]interface{})

	switch ev.Type {
	case events.Ping, events.StateChanged, events.LocalIndexUpdated:
		// Skip; too chatty to narrate.
		return ""

	case events.Starting:
		return fmt.Sprintf("Starting up (config %v, data %v)", data["config"], data["data"])

	case events.StartupComplete:
		return fmt.Sprintf("Startup complete: %v directories, %v files", data["directories"], data["files"])

	case events.ConfigSaved:
		return "Configuration saved"

	case events.ScanStarted:
		return fmt.Sprintf("Scan started: %v shares, %v workers", data["shares"], data["workers"])

	case events.ScanProgress:
		return fmt.Sprintf("Scanned %v of %v directories (%v files)", data["processed"], data["total"], data["files"])

	case events.ScanCompleted:
		return fmt.Sprintf("Scan completed in %v: %v directories, %v files", data["duration"], data["directories"], data["files"])

	case events.ScanCancelled:
		return "Scan cancelled"

	case events.ScanFailed:
		if errp, ok := data["error"].(*string); ok && errp != nil {
			return "Scan failed: " + *errp
		}
		return "Scan failed"

	case events.HostUpdated:
		if removed, _ := data["removed"].(bool); removed {
			return fmt.Sprintf("Host %v removed", data["host"])
		}
		return fmt.Sprintf("Host %v updated", data["host"])

	case events.ResolveMiss:
		return fmt.Sprintf("Resolve miss: %v is no longer on disk", data["originalFilename"])
	}

	return fmt.Sprintf("%s: %v", ev.Type, ev.Data)
}
