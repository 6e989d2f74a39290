// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package share

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AttributeType is the Soulseek wire code for a file attribute.
type AttributeType int

const (
	BitRate         AttributeType = 0
	Length          AttributeType = 1
	VariableBitRate AttributeType = 2
	SampleRate      AttributeType = 4
	BitDepth        AttributeType = 5
)

type Attribute struct {
	Type  AttributeType `json:"type"`
	Value int           `json:"value"`
}

// A File is one index record, as served to remote peers.
type File struct {
	Code             int
	MaskedFilename   string
	OriginalFilename string
	Extension        string
	Size             int64
	Attributes       []Attribute
}

// Metadata is what a prober can tell us about a media file.
type Metadata struct {
	LengthSeconds     int
	BitRate           int
	SampleRate        int
	BitDepth          int
	IsVariableBitRate bool
}

// A MetadataProber extracts media metadata from a local file. Probing is
// best effort; files are indexed with an empty attribute list when it fails.
type MetadataProber interface {
	Probe(path string) (Metadata, error)
}

// NoopProber is the prober used when no tag extraction is wired in.
type NoopProber struct{}

func (NoopProber) Probe(string) (Metadata, error) {
	return Metadata{}, errors.New("metadata probing not available")
}

// The extensions we attempt metadata extraction for.
var mediaExtensions = map[string]struct{}{
	"mkv": {}, "ogv": {}, "avi": {}, "wmv": {}, "asf": {}, "mp4": {},
	"m4p": {}, "m4v": {}, "mpg": {}, "mpe": {}, "mpv": {}, "m2v": {},
	"aa": {}, "aax": {}, "aac": {}, "aiff": {}, "ape": {}, "dsf": {},
	"flac": {}, "m4a": {}, "m4b": {}, "mp3": {}, "mpc": {}, "mpp": {},
	"ogg": {}, "oga": {}, "wav": {}, "wma": {}, "wv": {}, "webm": {},
}

// FileFactory builds index records from local files.
type FileFactory struct {
	Prober MetadataProber
}

func NewFileFactory(prober MetadataProber) FileFactory {
	if prober == nil {
		prober = NoopProber{}
	}
	return FileFactory{Prober: prober}
}

// File builds the index record for originalFilename, masking the localRoot
// prefix with remoteRoot. The size comes from the filesystem, so the file
// must exist.
func (f FileFactory) File(originalFilename, localRoot, remoteRoot string) (File, error) {
	rel, ok := relWithin(originalFilename, localRoot)
	if !ok || rel == "" {
		return File{}, fmt.Errorf("build record: %q is not under %q", originalFilename, localRoot)
	}

	info, err := os.Stat(originalFilename)
	if err != nil {
		return File{}, fmt.Errorf("build record: %w", err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalFilename), "."))

	file := File{
		Code:             1,
		MaskedFilename:   remoteRoot + Separator + ToWire(rel),
		OriginalFilename: originalFilename,
		Extension:        ext,
		Size:             info.Size(),
	}

	if _, isMedia := mediaExtensions[ext]; isMedia {
		file.Attributes = f.probeAttributes(originalFilename)
	}

	return file, nil
}

func (f FileFactory) probeAttributes(path string) []Attribute {
	meta, err := f.Prober.Probe(path)
	if err != nil {
		l.Debugf("probe %s: %v", path, err)
		return nil
	}

	attrs := []Attribute{
		{Type: Length, Value: meta.LengthSeconds},
		{Type: BitRate, Value: meta.BitRate},
	}
	if meta.IsVariableBitRate {
		attrs = append(attrs, Attribute{Type: VariableBitRate, Value: 1})
	}
	if meta.BitDepth > 0 {
		attrs = append(attrs,
			Attribute{Type: SampleRate, Value: meta.SampleRate},
			Attribute{Type: BitDepth, Value: meta.BitDepth},
		)
	}
	return attrs
}
