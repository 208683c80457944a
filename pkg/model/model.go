// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package model holds the project object graph's entity types. A Project
// is built once per open by pkg/resolve from pkg/graph's object graph and
// never mutated afterwards.
package model

import "consolidator/pkg/tick"

// ID is a numeric-namespace identifier (ObjectID/ObjectRef). IDs are not
// globally unique: the same ID may be reused by objects of different tags.
type ID string

// GUID is a globally unique identifier (ObjectUID/ObjectURef).
type GUID string

// MediaType classifies a MediaFile by file extension.
type MediaType int

// Recognized media types, see spec §6 extension table.
const (
	MediaUnknown MediaType = iota
	MediaVideo
	MediaAudio
	MediaImage
	MediaImageSequence
	MediaRED
	MediaBRAW
	MediaGraphics
)

func (t MediaType) String() string {
	switch t {
	case MediaVideo:
		return "Video"
	case MediaAudio:
		return "Audio"
	case MediaImage:
		return "Image"
	case MediaImageSequence:
		return "ImageSequence"
	case MediaRED:
		return "RED"
	case MediaBRAW:
		return "BRAW"
	case MediaGraphics:
		return "Graphics"
	default:
		return "Unknown"
	}
}

// MediaFile is a source media descriptor resolved from the project's
// file-path text nodes.
type MediaFile struct {
	GUID      GUID
	Path      string
	HasVideo  bool
	HasAudio  bool
	Duration  int64 // ticks, 0 when unknown
	ProxyPath string
	Offline   bool // derived at open: true when Path does not exist on disk
	Type      MediaType

	// FileSize in bytes. The loader leaves it zero; the consolidation
	// executor reads the size with os.Stat for bytes_total when it is zero,
	// and estimate_output_size always stats the file itself.
	FileSize int64

	// Checksum is left empty unless a caller-supplied hash function (an
	// external collaborator, see spec §1) has populated it.
	Checksum string
}

// ProjectItemKind classifies a ProjectItem (a bin entry).
type ProjectItemKind int

// Project item kinds.
const (
	ItemClip ProjectItemKind = iota
	ItemSequence
	ItemBin
	ItemSubclip
	ItemMergedClip
	ItemMulticam
)

// ProjectItem is a bin entry: a named reference to a clip, sequence, or
// nested bin.
type ProjectItem struct {
	ID       ID
	Name     string
	Type     ProjectItemKind
	MediaRef GUID // zero value when the item has no direct media reference
	BinID    ID   // zero value when the item lives at bin root
	Label    string
}

// Bin is a folder in the project's organizational tree.
type Bin struct {
	ID       ID
	Name     string
	ParentID ID // zero value for a root bin
	Path     string
}

// TrackKind distinguishes video from audio tracks.
type TrackKind int

// Track kinds.
const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// ClipVariant distinguishes the six ways a TrackClip can source its media.
type ClipVariant int

// Clip variants, see spec §3 TrackClip.variant.
const (
	ClipStandard ClipVariant = iota
	ClipSubclip
	ClipMergedClip
	ClipMulticam
	ClipNested
	ClipAdjustment
)

// MulticamAngle is one synchronized camera angle of a Multicam clip.
type MulticamAngle struct {
	Name     string
	MediaRef GUID
	Active   bool
}

// TrackClip is a span on a Track pointing into source media via in/out
// points, or into one of the composite variants (subclip, merged clip,
// multicam, nested sequence, adjustment layer).
type TrackClip struct {
	ID       ID
	Name     string
	Timeline tick.Range // [start_ticks, end_ticks) on the parent timeline
	Source   tick.Range // [in_point_ticks, out_point_ticks) into the source
	MediaRef GUID       // populated for ClipStandard; zero value otherwise
	Variant  ClipVariant
	Speed    float64 // 1.0 == normal

	SubclipParent    GUID            // ClipSubclip
	MergedComponents []GUID          // ClipMergedClip
	Angles           []MulticamAngle // ClipMulticam
	NestedSequence   GUID            // ClipNested
}

// Track is an ordered list of clips of one kind (video or audio).
type Track struct {
	ID    ID
	Name  string
	Kind  TrackKind
	Clips []TrackClip
}

// Sequence is a timeline: an ordered set of video and audio tracks, plus
// the GUIDs referenced by NestedSequence elements inside it. The analyzer's
// cycle guard does not read NestedSequenceIDs; it tracks visited sequences
// itself.
type Sequence struct {
	GUID              GUID
	Name              string
	Duration          int64 // ticks
	FrameRateNum      int
	FrameRateDen      int
	VideoTracks       []Track
	AudioTracks       []Track
	NestedSequenceIDs []GUID
}

// VideoTrackCount returns the number of video tracks.
func (s Sequence) VideoTrackCount() int { return len(s.VideoTracks) }

// AudioTrackCount returns the number of audio tracks.
func (s Sequence) AudioTrackCount() int { return len(s.AudioTracks) }

// FrameRate returns the sequence's frame rate as a float64, or 0 when the
// denominator is unset.
func (s Sequence) FrameRate() float64 {
	if s.FrameRateDen == 0 {
		return 0
	}
	return float64(s.FrameRateNum) / float64(s.FrameRateDen)
}

// Project is the full object graph materialized from one project file.
type Project struct {
	FilePath string
	Name     string
	Version  int

	Bins      []Bin
	Sequences []Sequence

	Media map[GUID]*MediaFile
	Items map[ID]*ProjectItem
}

// SequenceByGUID finds a sequence by its GUID, or returns false.
func (p *Project) SequenceByGUID(guid GUID) (*Sequence, bool) {
	for i := range p.Sequences {
		if p.Sequences[i].GUID == guid {
			return &p.Sequences[i], true
		}
	}
	return nil, false
}
