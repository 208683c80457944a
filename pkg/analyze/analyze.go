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

// Package analyze walks a project's sequences and computes per-media
// time-range usage, merging ranges across nested, multicam, and merged
// clip structures.
package analyze

import (
	"consolidator/pkg/model"
	"consolidator/pkg/tick"
)

// ticksPerFrame24 is the fixed handle-frame conversion denominator: 24fps
// regardless of a sequence's actual frame rate. A known simplification —
// handle math runs before a per-sequence rate is known for merged usage
// spanning several sequences at different rates.
const ticksPerFrame24 = tick.PerSecond / 24

// UsageInfo accumulates everything known about one media file's usage
// across the analyzed sequences.
type UsageInfo struct {
	UsageCount        int
	Ranges            []tick.Range
	MergedRange       tick.Range
	Sequences         []model.GUID
	IsMulticamAngle   bool
	IsMergedComponent bool

	haveRange bool
}

func (u *UsageInfo) addRange(r tick.Range, seq model.GUID) {
	u.UsageCount++
	u.Ranges = append(u.Ranges, r)
	if !u.haveRange {
		u.MergedRange = r
		u.haveRange = true
	} else {
		u.MergedRange = tick.Hull([]tick.Range{u.MergedRange, r})
	}
	for _, s := range u.Sequences {
		if s == seq {
			return
		}
	}
	u.Sequences = append(u.Sequences, seq)
}

// MediaUsage is the analyzer's output: per-media usage info, plus the
// media GUIDs that were never touched by any analyzed clip.
type MediaUsage struct {
	Used              map[model.GUID]*UsageInfo
	Unused            []model.GUID
	AnalyzedSequences []model.ID
}

// Options configures one analysis pass.
type Options struct {
	HandleFrames             int64
	IncludeAllMulticamAngles bool
}

// analyzer carries the project and cross-sequence recursion guard for one
// Analyze call.
type analyzer struct {
	project *model.Project
	opts    Options
	usage   map[model.GUID]*UsageInfo
	visited map[model.GUID]bool
	order   []model.ID
}

// Analyze computes MediaUsage over sequenceGUIDs (or every sequence in the
// project when sequenceGUIDs is empty).
func Analyze(project *model.Project, sequenceGUIDs []model.GUID, opts Options) MediaUsage {
	a := &analyzer{
		project: project,
		opts:    opts,
		usage:   make(map[model.GUID]*UsageInfo),
		visited: make(map[model.GUID]bool),
	}

	targets := sequenceGUIDs
	if len(targets) == 0 {
		for _, s := range project.Sequences {
			targets = append(targets, s.GUID)
		}
	}
	for _, guid := range targets {
		a.walkSequenceByGUID(guid)
	}

	return a.result()
}

func (a *analyzer) walkSequenceByGUID(guid model.GUID) {
	if a.visited[guid] {
		return
	}
	a.visited[guid] = true

	seq, ok := a.project.SequenceByGUID(guid)
	if !ok {
		return
	}
	a.order = append(a.order, model.ID(seq.GUID))

	for _, track := range seq.VideoTracks {
		a.walkTrack(track, seq.GUID)
	}
	for _, track := range seq.AudioTracks {
		a.walkTrack(track, seq.GUID)
	}
}

func (a *analyzer) walkTrack(track model.Track, seqGUID model.GUID) {
	for _, clip := range track.Clips {
		a.walkClip(clip, seqGUID)
	}
}

func (a *analyzer) walkClip(clip model.TrackClip, seqGUID model.GUID) {
	switch clip.Variant {
	case model.ClipStandard:
		if clip.MediaRef != "" {
			a.addUsage(clip.MediaRef, clip.Source, seqGUID, false, false)
		}
	case model.ClipSubclip:
		if clip.SubclipParent != "" {
			a.addUsage(clip.SubclipParent, clip.Source, seqGUID, false, false)
		}
	case model.ClipMergedClip:
		for _, component := range clip.MergedComponents {
			a.addUsage(component, clip.Source, seqGUID, false, true)
		}
	case model.ClipMulticam:
		for _, angle := range clip.Angles {
			if !angle.Active && !a.opts.IncludeAllMulticamAngles {
				continue
			}
			if angle.MediaRef != "" {
				a.addUsage(angle.MediaRef, clip.Source, seqGUID, true, false)
			}
		}
	case model.ClipNested:
		if clip.NestedSequence != "" {
			a.walkSequenceByGUID(clip.NestedSequence)
		}
	case model.ClipAdjustment:
		// no contribution
	}
}

func (a *analyzer) addUsage(guid model.GUID, source tick.Range, seqGUID model.GUID, isMulticamAngle, isMergedComponent bool) {
	handleTicks := a.opts.HandleFrames * ticksPerFrame24

	mediaDuration := int64(-1) // unbounded sentinel
	if mf, ok := a.project.Media[guid]; ok && mf.Duration > 0 {
		mediaDuration = mf.Duration
	}
	r := source.WithHandles(handleTicks, mediaDuration)

	info, ok := a.usage[guid]
	if !ok {
		info = &UsageInfo{}
		a.usage[guid] = info
	}
	info.addRange(r, seqGUID)
	if isMulticamAngle {
		info.IsMulticamAngle = true
	}
	if isMergedComponent {
		info.IsMergedComponent = true
	}
}

func (a *analyzer) result() MediaUsage {
	result := MediaUsage{Used: a.usage, AnalyzedSequences: a.order}
	for guid := range a.project.Media {
		if _, used := a.usage[guid]; !used {
			result.Unused = append(result.Unused, guid)
		}
	}
	return result
}
