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

package resolve

import (
	"strconv"
	"strings"

	"consolidator/pkg/graph"
	"consolidator/pkg/model"
	"consolidator/pkg/tick"
)

// projectItemTags maps the XML tags that denote a bin entry to its
// ProjectItemKind, per the object vocabulary observed across Premiere
// project exports.
var projectItemTags = map[string]model.ProjectItemKind{
	"ClipProjectItem":           model.ItemClip,
	"ProjectItem":               model.ItemClip,
	"SequenceProjectItem":       model.ItemSequence,
	"BinProjectItem":            model.ItemBin,
	"SubClip":                   model.ItemSubclip,
	"SubclipProjectItem":        model.ItemSubclip,
	"MergedClipProjectItem":     model.ItemMergedClip,
	"MultiCameraClipProjectItem": model.ItemMulticam,
}

var binTags = map[string]bool{
	"Bin":             true,
	"BinProjectItem":  true,
	"RootProjectItem": true,
}

// BuildProject interprets a raw object graph into the typed model.Project
// tree: bins (with derived paths), sequences (with tracks/clips), project
// items, and the already-materialized media map. Every clip/subclip/
// merged-component/multicam-angle reference is resolved down to its
// terminal Media descriptor's GUID via the §4.3 reference resolver before
// being stored, so the result keys directly into p.Media.
func BuildProject(g *graph.Graph, filePath string) (*model.Project, error) {
	p := &model.Project{
		FilePath: filePath,
		Version:  g.Version,
		Media:    g.Media,
		Items:    make(map[model.ID]*model.ProjectItem),
	}

	binParent := make(map[model.ID]model.ID)
	binHasParent := make(map[model.ID]bool)

	for _, objs := range g.ObjectsByID {
		for _, obj := range objs {
			switch {
			case binTags[obj.Tag]:
				bin := buildBin(obj)
				p.Bins = append(p.Bins, bin)
				if parentID, ok := obj.Attrs["ParentID"]; ok && parentID != "" {
					binParent[bin.ID] = model.ID(parentID)
					binHasParent[bin.ID] = true
				}
			case obj.Tag == "Sequence":
				if obj.Attrs["ClassID"] != graph.CanonicalSequenceClassID {
					continue
				}
				p.Sequences = append(p.Sequences, buildSequence(g, obj))
			}
			if kind, ok := projectItemTags[obj.Tag]; ok {
				item := buildProjectItem(obj, kind)
				p.Items[item.ID] = item
			}
		}
	}
	// Sequences declared with only an ObjectUID are absent from ObjectsByID.
	for _, obj := range g.ObjectsByUID {
		if obj.HasID || obj.Tag != "Sequence" || obj.Attrs["ClassID"] != graph.CanonicalSequenceClassID {
			continue
		}
		p.Sequences = append(p.Sequences, buildSequence(g, obj))
	}

	buildBinPaths(p.Bins, binParent, binHasParent)
	return p, nil
}

func buildBin(obj *graph.Object) model.Bin {
	name := obj.Attrs["Name"]
	if name == "" {
		name = obj.Text("Name")
	}
	if name == "" {
		name = "Bin " + string(obj.ID)
	}
	return model.Bin{ID: obj.ID, Name: name}
}

// buildBinPaths derives each Bin.Path as parent.Path + "/" + name, walking
// the parent chain; a bin with no parent (or an unresolved one) is its own
// root and its path is simply its name.
func buildBinPaths(bins []model.Bin, parentOf map[model.ID]model.ID, hasParent map[model.ID]bool) {
	byID := make(map[model.ID]*model.Bin, len(bins))
	for i := range bins {
		byID[bins[i].ID] = &bins[i]
	}
	var resolvePath func(id model.ID, seen map[model.ID]bool) string
	resolvePath = func(id model.ID, seen map[model.ID]bool) string {
		b, ok := byID[id]
		if !ok {
			return ""
		}
		if b.Path != "" {
			return b.Path
		}
		if seen[id] {
			return b.Name // cycle guard
		}
		seen[id] = true
		if hasParent[id] {
			if parentPath := resolvePath(parentOf[id], seen); parentPath != "" {
				b.Path = parentPath + "/" + b.Name
				return b.Path
			}
		}
		b.Path = b.Name
		return b.Path
	}
	for i := range bins {
		if hasParent[bins[i].ID] {
			bins[i].ParentID = parentOf[bins[i].ID]
		}
		resolvePath(bins[i].ID, make(map[model.ID]bool))
	}
}

func buildProjectItem(obj *graph.Object, kind model.ProjectItemKind) *model.ProjectItem {
	name := obj.Attrs["Name"]
	if name == "" {
		name = obj.Text("Name")
	}
	if name == "" {
		name = "Item " + string(obj.ID)
	}
	item := &model.ProjectItem{
		ID:    obj.ID,
		Name:  name,
		Type:  kind,
		Label: obj.Attrs["Label"],
	}
	if v, ok := obj.Attrs["ParentBinID"]; ok {
		item.BinID = model.ID(v)
	}
	if v := obj.Attrs["MediaRef"]; v != "" {
		item.MediaRef = model.GUID(v)
	} else if v := obj.Text("MediaRef"); v != "" {
		item.MediaRef = model.GUID(v)
	}
	return item
}

func buildSequence(g *graph.Graph, obj *graph.Object) model.Sequence {
	name := obj.Attrs["Name"]
	if name == "" {
		name = obj.Text("Name")
	}
	if name == "" {
		name = "Sequence " + string(obj.UID)
	}

	seq := model.Sequence{
		GUID:         obj.UID,
		Name:         name,
		Duration:     parseTicks(obj.Text("MZ.OutPoint")),
		FrameRateNum: 24000,
		FrameRateDen: 1001,
	}

	for _, trackObj := range obj.Descendants("VideoTrack") {
		seq.VideoTracks = append(seq.VideoTracks, buildTrack(g, trackObj, model.TrackVideo))
	}
	for _, trackObj := range obj.Descendants("AudioTrack") {
		seq.AudioTracks = append(seq.AudioTracks, buildTrack(g, trackObj, model.TrackAudio))
	}

	for _, nested := range obj.Descendants("NestedSequence") {
		if ref, ok := nested.Attrs["ObjectURef"]; ok {
			seq.NestedSequenceIDs = append(seq.NestedSequenceIDs, model.GUID(ref))
		}
	}
	return seq
}

func buildTrack(g *graph.Graph, obj *graph.Object, kind model.TrackKind) model.Track {
	track := model.Track{ID: obj.ID, Name: obj.Attrs["Name"], Kind: kind}

	itemTags := []string{"VideoClipTrackItem", "AudioClipTrackItem", "ClipTrackItem"}
	for _, tag := range itemTags {
		for _, itemObj := range obj.Descendants(tag) {
			track.Clips = append(track.Clips, buildTrackClip(g, itemObj))
		}
	}
	return track
}

// resolveMediaGUID follows obj's own outgoing reference chain (per the §4.3
// resolver) down to the terminal Media descriptor's GUID. The decoder
// attributes a ref under an object's numeric ID when it has one, preferring
// ID over UID (see graph.decoder.attributeRef), so resolution must start
// the same way. It returns "" — treated by the analyzer the same as "no
// direct media reference" — when obj is nil or the chain doesn't reach a
// Media element, rather than falling back to obj's own identity: that
// identity is the referencing element's, not a key into the media map, and
// returning it unresolved would silently point the clip at a GUID that
// p.Media never contains.
func resolveMediaGUID(g *graph.Graph, obj *graph.Object) model.GUID {
	if obj == nil {
		return ""
	}
	if obj.HasID {
		if guid, ok := ResolveID(g, obj.ID); ok {
			return guid
		}
	}
	if obj.HasUID {
		if guid, ok := ResolveUID(g, obj.UID); ok {
			return guid
		}
	}
	return ""
}

func buildTrackClip(g *graph.Graph, obj *graph.Object) model.TrackClip {
	clip := model.TrackClip{
		ID:       obj.ID,
		Name:     obj.Attrs["Name"],
		Timeline: rangeFromTicks(obj.Text("Start"), obj.Text("End")),
		Source:   rangeFromTicks(obj.Text("InPoint"), obj.Text("OutPoint")),
		Speed:    1.0,
	}
	if v := obj.Attrs["Speed"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			clip.Speed = f
		}
	}

	if isAdjustment(obj) {
		clip.Variant = model.ClipAdjustment
		return clip
	}

	if subclips := obj.Descendants("SubClip"); len(subclips) > 0 {
		clip.Variant = model.ClipSubclip
		clip.SubclipParent = resolveMediaGUID(g, subclips[0])
		return clip
	}
	if merged := obj.Descendants("MergedClipComponent"); len(merged) > 0 {
		clip.Variant = model.ClipMergedClip
		for _, c := range merged {
			if guid := resolveMediaGUID(g, c); guid != "" {
				clip.MergedComponents = append(clip.MergedComponents, guid)
			}
		}
		return clip
	}
	if angles := obj.Descendants("MulticamAngle"); len(angles) > 0 {
		clip.Variant = model.ClipMulticam
		for _, a := range angles {
			angle := model.MulticamAngle{Name: a.Attrs["Name"], Active: a.Attrs["Active"] == "true"}
			angle.MediaRef = resolveMediaGUID(g, a)
			clip.Angles = append(clip.Angles, angle)
		}
		return clip
	}
	if nested := obj.Descendants("NestedSequence"); len(nested) > 0 {
		clip.Variant = model.ClipNested
		if nested[0].HasUID {
			clip.NestedSequence = nested[0].UID
		}
		return clip
	}

	clip.Variant = model.ClipStandard
	clip.MediaRef = resolveMediaGUID(g, obj)
	return clip
}

// isAdjustment detects an adjustment layer per the external-interface
// table: a child key containing AdjustmentLayer or SyntheticMedia.
func isAdjustment(obj *graph.Object) bool {
	for key := range obj.Children {
		if strings.Contains(key, "AdjustmentLayer") || strings.Contains(key, "SyntheticMedia") {
			return true
		}
	}
	return false
}

func parseTicks(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func rangeFromTicks(startStr, endStr string) tick.Range {
	return tick.NewRange(parseTicks(startStr), parseTicks(endStr))
}
