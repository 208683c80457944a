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

// Package graph decompresses and streams a project's XML document into a
// dense, reference-linked object graph with two coexisting identifier
// namespaces (numeric ObjectID/ObjectRef and global ObjectUID/ObjectURef).
package graph

import "consolidator/pkg/model"

// Object is one XML element that declared an identity (ObjectID and/or
// ObjectUID). Attrs holds every attribute on the element; Children holds
// the text content of child elements, keyed by the child's own tag name —
// used later to read things like <Name>, <InPoint>, <MZ.OutPoint>.
type Object struct {
	Tag    string
	ID     model.ID
	HasID  bool
	UID    model.GUID
	HasUID bool

	Attrs    map[string]string
	Children map[string][]string

	// Parent is the nearest enclosing identified ancestor, mirroring the
	// ref-attribution rule: nil for a root-level identified object.
	Parent *Object

	// Contained indexes directly-or-transitively nested identified
	// descendants by tag, stopping descent at the next identified
	// descendant (so Sequence.Contained["Track"] holds its own tracks,
	// not a nested sequence's). Populated by the loader as each identified
	// object is opened.
	Contained map[string][]*Object
}

// Descendants returns every object under key tag regardless of depth,
// by walking Contained recursively. Used for lookups that don't need the
// "nearest" boundary Contained already enforces (e.g. collecting all
// clips under a track).
func (o *Object) Descendants(tag string) []*Object {
	if o == nil {
		return nil
	}
	var out []*Object
	for _, group := range o.Contained {
		for _, child := range group {
			if child.Tag == tag {
				out = append(out, child)
			}
			out = append(out, child.Descendants(tag)...)
		}
	}
	return out
}

// Text returns the first recorded child text value for tag, or "".
func (o *Object) Text(tag string) string {
	if o == nil {
		return ""
	}
	v := o.Children[tag]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Ref is one outgoing reference captured from a child element. ChildTag is
// the tag name of the element that physically carried the ObjectRef /
// ObjectURef attribute — it is never the element the reference is
// attributed to.
type Ref struct {
	ChildTag string
	Target   string
	IsGUID   bool
}

// Graph is the loader's output: the two identity indexes, the two
// outgoing-reference indexes, the media file-path index, and the
// document's declared version.
type Graph struct {
	Version int

	// ObjectsByID is a list per ID because numeric IDs are not unique
	// across tags; never deduplicate across types.
	ObjectsByID  map[model.ID][]*Object
	ObjectsByUID map[model.GUID]*Object

	RefsFromID  map[model.ID][]Ref
	RefsFromUID map[model.GUID][]Ref

	MediaPaths map[model.GUID]string

	// Media is populated by the post-pass (§4.2.4): one MediaFile per
	// entry in MediaPaths, with type/has_video/has_audio/offline derived.
	Media map[model.GUID]*model.MediaFile
}

// NewTestGraph returns an empty Graph for tests in other packages that
// need to construct fixtures directly rather than through Decode.
func NewTestGraph() *Graph {
	return newGraph()
}

func newGraph() *Graph {
	return &Graph{
		ObjectsByID:  make(map[model.ID][]*Object),
		ObjectsByUID: make(map[model.GUID]*Object),
		RefsFromID:   make(map[model.ID][]Ref),
		RefsFromUID:  make(map[model.GUID][]Ref),
		MediaPaths:   make(map[model.GUID]string),
		Media:        make(map[model.GUID]*model.MediaFile),
	}
}

// ObjectByIDTag returns the first object under id whose tag equals
// wantTag, honoring the "numeric IDs collide across types" rule: the
// caller must always supply the type hint carried by the referring
// child-element name, never just the bare ID.
func (g *Graph) ObjectByIDTag(id model.ID, wantTag string) (*Object, bool) {
	for _, o := range g.ObjectsByID[id] {
		if o.Tag == wantTag {
			return o, true
		}
	}
	return nil, false
}

// wellKnownTags is the fallback tag preference order used by the resolver
// when no object under an ID matches the referring child-element's tag.
var wellKnownTags = []string{
	"SubClip", "VideoClip", "AudioClip", "MasterClip",
	"VideoMediaSource", "AudioMediaSource", "Clip", "Source",
}

// ObjectByIDAny returns an object under id preferring wellKnownTags, else
// the first object present.
func (g *Graph) ObjectByIDAny(id model.ID) (*Object, bool) {
	objs := g.ObjectsByID[id]
	if len(objs) == 0 {
		return nil, false
	}
	for _, want := range wellKnownTags {
		for _, o := range objs {
			if o.Tag == want {
				return o, true
			}
		}
	}
	return objs[0], true
}
