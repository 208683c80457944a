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

// Package resolve walks a raw project graph's reference chains down to
// terminal media descriptors, and interprets the graph into the typed
// model.Project tree the rest of the system operates on.
package resolve

import (
	"consolidator/pkg/graph"
	"consolidator/pkg/model"
)

// maxDepth bounds the reference-chain walk so a malformed or cyclic
// project file cannot hang the resolver; 20 comfortably exceeds the
// deepest real chain (track item -> subclip -> masterclip -> clip ->
// mediasource -> media is 5 hops).
const maxDepth = 20

// ResolveID follows the reference chain starting from a numeric ObjectID
// and returns the GUID of the terminal Media descriptor, if reachable.
func ResolveID(g *graph.Graph, start model.ID) (model.GUID, bool) {
	return resolveIDDepth(g, start, 0)
}

// ResolveUID follows the reference chain starting from a GUID and returns
// the GUID of the terminal Media descriptor, if reachable.
func ResolveUID(g *graph.Graph, start model.GUID) (model.GUID, bool) {
	return resolveUIDDepth(g, start, 0)
}

func resolveIDDepth(g *graph.Graph, start model.ID, depth int) (model.GUID, bool) {
	if depth >= maxDepth {
		return "", false
	}
	for _, ref := range g.RefsFromID[start] {
		if guid, ok := followRef(g, ref, depth); ok {
			return guid, true
		}
	}
	return "", false
}

func resolveUIDDepth(g *graph.Graph, start model.GUID, depth int) (model.GUID, bool) {
	if depth >= maxDepth {
		return "", false
	}
	for _, ref := range g.RefsFromUID[start] {
		if guid, ok := followRef(g, ref, depth); ok {
			return guid, true
		}
	}
	return "", false
}

// followRef dispatches on a single outgoing reference, per spec §4.3 step 2.
func followRef(g *graph.Graph, ref graph.Ref, depth int) (model.GUID, bool) {
	if ref.IsGUID {
		target := model.GUID(ref.Target)
		if _, ok := g.MediaPaths[target]; ok {
			return target, true
		}
		if obj, ok := g.ObjectsByUID[target]; ok && obj.Tag == "Media" {
			return target, true
		}
		return resolveUIDDepth(g, target, depth+1)
	}

	target := model.ID(ref.Target)
	obj, ok := g.ObjectByIDTag(target, ref.ChildTag)
	if !ok {
		obj, ok = g.ObjectByIDAny(target)
	}
	if !ok {
		return "", false
	}
	if obj.HasUID {
		if _, isMedia := g.MediaPaths[obj.UID]; isMedia || obj.Tag == "Media" {
			return obj.UID, true
		}
	}
	return resolveIDDepth(g, target, depth+1)
}
