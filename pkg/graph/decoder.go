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

package graph

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"consolidator/pkg/model"
)

// ErrCorruptArchive is returned when the input cannot be gzip-decompressed.
var ErrCorruptArchive = errors.New("graph: corrupt archive")

// ErrMalformedXML is returned when the XML token stream cannot continue.
var ErrMalformedXML = errors.New("graph: malformed xml")

// frame is one entry of the decoder's context stack. obj is nil for
// elements that declared neither ObjectID nor ObjectUID.
type frame struct {
	tag string
	obj *Object
}

// decoder holds the streaming parse state. encoding/xml normalizes
// self-closing elements into a Start immediately followed by an End, same
// as a non-self-closing empty element pair, so unlike the reference
// implementation's Empty/Start distinction, this decoder always pushes a
// frame on Start and pops on End — any reference carried by the element's
// own start tag is attributed using the stack as it stood *before* that
// push, which reproduces the "never attribute to the element carrying the
// ref" rule for both shapes.
type decoder struct {
	g     *Graph
	stack []frame
}

// Load reads path (a GZIP-compressed XML document), decompresses it, and
// streams it into an ObjectGraph. Decompression failure is
// ErrCorruptArchive; a fatal parser error is ErrMalformedXML. Individual
// element-level issues (refs with no identified ancestor) are silently
// skipped as diagnostics, not surfaced as errors.
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("graph: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode is Load without the filesystem dependency, used directly by tests
// and by callers that already hold the compressed bytes in memory.
func Decode(r io.Reader) (*Graph, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer gz.Close()

	d := &decoder{g: newGraph()}
	xd := xml.NewDecoder(gz)

	for {
		tok, err := xd.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			d.start(t)
		case xml.EndElement:
			d.end()
		case xml.CharData:
			d.text(string(t))
		}
	}

	d.postPass()
	return d.g, nil
}

func attrMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}

func (d *decoder) start(se xml.StartElement) {
	tag := se.Name.Local
	attrs := attrMap(se.Attr)

	idStr, hasID := attrs["ObjectID"]
	uidStr, hasUID := attrs["ObjectUID"]

	// Ref attribution must happen before this element's own frame is
	// pushed: a ref carried on the start tag is never attributed to the
	// element carrying it, only to the nearest enclosing ancestor.
	if target, ok := attrs["ObjectRef"]; ok {
		d.attributeRef(tag, target, false)
	}
	if target, ok := attrs["ObjectURef"]; ok {
		d.attributeRef(tag, target, true)
	}

	if tag == "PremiereData" {
		if v, ok := attrs["Version"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				d.g.Version = n
			}
		}
	}

	var obj *Object
	if hasID || hasUID {
		obj = &Object{
			Tag:       tag,
			Attrs:     attrs,
			Children:  make(map[string][]string),
			Contained: make(map[string][]*Object),
		}
		if hasID {
			obj.ID = model.ID(idStr)
			obj.HasID = true
			d.g.ObjectsByID[obj.ID] = append(d.g.ObjectsByID[obj.ID], obj)
		}
		if hasUID {
			obj.UID = model.GUID(uidStr)
			obj.HasUID = true
			d.g.ObjectsByUID[obj.UID] = obj
		}
		if parent := d.nearestObj(); parent != nil {
			obj.Parent = parent
			parent.Contained[tag] = append(parent.Contained[tag], obj)
		}
	}

	d.stack = append(d.stack, frame{tag: tag, obj: obj})
}

func (d *decoder) end() {
	if len(d.stack) == 0 {
		return
	}
	d.stack = d.stack[:len(d.stack)-1]
}

// nearestObj walks the stack from the top down and returns the first
// frame's object that declared an identity.
func (d *decoder) nearestObj() *Object {
	for i := len(d.stack) - 1; i >= 0; i-- {
		if d.stack[i].obj != nil {
			return d.stack[i].obj
		}
	}
	return nil
}

// attributeRef stores a reference found on the current start tag under the
// nearest enclosing identified ancestor, preferring its numeric ID over its
// GUID when it carries both. A ref with no identified ancestor is a
// diagnostic, discarded rather than fabricated.
func (d *decoder) attributeRef(childTag, target string, isGUID bool) {
	parent := d.nearestObj()
	if parent == nil {
		return
	}
	ref := Ref{ChildTag: childTag, Target: target, IsGUID: isGUID}
	if parent.HasID {
		d.g.RefsFromID[parent.ID] = append(d.g.RefsFromID[parent.ID], ref)
		return
	}
	if parent.HasUID {
		d.g.RefsFromUID[parent.UID] = append(d.g.RefsFromUID[parent.UID], ref)
	}
}

func (d *decoder) text(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" || len(d.stack) == 0 {
		return
	}
	currentTag := d.stack[len(d.stack)-1].tag

	if mediaFilePathTags[currentTag] && looksLikeMediaPath(text) {
		if parent := d.nearestObj(); parent != nil && parent.HasUID {
			d.g.MediaPaths[parent.UID] = text
		}
	}

	if parent := d.nearestObj(); parent != nil {
		parent.Children[currentTag] = append(parent.Children[currentTag], text)
	}
}

// postPass materializes one MediaFile per (uid, path) recorded in
// MediaPaths, per spec §4.2.4.
func (d *decoder) postPass() {
	for uid, path := range d.g.MediaPaths {
		t := MediaTypeFromExtension(extOf(path))
		hasVideo, hasAudio := hasVideoAudio(t)
		offline := false
		if _, err := os.Stat(path); err != nil {
			offline = true
		}
		d.g.Media[uid] = &model.MediaFile{
			GUID:     uid,
			Path:     path,
			HasVideo: hasVideo,
			HasAudio: hasAudio,
			Offline:  offline,
			Type:     t,
		}
	}
}
