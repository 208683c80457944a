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
	"strings"

	"consolidator/pkg/model"
)

// CanonicalSequenceClassID gates Sequence admission (spec §6).
const CanonicalSequenceClassID = "6a15d903-8739-11d5-af2d-9b7855ad8974"

// mediaTypeByExt maps a lowercase extension (without the dot) to its
// MediaType, per spec §6.
var mediaTypeByExt = map[string]model.MediaType{
	"mp4": model.MediaVideo, "mov": model.MediaVideo, "avi": model.MediaVideo,
	"mxf": model.MediaVideo, "mkv": model.MediaVideo, "wmv": model.MediaVideo,
	"m4v": model.MediaVideo, "webm": model.MediaVideo, "prores": model.MediaVideo,

	"wav": model.MediaAudio, "mp3": model.MediaAudio, "aac": model.MediaAudio,
	"aiff": model.MediaAudio, "flac": model.MediaAudio, "ogg": model.MediaAudio,
	"m4a": model.MediaAudio,

	"jpg": model.MediaImage, "jpeg": model.MediaImage, "png": model.MediaImage,
	"tiff": model.MediaImage, "tif": model.MediaImage, "bmp": model.MediaImage,
	"gif": model.MediaImage, "psd": model.MediaImage, "exr": model.MediaImage,
	"dpx": model.MediaImage,

	"r3d":  model.MediaRED,
	"braw": model.MediaBRAW,

	"mogrt": model.MediaGraphics, "aep": model.MediaGraphics, "aegraphic": model.MediaGraphics,
}

// pathFilterExtensions is the superset of extensions accepted as media file
// paths while scanning text nodes (spec §6): the audio/video set above,
// plus a handful of still-image and project-adjacent extensions.
var pathFilterExtensions = map[string]bool{
	"mp4": true, "mov": true, "avi": true, "mxf": true, "mkv": true, "wmv": true,
	"m4v": true, "webm": true, "prores": true,
	"wav": true, "mp3": true, "aac": true, "aiff": true, "flac": true, "ogg": true, "m4a": true,
	"png": true, "jpg": true, "jpeg": true, "tiff": true, "tif": true,
	"aep": true, "mogrt": true, "prproj": true, "gif": true,
}

// mediaFilePathTags are the child elements the loader scans for absolute
// media paths.
var mediaFilePathTags = map[string]bool{
	"ActualMediaFilePath": true,
	"FilePath":            true,
	"MediaFilePath":       true,
}

// MediaTypeFromExtension classifies ext (with or without leading dot).
func MediaTypeFromExtension(ext string) model.MediaType {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if t, ok := mediaTypeByExt[ext]; ok {
		return t
	}
	return model.MediaUnknown
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[i+1:])
}

// looksLikeMediaPath applies the four filters of spec §4.2.3: absolute,
// not a peak/preview cache file, not .pek/.cfa, ends in a recognized
// extension.
func looksLikeMediaPath(text string) bool {
	if len(text) < 2 {
		return false
	}
	isAbs := text[0] == '/' || (len(text) > 2 && text[1] == ':')
	if !isAbs {
		return false
	}
	if strings.Contains(text, "Peak Files") || strings.Contains(text, "Audio Previews") {
		return false
	}
	lower := strings.ToLower(text)
	if strings.HasSuffix(lower, ".pek") || strings.HasSuffix(lower, ".cfa") {
		return false
	}
	return pathFilterExtensions[extOf(lower)]
}

// hasVideoAudio derives the has_video/has_audio flags from a MediaType,
// following project_parser.rs: video-bearing types carry an image/video
// track, and only Audio/Video types carry an audio track.
func hasVideoAudio(t model.MediaType) (hasVideo, hasAudio bool) {
	switch t {
	case model.MediaVideo, model.MediaImage, model.MediaImageSequence, model.MediaRED, model.MediaBRAW:
		hasVideo = true
	}
	if t == model.MediaAudio || t == model.MediaVideo {
		hasAudio = true
	}
	return hasVideo, hasAudio
}
