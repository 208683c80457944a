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

// Package plan maps computed media usage into an ordered list of output
// paths under a chosen output layout, ready for the consolidation
// executor to drive.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"consolidator/pkg/analyze"
	"consolidator/pkg/model"
	"consolidator/pkg/tick"
)

// ProcessingMode selects how each media item's bytes are produced.
type ProcessingMode int

// Processing modes, see component design §4.5.
const (
	ProcessingTrim ProcessingMode = iota
	ProcessingTranscode
	ProcessingCopy
	ProcessingNoProcess
)

// OptimizationMode selects how many output files one media item produces.
type OptimizationMode int

// Optimization modes.
const (
	OptimizeMinimizeDiskSpace OptimizationMode = iota
	OptimizeKeepSameNumberOfFiles
	OptimizeEachClipUnique
)

// FolderStructure selects the output directory layout under Media/.
type FolderStructure int

// Folder structures.
const (
	FolderFlat FolderStructure = iota
	FolderBinStructure
	FolderOriginalDiskStructure
)

// Options configures one planning pass.
type Options struct {
	OutputRoot      string
	ProcessingMode  ProcessingMode
	TranscodePreset string
	Optimization    OptimizationMode
	Folder          FolderStructure

	GenerateUniqueFilenames bool
	UseProjectItemNames     bool
	AddFrameRangeToFilename bool

	// GapTolerance feeds Optimize() when splitting a media item's usage
	// into multiple output ranges.
	GapTolerance int64
}

// Output is one produced file for a media item: its destination path and
// the source range it covers. Plan always sets Range; Copy-mode processing
// ignores it and copies the whole file.
type Output struct {
	Path  string
	Range *tick.Range
}

// PathPlanEntry is one media item's complete plan: where it comes from,
// and the one-or-more files it becomes.
type PathPlanEntry struct {
	MediaGUID  model.GUID
	SourcePath string
	Outputs    []Output
}

// existsOnDisk abstracts the disk-collision check planFilename performs,
// so tests can exercise unique-filename generation without touching the
// filesystem.
type existsOnDisk func(path string) bool

func statExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Plan computes the PathPlanEntry list for every used media item in usage.
func Plan(project *model.Project, usage analyze.MediaUsage, opts Options) []PathPlanEntry {
	return planWithExists(project, usage, opts, statExists)
}

func planWithExists(project *model.Project, usage analyze.MediaUsage, opts Options, exists existsOnDisk) []PathPlanEntry {
	commonAncestor := ""
	if opts.Folder == FolderOriginalDiskStructure {
		commonAncestor = commonAncestorOf(project.Media)
	}

	var entries []PathPlanEntry
	usedGUIDs := make([]model.GUID, 0, len(usage.Used))
	for guid := range usage.Used {
		usedGUIDs = append(usedGUIDs, guid)
	}
	sortGUIDs(usedGUIDs)

	claimed := make(map[string]bool)

	for _, guid := range usedGUIDs {
		mf, ok := project.Media[guid]
		if !ok {
			continue
		}
		info := usage.Used[guid]

		dir := mediaDirectory(project, opts, mf, commonAncestor)
		baseName := mediaBaseName(project, opts, mf, guid)

		entry := PathPlanEntry{MediaGUID: guid, SourcePath: mf.Path}
		entry.Outputs = buildOutputs(info, opts, dir, baseName, claimed, exists)
		entries = append(entries, entry)
	}
	return entries
}

func buildOutputs(info *analyze.UsageInfo, opts Options, dir, baseName string, claimed map[string]bool, exists existsOnDisk) []Output {
	if opts.ProcessingMode == ProcessingNoProcess {
		return nil
	}

	ext := filepath.Ext(baseName)
	stem := strings.TrimSuffix(baseName, ext)

	var ranges []tick.Range
	singleRange := opts.Optimization == OptimizeKeepSameNumberOfFiles ||
		(opts.ProcessingMode == ProcessingTrim && len(info.Ranges) <= 1)

	if singleRange {
		ranges = []tick.Range{info.MergedRange}
	} else {
		ranges = tick.Optimize(info.Ranges, opts.GapTolerance)
	}

	outputs := make([]Output, 0, len(ranges))
	for i, r := range ranges {
		r := r
		var suffix string
		if len(ranges) > 1 {
			if opts.AddFrameRangeToFilename {
				startSec, endSec := r.ToSeconds()
				suffix = fmt.Sprintf("_%d_to_%d", int64(startSec), int64(endSec))
			} else {
				suffix = fmt.Sprintf("_%03d", i+1)
			}
		}
		name := stem + suffix + ext
		path := uniquePath(filepath.Join(dir, name), opts.GenerateUniqueFilenames, claimed, exists)
		claimed[path] = true
		outputs = append(outputs, Output{Path: path, Range: &r})
	}
	return outputs
}

// mediaDirectory implements the §4.5 directory-assembly rules.
func mediaDirectory(project *model.Project, opts Options, mf *model.MediaFile, commonAncestor string) string {
	root := filepath.Join(opts.OutputRoot, "Media")

	switch opts.Folder {
	case FolderBinStructure:
		if item := itemForMedia(project, mf.GUID); item != nil {
			for _, bin := range project.Bins {
				if bin.ID == item.BinID {
					return filepath.Join(root, filepath.FromSlash(bin.Path))
				}
			}
		}
		return root
	case FolderOriginalDiskStructure:
		if commonAncestor == "" {
			return root
		}
		rel, err := filepath.Rel(commonAncestor, filepath.Dir(mf.Path))
		if err != nil || strings.HasPrefix(rel, "..") {
			return root
		}
		return filepath.Join(root, rel)
	default:
		return root
	}
}

func itemForMedia(project *model.Project, guid model.GUID) *model.ProjectItem {
	for _, item := range project.Items {
		if item.MediaRef == guid {
			return item
		}
	}
	return nil
}

func mediaBaseName(project *model.Project, opts Options, mf *model.MediaFile, guid model.GUID) string {
	if opts.UseProjectItemNames {
		if item := itemForMedia(project, guid); item != nil && item.Name != "" {
			ext := filepath.Ext(mf.Path)
			if strings.HasSuffix(strings.ToLower(item.Name), strings.ToLower(ext)) {
				return item.Name
			}
			return item.Name + ext
		}
	}
	return filepath.Base(mf.Path)
}

func uniquePath(path string, generateUnique bool, claimed map[string]bool, exists existsOnDisk) string {
	if !generateUnique {
		return path
	}
	if !claimed[path] && !exists(path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; n < 1000; n++ {
		candidate := fmt.Sprintf("%s_pp%03d%s", stem, n, ext)
		if !claimed[candidate] && !exists(candidate) {
			return candidate
		}
	}
	return path
}

// commonAncestorOf computes the deepest shared parent directory across
// every media file's absolute path. Returns "" if there is no common
// ancestor (e.g. different drive letters), signalling the Flat fallback.
func commonAncestorOf(media map[model.GUID]*model.MediaFile) string {
	var common []string
	first := true
	for _, mf := range media {
		parts := strings.Split(filepath.ToSlash(filepath.Dir(mf.Path)), "/")
		if first {
			common = parts
			first = false
			continue
		}
		common = commonPrefix(common, parts)
		if len(common) == 0 {
			return ""
		}
	}
	if len(common) == 0 {
		return ""
	}
	joined := strings.Join(common, "/")
	if joined == "" {
		return ""
	}
	return filepath.FromSlash(joined)
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func sortGUIDs(guids []model.GUID) {
	for i := 1; i < len(guids); i++ {
		for j := i; j > 0 && guids[j-1] > guids[j]; j-- {
			guids[j-1], guids[j] = guids[j], guids[j-1]
		}
	}
}
