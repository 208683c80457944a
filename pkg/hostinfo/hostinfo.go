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

// Package hostinfo wraps host disk introspection for validate_output_path
// and estimate_output_size.
package hostinfo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

const (
	kibibyte float64 = 1024
	mebibyte         = kibibyte * 1024
	gibibyte         = mebibyte * 1024
	tebibyte         = gibibyte * 1024
)

// FormatBytes renders n using binary (1024) prefixes: B/KB/MB/GB/TB, with
// two-decimal precision above bytes.
func FormatBytes(n int64) string {
	f := float64(n)
	switch {
	case f < kibibyte:
		return fmt.Sprintf("%dB", n)
	case f < mebibyte:
		return fmt.Sprintf("%.2fKB", f/kibibyte)
	case f < gibibyte:
		return fmt.Sprintf("%.2fMB", f/mebibyte)
	case f < tebibyte:
		return fmt.Sprintf("%.2fGB", f/gibibyte)
	default:
		return fmt.Sprintf("%.2fTB", f/tebibyte)
	}
}

// DiskSpace reports free/total space for the filesystem containing path.
type DiskSpace struct {
	Path      string
	FreeBytes uint64
	Total     uint64
	Free      string // FormatBytes(FreeBytes)
}

// usageFunc abstracts disk.Usage for tests.
type usageFunc func(path string) (*disk.UsageStat, error)

var diskUsage usageFunc = disk.Usage

// Disk reports free/total space for the volume containing path, walking up
// to the nearest existing ancestor directory when path itself doesn't exist
// yet (the common case: the output root hasn't been created).
func Disk(path string) (DiskSpace, error) {
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	usage, err := diskUsage(probe)
	if err != nil {
		return DiskSpace{}, fmt.Errorf("hostinfo: disk usage %s: %w", probe, err)
	}

	return DiskSpace{
		Path:      probe,
		FreeBytes: usage.Free,
		Total:     usage.Total,
		Free:      FormatBytes(int64(usage.Free)),
	}, nil
}

// ValidateOutputPath checks that the output root has at least
// requiredBytes of free space available, creating the directory first if
// it does not yet exist so the check reflects the real destination
// filesystem.
func ValidateOutputPath(path string, requiredBytes int64) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("hostinfo: create output path %s: %w", path, err)
	}

	space, err := Disk(path)
	if err != nil {
		return err
	}
	if int64(space.FreeBytes) < requiredBytes {
		return fmt.Errorf(
			"hostinfo: insufficient free space at %s: need %s, have %s",
			path, FormatBytes(requiredBytes), space.Free,
		)
	}
	return nil
}

// EstimateOutputSize sums the on-disk size of the given source paths
// (the used-media set a planning pass would process), returning both the
// raw byte count and its formatted form.
func EstimateOutputSize(paths []string) (int64, string) {
	var total int64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total, FormatBytes(total)
}
