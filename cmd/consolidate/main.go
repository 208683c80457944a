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

// Package main is the consolidate CLI: project inspection, media usage
// analysis, and consolidation commands over the same engine the HTTP
// API drives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"consolidator"
	"consolidator/pkg/analyze"
	"consolidator/pkg/graph"
	"consolidator/pkg/hostinfo"
	"consolidator/pkg/job"
	"consolidator/pkg/model"
	"consolidator/pkg/plan"
	"consolidator/pkg/resolve"
	"consolidator/pkg/transcode"
)

var envPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "consolidate",
		Short: "Inspect and consolidate editing project media",
	}
	root.PersistentFlags().StringVar(&envPath, "env", "./env.yaml", "path to the environment config")

	root.AddCommand(
		newServeCmd(),
		newInfoCmd(),
		newSequencesCmd(),
		newMediaCmd(),
		newAnalyzeCmd(),
		newUnusedCmd(),
		newConsolidateCmd(),
		newCheckTranscoderCmd(),
		newMetadataCmd(),
		newEstimateCmd(),
		newValidatePathCmd(),
	)
	return root
}

func loadProject(path string) (*model.Project, error) {
	g, err := graph.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	return resolve.BuildProject(g, path)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return consolidator.Run(envPath)
		},
	}
}

func newInfoCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print parsed project metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(path)
			if err != nil {
				return err
			}
			return printJSON(project)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "project file path")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func newSequencesCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "sequences",
		Short: "List sequences in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(path)
			if err != nil {
				return err
			}
			return printJSON(project.Sequences)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "project file path")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func newMediaCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "media",
		Short: "List media items in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(path)
			if err != nil {
				return err
			}
			return printJSON(project.Media)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "project file path")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func splitGUIDs(csv string) []model.GUID {
	if csv == "" {
		return nil
	}
	var out []model.GUID
	for _, id := range strings.Split(csv, ",") {
		out = append(out, model.GUID(id))
	}
	return out
}

func newAnalyzeCmd() *cobra.Command {
	var path, sequences string
	var handleFrames int64
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report which media a set of sequences uses",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(path)
			if err != nil {
				return err
			}
			usage := analyze.Analyze(project, splitGUIDs(sequences), analyze.Options{HandleFrames: handleFrames})
			return printJSON(usage)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "project file path")
	cmd.Flags().StringVar(&sequences, "sequences", "", "comma-separated sequence GUIDs, empty means all")
	cmd.Flags().Int64Var(&handleFrames, "handle-frames", 12, "extra frames of handle on each side of a used range")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func newUnusedCmd() *cobra.Command {
	var path, sequences string
	var handleFrames int64
	cmd := &cobra.Command{
		Use:   "unused",
		Short: "List media not referenced by the given sequences",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(path)
			if err != nil {
				return err
			}
			usage := analyze.Analyze(project, splitGUIDs(sequences), analyze.Options{HandleFrames: handleFrames})
			return printJSON(usage.Unused)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "project file path")
	cmd.Flags().StringVar(&sequences, "sequences", "", "comma-separated sequence GUIDs, empty means all")
	cmd.Flags().Int64Var(&handleFrames, "handle-frames", 12, "extra frames of handle on each side of a used range")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func newConsolidateCmd() *cobra.Command {
	var path, sequences, outputRoot string
	var processingMode, optimizationMode, folderStructure string
	var handleFrames int64
	var skipOffline bool
	var ffmpegBin, ffprobeBin string

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run a consolidation job and report progress to the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(path)
			if err != nil {
				return err
			}

			var transcoder *transcode.Transcoder
			if t, err := transcode.New(ffmpegBin, ffprobeBin); err == nil {
				transcoder = t
			}

			opts := job.Options{
				SequenceIDs:      splitGUIDs(sequences),
				SkipOfflineMedia: skipOffline,
				AnalyzeOptions:   analyze.Options{HandleFrames: handleFrames},
				PlanOptions: plan.Options{
					OutputRoot:              outputRoot,
					ProcessingMode:          parseProcessingMode(processingMode),
					Optimization:            parseOptimizationMode(optimizationMode),
					Folder:                  parseFolderStructure(folderStructure),
					GenerateUniqueFilenames: true,
				},
			}

			e := job.New(project, opts, transcoder, nil)
			return runWithProgressBar(cmd.Context(), e)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "project file path")
	cmd.Flags().StringVar(&sequences, "sequences", "", "comma-separated sequence GUIDs, empty means all")
	cmd.Flags().StringVar(&outputRoot, "output", "", "output directory for the consolidated project")
	cmd.Flags().StringVar(&processingMode, "processing-mode", "Trim", "Trim, Copy, Transcode, or NoProcess")
	cmd.Flags().StringVar(&optimizationMode, "optimization-mode", "KeepSameNumberOfFiles", "MinimizeDiskSpace, KeepSameNumberOfFiles, or EachClipUnique")
	cmd.Flags().StringVar(&folderStructure, "folder-structure", "Flat", "Flat, BinStructure, or OriginalDiskStructure")
	cmd.Flags().Int64Var(&handleFrames, "handle-frames", 12, "extra frames of handle on each side of a used range")
	cmd.Flags().BoolVar(&skipOffline, "skip-offline-media", true, "skip media that cannot be found on disk instead of failing")
	cmd.Flags().StringVar(&ffmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary name or path")
	cmd.Flags().StringVar(&ffprobeBin, "ffprobe", "ffprobe", "ffprobe binary name or path")
	cmd.MarkFlagRequired("path")   //nolint:errcheck
	cmd.MarkFlagRequired("output") //nolint:errcheck
	return cmd
}

// runWithProgressBar runs e on a background goroutine and, on the current
// goroutine, polls its progress and renders it with a terminal bar until
// the run finishes.
func runWithProgressBar(ctx context.Context, e *job.Engine) error {
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("consolidating"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			bar.Finish()
			p := e.Progress()
			fmt.Printf("\n%s: %d files, %d errors, %d warnings\n", p.Status, p.FilesProcessed, len(p.Errors), len(p.Warnings))
			for _, rec := range p.Errors {
				fmt.Printf("  error: %s: %s\n", rec.Path, rec.Message)
			}
			return err
		case <-ticker.C:
			p := e.Progress()
			if p.FilesTotal > 0 {
				bar.ChangeMax(p.FilesTotal)
			}
			bar.Set(p.FilesProcessed) //nolint:errcheck
			bar.Describe(fmt.Sprintf("%s: %s", p.Status, p.CurrentFile))
		}
	}
}

func newCheckTranscoderCmd() *cobra.Command {
	var ffmpegBin, ffprobeBin string
	cmd := &cobra.Command{
		Use:   "check-transcoder",
		Short: "Report whether ffmpeg/ffprobe are resolvable",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := transcode.New(ffmpegBin, ffprobeBin)
			if err != nil {
				return printJSON(map[string]bool{"available": false})
			}
			return printJSON(map[string]string{"encoder": t.EncoderPath(), "prober": t.ProberPath()})
		},
	}
	cmd.Flags().StringVar(&ffmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary name or path")
	cmd.Flags().StringVar(&ffprobeBin, "ffprobe", "ffprobe", "ffprobe binary name or path")
	return cmd
}

func newMetadataCmd() *cobra.Command {
	var path, ffmpegBin, ffprobeBin string
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Probe a media file and print its codec/duration metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := transcode.New(ffmpegBin, ffprobeBin)
			if err != nil {
				return err
			}
			info, err := t.Probe(cmd.Context(), path)
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "media file path")
	cmd.Flags().StringVar(&ffmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary name or path")
	cmd.Flags().StringVar(&ffprobeBin, "ffprobe", "ffprobe", "ffprobe binary name or path")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func newEstimateCmd() *cobra.Command {
	var path, sequences string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the output size of a consolidation",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(path)
			if err != nil {
				return err
			}
			usage := analyze.Analyze(project, splitGUIDs(sequences), analyze.Options{})
			var paths []string
			for guid := range usage.Used {
				if mf, ok := project.Media[guid]; ok {
					paths = append(paths, mf.Path)
				}
			}
			total, formatted := hostinfo.EstimateOutputSize(paths)
			return printJSON(map[string]interface{}{"bytes": total, "formatted": formatted})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "project file path")
	cmd.Flags().StringVar(&sequences, "sequences", "", "comma-separated sequence GUIDs, empty means all")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func newValidatePathCmd() *cobra.Command {
	var path string
	var requiredBytes int64
	cmd := &cobra.Command{
		Use:   "validate-path",
		Short: "Check that an output path has enough free space",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := hostinfo.ValidateOutputPath(path, requiredBytes); err != nil {
				return printJSON(map[string]interface{}{"valid": false, "reason": err.Error()})
			}
			return printJSON(map[string]bool{"valid": true})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "output directory")
	cmd.Flags().Int64Var(&requiredBytes, "required-bytes", 0, "bytes the consolidation is expected to write")
	cmd.MarkFlagRequired("path") //nolint:errcheck
	return cmd
}

func parseProcessingMode(s string) plan.ProcessingMode {
	switch s {
	case "Transcode":
		return plan.ProcessingTranscode
	case "Copy":
		return plan.ProcessingCopy
	case "NoProcess":
		return plan.ProcessingNoProcess
	default:
		return plan.ProcessingTrim
	}
}

func parseOptimizationMode(s string) plan.OptimizationMode {
	switch s {
	case "MinimizeDiskSpace":
		return plan.OptimizeMinimizeDiskSpace
	case "EachClipUnique":
		return plan.OptimizeEachClipUnique
	default:
		return plan.OptimizeKeepSameNumberOfFiles
	}
}

func parseFolderStructure(s string) plan.FolderStructure {
	switch s {
	case "BinStructure":
		return plan.FolderBinStructure
	case "OriginalDiskStructure":
		return plan.FolderOriginalDiskStructure
	default:
		return plan.FolderFlat
	}
}
