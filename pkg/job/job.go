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

// Package job drives one consolidation end to end: analyze, plan, process
// every used media item through the transcoder adapter, rewrite the
// project, and write the manifest — all observable through a Progress
// snapshot and cooperatively cancellable.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/pretty"

	"consolidator/pkg/analyze"
	"consolidator/pkg/joblog"
	"consolidator/pkg/model"
	"consolidator/pkg/plan"
	"consolidator/pkg/transcode"
)

// Status is one of the executor's state-machine states.
type Status string

// States, see component design §4.6.
const (
	StatusPending        Status = "Pending"
	StatusAnalyzing      Status = "Analyzing"
	StatusProcessing     Status = "Processing"
	StatusWritingProject Status = "WritingProject"
	StatusCompleted      Status = "Completed"
	StatusCancelled      Status = "Cancelled"
	StatusFailed         Status = "Failed"
)

// ErrorRecord is one structured failure or warning gathered onto Progress.
type ErrorRecord struct {
	Path    string
	Message string
	Fatal   bool
}

// Progress is the live, mutex-guarded view of one job's state.
type Progress struct {
	mu sync.Mutex

	JobID            string
	Status           Status
	CurrentFile      string
	CurrentOperation string
	FilesProcessed   int
	FilesTotal       int
	BytesProcessed   int64
	BytesTotal       int64
	Errors           []ErrorRecord
	Warnings         []ErrorRecord
}

// Snapshot returns a copy of the current progress, safe to hand to a
// caller without further locking.
func (p *Progress) Snapshot() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p
	cp.Errors = append([]ErrorRecord(nil), p.Errors...)
	cp.Warnings = append([]ErrorRecord(nil), p.Warnings...)
	return cp
}

func (p *Progress) setStatus(s Status) {
	p.mu.Lock()
	p.Status = s
	p.mu.Unlock()
}

func (p *Progress) setCurrent(file, operation string) {
	p.mu.Lock()
	p.CurrentFile = file
	p.CurrentOperation = operation
	p.mu.Unlock()
}

func (p *Progress) setTotals(files int, bytes int64) {
	p.mu.Lock()
	p.FilesTotal = files
	p.BytesTotal = bytes
	p.mu.Unlock()
}

func (p *Progress) advance(bytes int64) {
	p.mu.Lock()
	p.FilesProcessed++
	p.BytesProcessed += bytes
	p.mu.Unlock()
}

func (p *Progress) addError(rec ErrorRecord) {
	p.mu.Lock()
	p.Errors = append(p.Errors, rec)
	p.mu.Unlock()
}

func (p *Progress) addWarning(rec ErrorRecord) {
	p.mu.Lock()
	p.Warnings = append(p.Warnings, rec)
	p.mu.Unlock()
}

func (p *Progress) hasFatalError() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.Errors {
		if e.Fatal {
			return true
		}
	}
	return false
}

// Options configures one consolidation run, layering the analyzer and
// planner configuration with the executor's own knobs.
type Options struct {
	SequenceIDs      []model.GUID
	AnalyzeOptions   analyze.Options
	PlanOptions      plan.Options
	SkipOfflineMedia bool
	CopySidecarFiles bool
	TranscodePreset  transcode.Preset
}

// Engine drives one job's lifecycle. cancelFlag is the shared atomic flag
// polled at every major step and during the transcoder's ~100ms wait.
type Engine struct {
	progress   *Progress
	cancelFlag int32

	project    *model.Project
	opts       Options
	transcoder *transcode.Transcoder
	logger     *joblog.Logger
}

// New allocates an Engine with a fresh job id and Pending status. project
// is deep-copied so the engine's view of it can never alias a project
// cache entry that a concurrent reparse replaces mid-run.
func New(project *model.Project, opts Options, transcoder *transcode.Transcoder, logger *joblog.Logger) *Engine {
	var snapshot model.Project
	if err := copier.CopyWithOption(&snapshot, project, copier.Option{DeepCopy: true}); err != nil {
		snapshot = *project
	}

	return &Engine{
		progress:   &Progress{JobID: uuid.NewString(), Status: StatusPending},
		project:    &snapshot,
		opts:       opts,
		transcoder: transcoder,
		logger:     logger,
	}
}

// JobID returns the engine's identifier.
func (e *Engine) JobID() string { return e.progress.JobID }

// Progress returns a consistent snapshot of the job's current state.
func (e *Engine) Progress() Progress { return e.progress.Snapshot() }

// Cancel requests cooperative cancellation.
func (e *Engine) Cancel() { atomic.StoreInt32(&e.cancelFlag, 1) }

func (e *Engine) cancelled() bool { return atomic.LoadInt32(&e.cancelFlag) == 1 }

// Run executes the full pipeline. It never returns an error for
// job-level failures — those are recorded on Progress and reflected in
// the terminal Status; a returned error means the job could not even be
// attempted (e.g. the output root could not be created).
func (e *Engine) Run(ctx context.Context) error {
	if e.cancelled() {
		e.progress.setStatus(StatusCancelled)
		return nil
	}

	e.progress.setStatus(StatusAnalyzing)
	usage := analyze.Analyze(e.project, e.opts.SequenceIDs, e.opts.AnalyzeOptions)

	filesTotal := len(usage.Used)
	var bytesTotal int64
	for guid := range usage.Used {
		if mf, ok := e.project.Media[guid]; ok {
			size := mf.FileSize
			if size == 0 {
				if info, err := os.Stat(mf.Path); err == nil {
					size = info.Size()
				}
			}
			bytesTotal += size
		}
	}
	e.progress.setTotals(filesTotal, bytesTotal)

	if e.cancelled() {
		e.progress.setStatus(StatusCancelled)
		return nil
	}

	if err := os.MkdirAll(filepath.Join(e.opts.PlanOptions.OutputRoot, "Media"), 0o755); err != nil {
		return fmt.Errorf("job: create output tree: %w", err)
	}

	e.progress.setStatus(StatusProcessing)
	entries := plan.Plan(e.project, usage, e.opts.PlanOptions)

	pathMappings := make(map[string]string, len(entries))
	for _, entry := range entries {
		if e.cancelled() {
			e.progress.setStatus(StatusCancelled)
			e.progress.addError(ErrorRecord{Message: "cancelled", Fatal: false})
			return nil
		}
		e.processEntry(ctx, entry, pathMappings)
	}

	if e.cancelled() {
		e.progress.setStatus(StatusCancelled)
		return nil
	}

	e.progress.setStatus(StatusWritingProject)
	e.progress.setCurrent(e.project.FilePath, "rewrite project")
	outputProjectPath := filepath.Join(e.opts.PlanOptions.OutputRoot, filepath.Base(e.project.FilePath))
	if err := rewriteProject(e.project.FilePath, outputProjectPath, pathMappings); err != nil {
		e.progress.addError(ErrorRecord{Path: e.project.FilePath, Message: err.Error(), Fatal: true})
	}

	if err := writeManifest(e.opts.PlanOptions.OutputRoot, e.project.FilePath, pathMappings, e.opts); err != nil {
		e.progress.addError(ErrorRecord{Path: "consolidation_manifest.json", Message: err.Error(), Fatal: true})
	}

	if e.progress.hasFatalError() {
		e.progress.setStatus(StatusFailed)
	} else {
		e.progress.setStatus(StatusCompleted)
	}
	return nil
}

func (e *Engine) processEntry(ctx context.Context, entry plan.PathPlanEntry, pathMappings map[string]string) {
	if _, ok := e.project.Media[entry.MediaGUID]; !ok {
		return
	}
	e.progress.setCurrent(entry.SourcePath, "process")

	if _, err := os.Stat(entry.SourcePath); err != nil {
		if e.opts.SkipOfflineMedia {
			e.progress.addWarning(ErrorRecord{Path: entry.SourcePath, Message: "media offline, skipped"})
		} else {
			e.progress.addError(ErrorRecord{Path: entry.SourcePath, Message: "media offline", Fatal: false})
		}
		return
	}

	if len(entry.Outputs) == 0 {
		pathMappings[entry.SourcePath] = entry.SourcePath
		return
	}

	for i, out := range entry.Outputs {
		if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
			e.progress.addError(ErrorRecord{Path: out.Path, Message: err.Error(), Fatal: false})
			continue
		}

		if err := e.produceOutput(ctx, entry.SourcePath, out); err != nil {
			e.progress.addError(ErrorRecord{Path: out.Path, Message: err.Error(), Fatal: false})
			continue
		}
		if i == 0 {
			pathMappings[entry.SourcePath] = out.Path
		}
	}

	size := int64(0)
	if info, err := os.Stat(entry.SourcePath); err == nil {
		size = info.Size()
	}
	e.progress.advance(size)
}

func (e *Engine) produceOutput(ctx context.Context, sourcePath string, out plan.Output) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for !e.cancelled() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		stop()
	}()

	switch e.opts.PlanOptions.ProcessingMode {
	case plan.ProcessingTrim:
		if out.Range == nil {
			return copyFile(sourcePath, out.Path)
		}
		args := transcode.TrimArgs(sourcePath, out.Path, *out.Range)
		return e.transcoder.Invoke(ctx, args)
	case plan.ProcessingTranscode:
		args := transcode.TranscodeArgs(sourcePath, out.Path, e.opts.TranscodePreset, out.Range)
		return e.transcoder.Invoke(ctx, args)
	default:
		return copyFile(sourcePath, out.Path)
	}
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// rewriteProject decompresses the original project, substitutes every
// source path occurrence with its mapped output path (tried as-is and
// with both slash conventions, to be robust to whichever style the
// document used), and recompresses it to outputPath.
func rewriteProject(originalPath, outputPath string, pathMappings map[string]string) error {
	f, err := os.Open(originalPath)
	if err != nil {
		return fmt.Errorf("open original project: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("decompress original project: %w", err)
	}
	raw, err := io.ReadAll(gz)
	gz.Close()
	if err != nil {
		return fmt.Errorf("read original project: %w", err)
	}

	doc := string(raw)
	for _, original := range longestFirst(pathMappings) {
		replacement := pathMappings[original]
		for _, variant := range pathVariants(original) {
			doc = strings.ReplaceAll(doc, variant, replacement)
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output project: %w", err)
	}
	defer out.Close()

	w := gzip.NewWriter(out)
	if _, err := w.Write([]byte(doc)); err != nil {
		w.Close()
		return fmt.Errorf("write output project: %w", err)
	}
	return w.Close()
}

// longestFirst orders a path-mapping's keys longest-first, so that when
// one source path is a substring of another, the more specific (longer)
// path is substituted before the shorter one can shadow it.
func longestFirst(mappings map[string]string) []string {
	keys := make([]string, 0, len(mappings))
	for k := range mappings {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && len(keys[j-1]) < len(keys[j]); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// pathVariants returns path as-is plus its forward-slash and
// backslash-normalized forms.
func pathVariants(path string) []string {
	forward := strings.ReplaceAll(path, `\`, "/")
	backward := strings.ReplaceAll(path, "/", `\`)
	seen := map[string]bool{path: true}
	out := []string{path}
	for _, v := range []string{forward, backward} {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// manifest mirrors the consolidation_manifest.json schema from the
// external interface table.
type manifest struct {
	Version         string            `json:"version"`
	Created         string            `json:"created"`
	OriginalProject string            `json:"original_project"`
	PathMappings    []pathMappingJSON `json:"path_mappings"`
	Config          manifestConfig    `json:"config"`
}

type pathMappingJSON struct {
	Original string `json:"original"`
	New      string `json:"new"`
}

type manifestConfig struct {
	ProcessingMode   string `json:"processing_mode"`
	OptimizationMode string `json:"optimization_mode"`
	FolderStructure  string `json:"folder_structure"`
	HandleFrames     int64  `json:"handle_frames"`
}

func writeManifest(outputRoot, originalPath string, pathMappings map[string]string, opts Options) error {
	m := manifest{
		Version:         "1.0",
		Created:         time.Now().UTC().Format(time.RFC3339),
		OriginalProject: originalPath,
		Config: manifestConfig{
			ProcessingMode:   processingModeName(opts.PlanOptions.ProcessingMode),
			OptimizationMode: optimizationModeName(opts.PlanOptions.Optimization),
			FolderStructure:  folderStructureName(opts.PlanOptions.Folder),
			HandleFrames:     opts.AnalyzeOptions.HandleFrames,
		},
	}
	for original, replacement := range pathMappings {
		m.PathMappings = append(m.PathMappings, pathMappingJSON{Original: original, New: replacement})
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	formatted := pretty.Pretty(raw)

	return os.WriteFile(filepath.Join(outputRoot, "consolidation_manifest.json"), formatted, 0o644)
}

func processingModeName(m plan.ProcessingMode) string {
	switch m {
	case plan.ProcessingTrim:
		return "Trim"
	case plan.ProcessingTranscode:
		return "Transcode"
	case plan.ProcessingCopy:
		return "Copy"
	default:
		return "NoProcess"
	}
}

func optimizationModeName(m plan.OptimizationMode) string {
	switch m {
	case plan.OptimizeMinimizeDiskSpace:
		return "MinimizeDiskSpace"
	case plan.OptimizeKeepSameNumberOfFiles:
		return "KeepSameNumberOfFiles"
	default:
		return "EachClipUnique"
	}
}

func folderStructureName(f plan.FolderStructure) string {
	switch f {
	case plan.FolderFlat:
		return "Flat"
	case plan.FolderBinStructure:
		return "BinStructure"
	default:
		return "OriginalDiskStructure"
	}
}

// Registry tracks every job ever started, keyed by id; entries are never
// removed so terminal progress remains queryable.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Engine
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Engine)}
}

// Add registers e under its JobID.
func (r *Registry) Add(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[e.JobID()] = e
}

// Get looks up a job by id.
func (r *Registry) Get(jobID string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[jobID]
	return e, ok
}
