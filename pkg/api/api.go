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

// Package api exposes the command surface over HTTP/JSON, plus a
// websocket progress stream, optionally behind HTTP Basic Auth.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"consolidator/pkg/analyze"
	"consolidator/pkg/graph"
	"consolidator/pkg/hostinfo"
	"consolidator/pkg/job"
	"consolidator/pkg/joblog"
	"consolidator/pkg/model"
	"consolidator/pkg/plan"
	"consolidator/pkg/resolve"
	"consolidator/pkg/transcode"
)

// Service is the set of collaborators every handler needs: a shared
// project cache, the job registry, the transcoder adapter, and the
// event logger feeding the websocket stream.
type Service struct {
	Projects   *ProjectCache
	Registry   *job.Registry
	Transcoder *transcode.Transcoder
	Logger     *joblog.Logger

	// Auth, if non-empty, gates every handler behind HTTP Basic Auth.
	AuthUsername     string
	AuthPasswordHash string
}

// ProjectCache memoizes parsed projects by file path behind a read-write
// lock: many concurrent readers, one writer per miss.
type ProjectCache struct {
	mu       sync.RWMutex
	projects map[string]*model.Project
}

// NewProjectCache returns an empty cache.
func NewProjectCache() *ProjectCache {
	return &ProjectCache{projects: make(map[string]*model.Project)}
}

// Get loads path, parsing and caching it on first access.
func (c *ProjectCache) Get(path string) (*model.Project, error) {
	c.mu.RLock()
	p, ok := c.projects[path]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	g, err := graph.Load(path)
	if err != nil {
		return nil, err
	}
	project, err := resolve.BuildProject(g, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.projects[path] = project
	c.mu.Unlock()
	return project, nil
}

// Invalidate drops a cached project, forcing the next Get to reparse.
func (c *ProjectCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.projects, path)
	c.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "could not encode json", http.StatusInternalServerError)
	}
}

func (s *Service) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.AuthUsername == "" {
		return true
	}
	name, pass, ok := r.BasicAuth()
	if !ok || name != s.AuthUsername || bcrypt.CompareHashAndPassword([]byte(s.AuthPasswordHash), []byte(pass)) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="consolidator"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// ProjectInfo handles GET /api/project_info?path=.
func (s *Service) ProjectInfo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		path := r.URL.Query().Get("path")
		project, err := s.Projects.Get(path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, project)
	})
}

// Sequences handles GET /api/sequences?path=.
func (s *Service) Sequences() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		project, err := s.Projects.Get(r.URL.Query().Get("path"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, project.Sequences)
	})
}

// MediaItems handles GET /api/media_items?path=.
func (s *Service) MediaItems() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		project, err := s.Projects.Get(r.URL.Query().Get("path"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, project.Media)
	})
}

// analyzeRequest is the JSON body for /api/analyze.
type analyzeRequest struct {
	ProjectPath        string       `json:"project_path"`
	SequenceIDs        []model.GUID `json:"sequence_ids"`
	HandleFrames       int64        `json:"handle_frames"`
	IncludeAllMulticam bool         `json:"include_all_multicam"`
}

// AnalyzeMediaUsage handles POST /api/analyze.
func (s *Service) AnalyzeMediaUsage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req analyzeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		project, err := s.Projects.Get(req.ProjectPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		usage := analyze.Analyze(project, req.SequenceIDs, analyze.Options{
			HandleFrames:             req.HandleFrames,
			IncludeAllMulticamAngles: req.IncludeAllMulticam,
		})
		writeJSON(w, usage)
	})
}

// UnusedMedia handles POST /api/unused.
func (s *Service) UnusedMedia() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req analyzeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		project, err := s.Projects.Get(req.ProjectPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		usage := analyze.Analyze(project, req.SequenceIDs, analyze.Options{HandleFrames: req.HandleFrames})
		writeJSON(w, usage.Unused)
	})
}

// consolidationRequest is the JSON body for /api/consolidate.
type consolidationRequest struct {
	ProjectPath      string       `json:"project_path"`
	SequenceIDs      []model.GUID `json:"sequence_ids"`
	HandleFrames     int64        `json:"handle_frames"`
	OutputRoot       string       `json:"output_root"`
	ProcessingMode   string       `json:"processing_mode"`
	OptimizationMode string       `json:"optimization_mode"`
	FolderStructure  string       `json:"folder_structure"`
	SkipOfflineMedia bool         `json:"skip_offline_media"`
}

// StartConsolidation handles POST /api/consolidate, returning {"job_id": ...}.
func (s *Service) StartConsolidation() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req consolidationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		project, err := s.Projects.Get(req.ProjectPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		opts := job.Options{
			SequenceIDs:      req.SequenceIDs,
			SkipOfflineMedia: req.SkipOfflineMedia,
			AnalyzeOptions:   analyze.Options{HandleFrames: req.HandleFrames},
			PlanOptions: plan.Options{
				OutputRoot:              req.OutputRoot,
				ProcessingMode:          parseProcessingMode(req.ProcessingMode),
				Optimization:            parseOptimizationMode(req.OptimizationMode),
				Folder:                  parseFolderStructure(req.FolderStructure),
				GenerateUniqueFilenames: true,
			},
		}

		e := job.New(project, opts, s.Transcoder, s.Logger)
		s.Registry.Add(e)
		go e.Run(r.Context()) //nolint:errcheck

		writeJSON(w, map[string]string{"job_id": e.JobID()})
	})
}

// CancelConsolidation handles POST /api/cancel?job_id=.
func (s *Service) CancelConsolidation() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodPost) {
			return
		}
		jobID := r.URL.Query().Get("job_id")
		e, ok := s.Registry.Get(jobID)
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		e.Cancel()
	})
}

// ConsolidationProgress handles GET /api/progress?job_id=.
func (s *Service) ConsolidationProgress() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		jobID := r.URL.Query().Get("job_id")
		e, ok := s.Registry.Get(jobID)
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, e.Progress())
	})
}

// CheckTranscoder handles GET /api/check_transcoder.
func (s *Service) CheckTranscoder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		if s.Transcoder == nil {
			writeJSON(w, map[string]bool{"available": false})
			return
		}
		writeJSON(w, map[string]interface{}{
			"available": true,
			"encoder":   s.Transcoder.EncoderPath(),
			"prober":    s.Transcoder.ProberPath(),
		})
	})
}

// MediaMetadata handles GET /api/media_metadata?path=.
func (s *Service) MediaMetadata() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		if s.Transcoder == nil {
			http.Error(w, "transcoder not configured", http.StatusServiceUnavailable)
			return
		}
		info, err := s.Transcoder.Probe(r.Context(), r.URL.Query().Get("path"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, info)
	})
}

// EstimateOutputSize handles GET /api/estimate?project_path=&sequence_ids=a,b.
func (s *Service) EstimateOutputSize() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		project, err := s.Projects.Get(r.URL.Query().Get("project_path"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var seqIDs []model.GUID
		if raw := r.URL.Query().Get("sequence_ids"); raw != "" {
			for _, id := range strings.Split(raw, ",") {
				seqIDs = append(seqIDs, model.GUID(id))
			}
		}
		usage := analyze.Analyze(project, seqIDs, analyze.Options{})

		var paths []string
		for guid := range usage.Used {
			if mf, ok := project.Media[guid]; ok {
				paths = append(paths, mf.Path)
			}
		}
		total, formatted := hostinfo.EstimateOutputSize(paths)
		writeJSON(w, map[string]interface{}{"bytes": total, "formatted": formatted})
	})
}

// ValidateOutputPath handles GET /api/validate_path?path=&required_bytes=.
func (s *Service) ValidateOutputPath() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) || !requireMethod(w, r, http.MethodGet) {
			return
		}
		path := r.URL.Query().Get("path")
		required, _ := strconv.ParseInt(r.URL.Query().Get("required_bytes"), 10, 64)

		if err := hostinfo.ValidateOutputPath(path, required); err != nil {
			writeJSON(w, map[string]interface{}{"valid": false, "reason": err.Error()})
			return
		}
		writeJSON(w, map[string]bool{"valid": true})
	})
}

// ProgressStream opens a websocket forwarding every joblog event
// dispatched after the upgrade, limited to one job when job_id is given.
// Auth is checked once, before the upgrade; later messages are not
// re-checked.
func (s *Service) ProgressStream() http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth(w, r) {
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()

		feed, cancel := s.Logger.Subscribe()
		defer cancel()

		jobID := r.URL.Query().Get("job_id")
		for entry := range feed {
			if jobID != "" && entry.JobID != jobID {
				continue
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "unmarshal error: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
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
