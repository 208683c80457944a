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

// Package config loads the YAML environment configuration: transcoder
// binary locations, the API server's bind address and auth, and a set of
// default consolidation options.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Env is the top-level environment configuration, loaded once at startup.
type Env struct {
	Addr       string `yaml:"addr"`
	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`

	DataDir   string `yaml:"dataDir"`
	ConfigDir string

	AuthUsername     string `yaml:"authUsername"`
	AuthPasswordHash string `yaml:"authPasswordHash"`

	Defaults Defaults `yaml:"defaults"`
}

// Defaults are the consolidation options read from the file, with unset
// fields filled in by Parse. Neither the HTTP API nor the CLI reads them.
type Defaults struct {
	ProcessingMode   string `yaml:"processingMode"`
	OptimizationMode string `yaml:"optimizationMode"`
	FolderStructure  string `yaml:"folderStructure"`
	HandleFrames     int64  `yaml:"handleFrames"`
	SkipOfflineMedia bool   `yaml:"skipOfflineMedia"`
}

// Load reads and validates envPath, filling in defaults for every unset
// field the way the teacher's ConfigEnv does.
func Load(envPath string) (*Env, error) {
	raw, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", envPath, err)
	}
	return Parse(envPath, raw)
}

// Parse unmarshals envYAML and applies defaults; split out from Load so
// tests can exercise it without touching the filesystem.
func Parse(envPath string, envYAML []byte) (*Env, error) {
	var env Env
	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", envPath, err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Addr == "" {
		env.Addr = ":2324"
	}
	if env.FFmpegBin == "" {
		env.FFmpegBin = "ffmpeg"
	}
	if env.FFprobeBin == "" {
		env.FFprobeBin = "ffprobe"
	}
	if env.DataDir == "" {
		env.DataDir = filepath.Join(env.ConfigDir, "data")
	}

	if env.Defaults.ProcessingMode == "" {
		env.Defaults.ProcessingMode = "Trim"
	}
	if env.Defaults.OptimizationMode == "" {
		env.Defaults.OptimizationMode = "KeepSameNumberOfFiles"
	}
	if env.Defaults.FolderStructure == "" {
		env.Defaults.FolderStructure = "Flat"
	}
	if env.Defaults.HandleFrames == 0 {
		env.Defaults.HandleFrames = 12
	}

	if !filepath.IsAbs(env.DataDir) {
		return nil, fmt.Errorf("config: dataDir %q is not an absolute path", env.DataDir)
	}

	return &env, nil
}

// EventsDBPath is where the job log's bolt database lives within DataDir.
func (env *Env) EventsDBPath() string {
	return filepath.Join(env.DataDir, "events.db")
}

// PrepareEnvironment creates the directories Env references.
func (env *Env) PrepareEnvironment() error {
	if err := os.MkdirAll(env.DataDir, 0o700); err != nil {
		return fmt.Errorf("config: create data dir %s: %w", env.DataDir, err)
	}
	return nil
}
