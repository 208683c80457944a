package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestParseMinimalFillsDefaults(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "configs")
	envPath := filepath.Join(configDir, "env.yaml")

	envYAML, err := yaml.Marshal(Env{})
	require.NoError(t, err)

	env, err := Parse(envPath, envYAML)
	require.NoError(t, err)

	require.Equal(t, ":2324", env.Addr)
	require.Equal(t, "ffmpeg", env.FFmpegBin)
	require.Equal(t, "ffprobe", env.FFprobeBin)
	require.Equal(t, filepath.Join(configDir, "data"), env.DataDir)
	require.Equal(t, "Trim", env.Defaults.ProcessingMode)
	require.Equal(t, "KeepSameNumberOfFiles", env.Defaults.OptimizationMode)
	require.Equal(t, "Flat", env.Defaults.FolderStructure)
	require.EqualValues(t, 12, env.Defaults.HandleFrames)
}

func TestParseRespectsExplicitValues(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "configs")
	envPath := filepath.Join(configDir, "env.yaml")

	envYAML, err := yaml.Marshal(Env{
		Addr:      "127.0.0.1:9000",
		FFmpegBin: "/opt/ffmpeg/bin/ffmpeg",
		DataDir:   "/var/lib/consolidator",
		Defaults:  Defaults{HandleFrames: 24},
	})
	require.NoError(t, err)

	env, err := Parse(envPath, envYAML)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", env.Addr)
	require.Equal(t, "/opt/ffmpeg/bin/ffmpeg", env.FFmpegBin)
	require.Equal(t, "/var/lib/consolidator", env.DataDir)
	require.EqualValues(t, 24, env.Defaults.HandleFrames)
}

func TestParseRejectsRelativeDataDir(t *testing.T) {
	envYAML, err := yaml.Marshal(Env{DataDir: "relative/data"})
	require.NoError(t, err)

	_, err = Parse("/configs/env.yaml", envYAML)
	require.Error(t, err)
}

func TestEventsDBPathUnderDataDir(t *testing.T) {
	env := &Env{DataDir: "/var/lib/consolidator"}
	require.Equal(t, "/var/lib/consolidator/events.db", env.EventsDBPath())
}
