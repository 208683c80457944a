package transcode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"consolidator/pkg/tick"
)

func TestTrimArgsShape(t *testing.T) {
	r := tick.NewRange(tick.PerSecond, 3*tick.PerSecond)
	args := TrimArgs("/in.mov", "/out.mov", r)
	require.Equal(t, []string{
		"-y",
		"-i", "/in.mov",
		"-ss", "1.000000",
		"-t", "2.000000",
		"-c", "copy",
		"-map", "0:v?",
		"-map", "0:a?",
		"-avoid_negative_ts", "make_zero",
		"-reset_timestamps", "1",
		"/out.mov",
	}, args)
}

func TestTranscodeArgsWithAndWithoutRange(t *testing.T) {
	whole := TranscodeArgs("/in.mov", "/out.mov", PresetH264High, nil)
	require.Equal(t, []string{
		"-y", "-i", "/in.mov",
		"-c:v", "libx264", "-preset", "slow", "-crf", "18", "-c:a", "aac", "-b:a", "320k",
		"/out.mov",
	}, whole)

	r := tick.NewRange(0, tick.PerSecond)
	bounded := TranscodeArgs("/in.mov", "/out.mov", PresetH264High, &r)
	require.Contains(t, bounded, "-ss")
	require.Contains(t, bounded, "-t")
}

func TestPresetArgsVerbatim(t *testing.T) {
	require.Equal(t, []string{"-c:v", "prores_ks", "-profile:v", "2", "-c:a", "pcm_s24le"}, presetArgs(PresetProRes422))
	require.Equal(t, []string{"-c:v", "prores_ks", "-profile:v", "3", "-c:a", "pcm_s24le"}, presetArgs(PresetProRes422HQ))
	require.Equal(t, []string{"-c:v", "prores_ks", "-profile:v", "1", "-c:a", "pcm_s24le"}, presetArgs(PresetProRes422LT))
	require.Equal(t, []string{"-c:v", "prores_ks", "-profile:v", "4", "-c:a", "pcm_s24le"}, presetArgs(PresetProRes4444))
	require.Equal(t, []string{"-c:v", "dnxhd", "-b:v", "185M", "-c:a", "pcm_s24le"}, presetArgs(PresetDNxHD))
	require.Equal(t, []string{"-c:v", "dnxhd", "-profile:v", "dnxhr_hq", "-c:a", "pcm_s24le"}, presetArgs(PresetDNxHR))
}

func TestParseRational(t *testing.T) {
	num, den := parseRational("24000/1001")
	require.Equal(t, 24000, num)
	require.Equal(t, 1001, den)

	num, den = parseRational("garbage")
	require.Equal(t, 0, num)
	require.Equal(t, 0, den)
}

func TestLosslessTrimmableCodecSet(t *testing.T) {
	require.True(t, losslessTrimmableCodecs["prores_ks"])
	require.True(t, losslessTrimmableCodecs["h264"])
	require.False(t, losslessTrimmableCodecs["vp9"])
}

func TestLocateMissingBinaryReturnsErrTranscoderMissing(t *testing.T) {
	_, err := locate("definitely-not-a-real-binary-xyz")
	require.ErrorIs(t, err, ErrTranscoderMissing)
}
