package analyze

import (
	"testing"

	"github.com/stretchr/testify/require"

	"consolidator/pkg/model"
	"consolidator/pkg/tick"
)

func project(t *testing.T, seqs ...model.Sequence) *model.Project {
	t.Helper()
	return &model.Project{
		Sequences: seqs,
		Media: map[model.GUID]*model.MediaFile{
			"media-a": {GUID: "media-a"},
			"media-b": {GUID: "media-b"},
			"media-c": {GUID: "media-c"},
		},
	}
}

func TestAnalyzeStandardClipContributesUsage(t *testing.T) {
	seq := model.Sequence{
		GUID: "seq-1",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{{
				Variant:  model.ClipStandard,
				MediaRef: "media-a",
				Source:   tick.NewRange(1000, 2000),
			}},
		}},
	}
	usage := Analyze(project(t, seq), nil, Options{})

	info, ok := usage.Used["media-a"]
	require.True(t, ok)
	require.Equal(t, 1, info.UsageCount)
	require.Equal(t, tick.NewRange(1000, 2000), info.MergedRange)
	require.Contains(t, usage.Unused, model.GUID("media-b"))
	require.Contains(t, usage.Unused, model.GUID("media-c"))
}

func TestAnalyzeAdjustmentClipContributesNothing(t *testing.T) {
	seq := model.Sequence{
		GUID: "seq-1",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{{Variant: model.ClipAdjustment}},
		}},
	}
	usage := Analyze(project(t, seq), nil, Options{})
	require.Empty(t, usage.Used)
}

func TestAnalyzeMulticamRespectsActiveFlagUnlessOverridden(t *testing.T) {
	seq := model.Sequence{
		GUID: "seq-1",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{{
				Variant: model.ClipMulticam,
				Source:  tick.NewRange(0, 500),
				Angles: []model.MulticamAngle{
					{MediaRef: "media-a", Active: true},
					{MediaRef: "media-b", Active: false},
				},
			}},
		}},
	}

	usage := Analyze(project(t, seq), nil, Options{})
	require.Contains(t, usage.Used, model.GUID("media-a"))
	require.NotContains(t, usage.Used, model.GUID("media-b"))
	require.True(t, usage.Used["media-a"].IsMulticamAngle)

	usageAll := Analyze(project(t, seq), nil, Options{IncludeAllMulticamAngles: true})
	require.Contains(t, usageAll.Used, model.GUID("media-b"))
}

func TestAnalyzeMergedClipFlagsComponents(t *testing.T) {
	seq := model.Sequence{
		GUID: "seq-1",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{{
				Variant:          model.ClipMergedClip,
				Source:           tick.NewRange(0, 1000),
				MergedComponents: []model.GUID{"media-a", "media-b"},
			}},
		}},
	}
	usage := Analyze(project(t, seq), nil, Options{})
	require.True(t, usage.Used["media-a"].IsMergedComponent)
	require.True(t, usage.Used["media-b"].IsMergedComponent)
}

func TestAnalyzeNestedSequenceRecursesAndBreaksCycles(t *testing.T) {
	inner := model.Sequence{
		GUID: "seq-inner",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{{
				Variant:        model.ClipNested,
				NestedSequence: "seq-outer", // cycle back to the parent
			}},
		}},
	}
	outer := model.Sequence{
		GUID: "seq-outer",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{
				{Variant: model.ClipStandard, MediaRef: "media-a", Source: tick.NewRange(0, 100)},
				{Variant: model.ClipNested, NestedSequence: "seq-inner"},
			},
		}},
	}

	usage := Analyze(project(t, outer, inner), []model.GUID{"seq-outer"}, Options{})
	require.Contains(t, usage.Used, model.GUID("media-a"))
	require.Len(t, usage.AnalyzedSequences, 2)
}

func TestAnalyzeHandleFramesExpandsRange(t *testing.T) {
	seq := model.Sequence{
		GUID: "seq-1",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{{
				Variant:  model.ClipStandard,
				MediaRef: "media-a",
				Source:   tick.NewRange(tick.PerSecond, 2*tick.PerSecond),
			}},
		}},
	}
	usage := Analyze(project(t, seq), nil, Options{HandleFrames: 24})
	info := usage.Used["media-a"]
	require.Equal(t, tick.PerSecond-ticksPerFrame24*24, info.MergedRange.Start)
	require.Equal(t, 2*tick.PerSecond+ticksPerFrame24*24, info.MergedRange.End)
}

func TestAnalyzeMultipleRangesMergeIntoHull(t *testing.T) {
	seq := model.Sequence{
		GUID: "seq-1",
		VideoTracks: []model.Track{{
			Clips: []model.TrackClip{
				{Variant: model.ClipStandard, MediaRef: "media-a", Source: tick.NewRange(0, 100)},
				{Variant: model.ClipStandard, MediaRef: "media-a", Source: tick.NewRange(500, 600)},
			},
		}},
	}
	usage := Analyze(project(t, seq), nil, Options{})
	info := usage.Used["media-a"]
	require.Equal(t, 2, info.UsageCount)
	require.Len(t, info.Ranges, 2)
	require.Equal(t, tick.NewRange(0, 600), info.MergedRange)
}
