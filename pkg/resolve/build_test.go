package resolve

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"consolidator/pkg/graph"
	"consolidator/pkg/model"
)

func decodeFixture(t *testing.T, xmlDoc string) *graph.Graph {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(xmlDoc))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	g, err := graph.Decode(&buf)
	require.NoError(t, err)
	return g
}

func TestBuildProjectBinPathsNestLikeParentChain(t *testing.T) {
	doc := `<Project>
		<Bin ObjectID="1" Name="Footage"></Bin>
		<Bin ObjectID="2" Name="Interviews" ParentID="1"></Bin>
		<Bin ObjectID="3" Name="Day1" ParentID="2"></Bin>
	</Project>`
	g := decodeFixture(t, doc)
	p, err := BuildProject(g, "/tmp/proj.prproj")
	require.NoError(t, err)

	byID := map[model.ID]model.Bin{}
	for _, b := range p.Bins {
		byID[b.ID] = b
	}
	require.Equal(t, "Footage", byID["1"].Path)
	require.Equal(t, "Footage/Interviews", byID["2"].Path)
	require.Equal(t, "Footage/Interviews/Day1", byID["3"].Path)
}

func TestBuildProjectSequenceAdmissionGatedByClassID(t *testing.T) {
	doc := `<Project>
		<Sequence ObjectUID="seq-1" ClassID="6a15d903-8739-11d5-af2d-9b7855ad8974">
			<Name>Main Edit</Name>
		</Sequence>
		<Sequence ObjectUID="seq-2" ClassID="not-canonical">
			<Name>Rejected</Name>
		</Sequence>
	</Project>`
	g := decodeFixture(t, doc)
	p, err := BuildProject(g, "/tmp/proj.prproj")
	require.NoError(t, err)

	require.Len(t, p.Sequences, 1)
	require.Equal(t, model.GUID("seq-1"), p.Sequences[0].GUID)
	require.Equal(t, "Main Edit", p.Sequences[0].Name)
}

// TestBuildProjectParsesTrackClipVariants exercises the canonical resolver
// walk (VideoClipTrackItem -> SubClip -> MasterClip -> Clip ->
// VideoMediaSource -> Media) end to end: the pointer elements in each clip
// carry only a ref (ObjectRef/ObjectURef), never their own identity, and the
// real objects they point at live elsewhere in the document, terminating at
// a Media element whose ActualMediaFilePath populates graph.MediaPaths. A
// TrackClip's MediaRef must come out keyed to that terminal Media GUID, not
// to the clip's own track-item identity.
func TestBuildProjectParsesTrackClipVariants(t *testing.T) {
	doc := `<Project>
		<Sequence ObjectUID="seq-1" ClassID="6a15d903-8739-11d5-af2d-9b7855ad8974">
			<VideoTrack ObjectID="100">
				<VideoClipTrackItem ObjectID="48" ObjectUID="standard-clip">
					<Start>0</Start>
					<End>1000</End>
					<InPoint>0</InPoint>
					<OutPoint>1000</OutPoint>
					<SubClip ObjectRef="212"/>
				</VideoClipTrackItem>
				<VideoClipTrackItem ObjectID="49" ObjectUID="subclip-track-item">
					<Start>1000</Start>
					<End>2000</End>
					<SubClip ObjectID="213">
						<MasterClip ObjectRef="306"/>
					</SubClip>
				</VideoClipTrackItem>
			</VideoTrack>
		</Sequence>

		<SubClip ObjectID="212">
			<MasterClip ObjectRef="305"/>
		</SubClip>
		<MasterClip ObjectID="305">
			<Clip ObjectRef="410"/>
		</MasterClip>
		<Clip ObjectID="410">
			<VideoMediaSource ObjectRef="520"/>
		</Clip>
		<VideoMediaSource ObjectID="520">
			<Media ObjectURef="media-guid-1"/>
		</VideoMediaSource>
		<Media ObjectUID="media-guid-1">
			<ActualMediaFilePath>/media/standard-clip.mov</ActualMediaFilePath>
		</Media>

		<MasterClip ObjectID="306">
			<Clip ObjectRef="411"/>
		</MasterClip>
		<Clip ObjectID="411">
			<VideoMediaSource ObjectRef="521"/>
		</Clip>
		<VideoMediaSource ObjectID="521">
			<Media ObjectURef="media-guid-2"/>
		</VideoMediaSource>
		<Media ObjectUID="media-guid-2">
			<ActualMediaFilePath>/media/subclip-parent.mov</ActualMediaFilePath>
		</Media>
	</Project>`
	g := decodeFixture(t, doc)
	p, err := BuildProject(g, "/tmp/proj.prproj")
	require.NoError(t, err)
	require.Len(t, p.Sequences, 1)
	require.Len(t, p.Sequences[0].VideoTracks, 1)

	clips := p.Sequences[0].VideoTracks[0].Clips
	require.Len(t, clips, 2)

	var standard, subclip *model.TrackClip
	for i := range clips {
		switch clips[i].Variant {
		case model.ClipStandard:
			standard = &clips[i]
		case model.ClipSubclip:
			subclip = &clips[i]
		}
	}
	require.NotNil(t, standard)
	require.Equal(t, model.GUID("media-guid-1"), standard.MediaRef)
	require.Equal(t, int64(0), standard.Timeline.Start)
	require.Equal(t, int64(1000), standard.Timeline.End)
	require.Contains(t, p.Media, standard.MediaRef)

	require.NotNil(t, subclip)
	require.Equal(t, model.GUID("media-guid-2"), subclip.SubclipParent)
	require.Contains(t, p.Media, subclip.SubclipParent)
}

func TestBuildProjectDetectsAdjustmentClip(t *testing.T) {
	doc := `<Project>
		<Sequence ObjectUID="seq-1" ClassID="6a15d903-8739-11d5-af2d-9b7855ad8974">
			<VideoTrack ObjectID="100">
				<VideoClipTrackItem ObjectID="50">
					<AdjustmentLayerFlag>true</AdjustmentLayerFlag>
				</VideoClipTrackItem>
			</VideoTrack>
		</Sequence>
	</Project>`
	g := decodeFixture(t, doc)
	p, err := BuildProject(g, "/tmp/proj.prproj")
	require.NoError(t, err)

	clips := p.Sequences[0].VideoTracks[0].Clips
	require.Len(t, clips, 1)
	require.Equal(t, model.ClipAdjustment, clips[0].Variant)
	require.Empty(t, clips[0].MediaRef)
}

func TestBuildProjectItemMediaRefAndKind(t *testing.T) {
	doc := `<Project>
		<SubclipProjectItem ObjectID="7" Name="Selects" MediaRef="media-1" ParentBinID="2"></SubclipProjectItem>
	</Project>`
	g := decodeFixture(t, doc)
	p, err := BuildProject(g, "/tmp/proj.prproj")
	require.NoError(t, err)

	item, ok := p.Items[model.ID("7")]
	require.True(t, ok)
	require.Equal(t, model.ItemSubclip, item.Type)
	require.Equal(t, model.GUID("media-1"), item.MediaRef)
	require.Equal(t, model.ID("2"), item.BinID)
}
