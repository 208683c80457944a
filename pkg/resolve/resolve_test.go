package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"consolidator/pkg/graph"
	"consolidator/pkg/model"
)

func TestResolveCanonicalChain(t *testing.T) {
	// VideoClipTrackItem(48) -ref-> SubClip(212) -ref-> MasterClip(7)
	// -ref-> Clip(3) -ref-> VideoMediaSource(9, uid=media-1)
	g := graph.NewTestGraph()
	g.RefsFromID[model.ID("48")] = []graph.Ref{{ChildTag: "SubClip", Target: "212"}}
	g.ObjectsByID[model.ID("212")] = []*graph.Object{{Tag: "SubClip", ID: "212"}}
	g.RefsFromID[model.ID("212")] = []graph.Ref{{ChildTag: "MasterClip", Target: "7"}}
	g.ObjectsByID[model.ID("7")] = []*graph.Object{{Tag: "MasterClip", ID: "7"}}
	g.RefsFromID[model.ID("7")] = []graph.Ref{{ChildTag: "Clip", Target: "3"}}
	g.ObjectsByID[model.ID("3")] = []*graph.Object{{Tag: "Clip", ID: "3"}}
	g.RefsFromID[model.ID("3")] = []graph.Ref{{ChildTag: "VideoMediaSource", Target: "9"}}
	g.ObjectsByID[model.ID("9")] = []*graph.Object{{Tag: "VideoMediaSource", ID: "9", HasUID: true, UID: "media-1"}}
	g.MediaPaths[model.GUID("media-1")] = "/abs/path/clip.mov"

	guid, ok := ResolveID(g, model.ID("48"))
	require.True(t, ok)
	require.Equal(t, model.GUID("media-1"), guid)
}

func TestResolveBrokenChainYieldsNone(t *testing.T) {
	g := graph.NewTestGraph()
	g.RefsFromID[model.ID("1")] = []graph.Ref{{ChildTag: "SubClip", Target: "missing"}}
	_, ok := ResolveID(g, model.ID("1"))
	require.False(t, ok)
}

func TestResolveGUIDDirectToMediaPath(t *testing.T) {
	g := graph.NewTestGraph()
	g.RefsFromUID[model.GUID("start")] = []graph.Ref{{Target: "media-2", IsGUID: true}}
	g.MediaPaths[model.GUID("media-2")] = "/abs/clip.wav"

	guid, ok := ResolveUID(g, model.GUID("start"))
	require.True(t, ok)
	require.Equal(t, model.GUID("media-2"), guid)
}

func TestResolveGUIDToMediaTaggedObject(t *testing.T) {
	g := graph.NewTestGraph()
	g.RefsFromUID[model.GUID("start")] = []graph.Ref{{Target: "media-3", IsGUID: true}}
	g.ObjectsByUID[model.GUID("media-3")] = &graph.Object{Tag: "Media", UID: "media-3", HasUID: true}

	guid, ok := ResolveUID(g, model.GUID("start"))
	require.True(t, ok)
	require.Equal(t, model.GUID("media-3"), guid)
}

func TestResolveDepthLimitBreaksCycle(t *testing.T) {
	g := graph.NewTestGraph()
	// a -> b -> a, forever: must terminate via depth limit, not hang.
	g.ObjectsByID[model.ID("a")] = []*graph.Object{{Tag: "X", ID: "a"}}
	g.ObjectsByID[model.ID("b")] = []*graph.Object{{Tag: "X", ID: "b"}}
	g.RefsFromID[model.ID("a")] = []graph.Ref{{ChildTag: "X", Target: "b"}}
	g.RefsFromID[model.ID("b")] = []graph.Ref{{ChildTag: "X", Target: "a"}}

	_, ok := ResolveID(g, model.ID("a"))
	require.False(t, ok)
}

func TestResolvePrefersChildTagHintOverCollidingID(t *testing.T) {
	g := graph.NewTestGraph()
	// Two distinct objects share numeric ID "5": a MasterClip and an
	// unrelated Marker. The ref's child tag names MasterClip — that one
	// must win even though it appears second in the slice.
	g.ObjectsByID[model.ID("5")] = []*graph.Object{
		{Tag: "Marker", ID: "5"},
		{Tag: "MasterClip", ID: "5", HasUID: true, UID: "media-9"},
	}
	g.MediaPaths[model.GUID("media-9")] = "/abs/a.mov"
	g.RefsFromID[model.ID("1")] = []graph.Ref{{ChildTag: "MasterClip", Target: "5"}}

	guid, ok := ResolveID(g, model.ID("1"))
	require.True(t, ok)
	require.Equal(t, model.GUID("media-9"), guid)
}
