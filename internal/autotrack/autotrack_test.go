package autotrack

import (
	"bytes"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/engine"
	"github.com/large-farva/sightline/internal/telemetry"
)

type attachCall struct {
	trackID string
	node    dom.Node
	meta    telemetry.Meta
}

type recordingTracker struct {
	attached []attachCall
	detached []dom.Node
	fallback []dom.Node
	live     map[dom.Node]string
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{live: make(map[dom.Node]string)}
}

func (r *recordingTracker) Attach(trackID string, n dom.Node, meta telemetry.Meta) func() {
	r.attached = append(r.attached, attachCall{trackID: trackID, node: n, meta: meta})
	r.live[n] = trackID
	return func() {
		r.detached = append(r.detached, n)
		delete(r.live, n)
	}
}

func (r *recordingTracker) Detach(n dom.Node) {
	r.fallback = append(r.fallback, n)
	delete(r.live, n)
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

const markup = `<body>
  <header data-track-id="hero" data-track-label="Hero"></header>
  <main>
    <article data-track-id="story" data-track-meta='{"section":"news","rank":2}'></article>
    <div data-track-id=""></div>
  </main>
</body>`

func TestInitialScan(t *testing.T) {
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	tr := newRecordingTracker()

	r := New(tr, quiet())
	r.Start(doc)

	require.Len(t, tr.attached, 2)
	assert.Equal(t, "hero", tr.attached[0].trackID)
	assert.Equal(t, telemetry.Meta{"label": "Hero"}, tr.attached[0].meta)
	assert.Equal(t, "story", tr.attached[1].trackID)
	assert.Equal(t, telemetry.Meta{"section": "news", "rank": float64(2)}, tr.attached[1].meta)
	assert.Equal(t, 2, r.Len())
}

func TestInitialScanIncludesBody(t *testing.T) {
	doc, err := dom.ParseString(`<body data-track-id="page-body"><p data-track-id="lede"></p></body>`)
	require.NoError(t, err)
	tr := newRecordingTracker()

	r := New(tr, quiet())
	r.Start(doc)

	require.Len(t, tr.attached, 2)
	assert.Equal(t, "page-body", tr.attached[0].trackID)
	assert.Equal(t, doc.Root(), tr.attached[0].node)
	assert.Equal(t, "lede", tr.attached[1].trackID)
}

func TestAddedSubtreeIsTracked(t *testing.T) {
	doc := dom.NewDocument()
	tr := newRecordingTracker()
	r := New(tr, quiet())
	r.Start(doc)

	wrapper := dom.NewElement("section", AttrTrackID, "outer")
	wrapper.AppendChild(dom.NewElement("figure", AttrTrackID, "inner"))
	doc.Body().AppendChild(wrapper)

	assert.Equal(t, map[dom.Node]string{wrapper: "outer", wrapper.Elements()[0]: "inner"}, tr.live)
	assert.Equal(t, 2, r.Len())
}

func TestAddingTrackedNodeTwiceAttachesOnce(t *testing.T) {
	doc := dom.NewDocument()
	tr := newRecordingTracker()
	r := New(tr, quiet())
	r.Start(doc)

	section := dom.NewElement("section")
	node := dom.NewElement("div", AttrTrackID, "x")
	doc.Body().AppendChild(node)
	doc.Body().AppendChild(section)
	// moving the node reports a removal then an addition
	section.AppendChild(node)

	assert.Equal(t, 1, r.Len())
	_, ok := tr.live[node]
	assert.True(t, ok)
}

func TestRemovedSubtreeIsDetached(t *testing.T) {
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	tr := newRecordingTracker()
	r := New(tr, quiet())
	r.Start(doc)

	main := doc.Find(AttrTrackID, "story").Parent()
	main.Remove()

	assert.Equal(t, []dom.Node{doc.Find(AttrTrackID, "hero")}, keys(tr.live))
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, tr.fallback)
}

func TestRemovingUnregisteredNodeFallsBack(t *testing.T) {
	doc := dom.NewDocument()
	tr := newRecordingTracker()

	// attached by someone else before the registry started
	node := dom.NewElement("div")
	doc.Body().AppendChild(node)

	r := New(tr, quiet())
	r.Start(doc)
	node.SetAttr(AttrLabel, "ignored") // no track id, not tracked
	require.Zero(t, r.Len())

	node.SetAttr(AttrTrackID, "late")
	require.Equal(t, 1, r.Len())

	stray := dom.NewElement("p", AttrTrackID, "stray")
	node.AppendChild(stray)
	r.mu.Lock()
	delete(r.tracked, stray)
	r.mu.Unlock()

	node.Remove()
	assert.Equal(t, []dom.Node{stray}, tr.fallback)
	assert.Zero(t, r.Len())
}

func TestAttributeChangeReattaches(t *testing.T) {
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	tr := newRecordingTracker()
	r := New(tr, quiet())
	r.Start(doc)

	hero := doc.Find(AttrTrackID, "hero")
	hero.SetAttr(AttrLabel, "Banner")

	last := tr.attached[len(tr.attached)-1]
	assert.Equal(t, "hero", last.trackID)
	assert.Equal(t, telemetry.Meta{"label": "Banner"}, last.meta)
	assert.Contains(t, tr.detached, dom.Node(hero))
	assert.Equal(t, 2, r.Len())

	hero.SetAttr(AttrTrackID, "banner")
	assert.Equal(t, "banner", tr.live[hero])

	hero.RemoveAttr(AttrTrackID)
	_, ok := tr.live[hero]
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestUnrelatedAttributeIgnored(t *testing.T) {
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	tr := newRecordingTracker()
	r := New(tr, quiet())
	r.Start(doc)

	doc.Find(AttrTrackID, "hero").SetAttr("class", "wide")

	assert.Len(t, tr.attached, 2)
	assert.Empty(t, tr.detached)
}

func TestStopDetachesEverything(t *testing.T) {
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	tr := newRecordingTracker()
	r := New(tr, quiet())
	r.Start(doc)

	r.Stop()
	assert.Empty(t, tr.live)
	assert.Zero(t, r.Len())

	doc.Body().AppendChild(dom.NewElement("div", AttrTrackID, "after-stop"))
	assert.Empty(t, tr.live)
}

func TestStartWithoutDocument(t *testing.T) {
	r := New(newRecordingTracker(), quiet())
	r.Start(nil)
	assert.Zero(t, r.Len())
	r.Stop()
}

func TestParseMeta(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	tests := []struct {
		name  string
		attrs []string
		want  telemetry.Meta
		warns bool
	}{
		{"empty", nil, telemetry.Meta{}, false},
		{"label only", []string{AttrLabel, "Hero"}, telemetry.Meta{"label": "Hero"}, false},
		{"json wins over label", []string{AttrLabel, "Hero", AttrMeta, `{"label":"Other","n":1}`},
			telemetry.Meta{"label": "Other", "n": float64(1)}, false},
		{"malformed", []string{AttrLabel, "Hero", AttrMeta, `{oops`},
			telemetry.Meta{"label": "Hero", "meta": "{oops"}, true},
		{"not an object", []string{AttrMeta, `[1,2]`}, telemetry.Meta{"meta": "[1,2]"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			got := ParseMeta(dom.NewElement("div", tt.attrs...), logger)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.warns, buf.Len() > 0)
		})
	}
}

type silentIntersector struct {
	observed map[dom.Node]bool
}

func (s *silentIntersector) Observe(n dom.Node, _ []float64, _ func(dom.IntersectionEntry)) {
	s.observed[n] = true
}

func (s *silentIntersector) Unobserve(n dom.Node) {
	delete(s.observed, n)
}

func TestAddThenRemoveBeforeVisibility(t *testing.T) {
	in := &silentIntersector{observed: make(map[dom.Node]bool)}
	opts := engine.DefaultOptions()
	opts.Intersector = in
	opts.Logger = quiet()
	e := engine.New(opts)

	doc := dom.NewDocument()
	r := New(e, quiet())
	r.Start(doc)

	node := dom.NewElement("section", AttrTrackID, "promo")
	doc.Body().AppendChild(node)
	require.Equal(t, 1, e.TrackedCount())
	require.True(t, in.observed[node])

	node.Remove()

	assert.Zero(t, e.TrackedCount())
	assert.Empty(t, in.observed)
	assert.Empty(t, e.Batcher().Pending())
}

func keys(m map[dom.Node]string) []dom.Node {
	out := make([]dom.Node, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
