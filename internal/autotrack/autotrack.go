// Package autotrack keeps view tracking in sync with a live document. Any
// element carrying a track id attribute is attached to the tracker when it
// appears and detached when it leaves, without manual registration calls.
package autotrack

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/telemetry"
)

// Markup attributes recognised on elements.
const (
	AttrTrackID = "data-track-id"
	AttrLabel   = "data-track-label"
	AttrMeta    = "data-track-meta"
)

// Tracker is the view tracking surface the registry drives.
type Tracker interface {
	Attach(trackID string, n dom.Node, meta telemetry.Meta) (detach func())
	Detach(n dom.Node)
}

// Document is a mutation source with a root to scan.
type Document interface {
	Root() dom.Node
	ObserveMutations(fn func([]dom.Mutation), attributeFilter ...string) (stop func())
}

// Registry owns the attach/detach lifecycle of every element it discovered.
type Registry struct {
	tracker Tracker
	log     *log.Logger

	mu      sync.Mutex
	tracked map[dom.Node]func()
	stop    func()
}

// New returns a registry that registers elements with t.
func New(t Tracker, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		tracker: t,
		log:     logger,
		tracked: make(map[dom.Node]func()),
	}
}

// Start scans doc for trackable elements and then follows its mutations
// until Stop. A nil document leaves the registry idle. Calling Start again
// stops the previous subscription first.
func (r *Registry) Start(doc Document) {
	if doc == nil || r.tracker == nil {
		return
	}
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	root := doc.Root()
	r.connectLocked(root)
	dom.Walk(root, r.connectLocked)
	r.stop = doc.ObserveMutations(r.handle, AttrTrackID, AttrLabel, AttrMeta)
}

// Stop unsubscribes from the document and detaches everything the registry
// attached.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	for n, detach := range r.tracked {
		detach()
		delete(r.tracked, n)
	}
}

// Len returns the number of elements the registry has attached.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

func (r *Registry) handle(mutations []dom.Mutation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range mutations {
		switch m.Kind {
		case dom.ChildList:
			for _, n := range m.Added {
				r.connectLocked(n)
				dom.Walk(n, r.connectLocked)
			}
			for _, n := range m.Removed {
				r.disconnectLocked(n)
				dom.Walk(n, r.disconnectLocked)
			}
		case dom.Attributes:
			if m.Target == nil {
				continue
			}
			r.disconnectLocked(m.Target)
			r.connectLocked(m.Target)
		}
	}
}

func (r *Registry) connectLocked(n dom.Node) {
	trackID, _ := n.Attr(AttrTrackID)
	if trackID == "" {
		return
	}
	if _, ok := r.tracked[n]; ok {
		return
	}
	r.tracked[n] = r.tracker.Attach(trackID, n, ParseMeta(n, r.log))
}

func (r *Registry) disconnectLocked(n dom.Node) {
	if _, ok := n.Attr(AttrTrackID); !ok {
		if _, known := r.tracked[n]; !known {
			return
		}
	}
	if detach, ok := r.tracked[n]; ok {
		detach()
		delete(r.tracked, n)
		return
	}
	r.tracker.Detach(n)
}

// ParseMeta builds the metadata for n from its label and JSON metadata
// attributes. Keys from the JSON object win over the label. Malformed JSON
// is kept verbatim under "meta" and logged.
func ParseMeta(n dom.Node, logger *log.Logger) telemetry.Meta {
	meta := telemetry.Meta{}
	if label, _ := n.Attr(AttrLabel); label != "" {
		meta["label"] = label
	}

	raw, _ := n.Attr(AttrMeta)
	if raw == "" {
		return meta
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		meta["meta"] = raw
		if logger != nil {
			logger.Printf("autotrack: malformed %s %q: %v", AttrMeta, raw, err)
		}
		return meta
	}
	for k, v := range parsed {
		meta[k] = v
	}
	return meta
}
