package client

import (
	"log"
	"sync"
)

// DragSurface translates a card drag gesture into exactly one move intent
// per completed cross-column drop. It never touches bucket contents itself;
// all mutation belongs to the board store, which keeps a single writer over
// the shared state.
type DragSurface struct {
	mu      sync.Mutex
	sink    func(MoveIntent)
	gesture *gesture
}

type gesture struct {
	issueID      string
	fromStatusID string
}

// NewDragSurface creates a surface delivering intents to sink.
func NewDragSurface(sink func(MoveIntent)) *DragSurface {
	return &DragSurface{sink: sink}
}

// BeginDrag starts a gesture for one card. A drag already in progress is
// replaced; only the latest gesture can complete.
func (d *DragSurface) BeginDrag(issueID, fromStatusID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gesture = &gesture{issueID: issueID, fromStatusID: fromStatusID}
}

// Cancel abandons the in-progress gesture without emitting an intent.
func (d *DragSurface) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gesture = nil
}

// Drop completes the gesture. A drop within the source column is a
// deliberate no-op: in-column reordering is not persisted. A drop without a
// matching BeginDrag is ignored.
func (d *DragSurface) Drop(targetColumnID, targetStatusID string) {
	d.mu.Lock()
	g := d.gesture
	d.gesture = nil
	d.mu.Unlock()

	if g == nil {
		log.Printf("Drop without an active drag, ignoring")
		return
	}

	if g.fromStatusID == targetStatusID {
		return
	}

	d.sink(MoveIntent{
		IssueID:          g.issueID,
		TargetColumnID:   targetColumnID,
		TargetStatusID:   targetStatusID,
		PreviousStatusID: g.fromStatusID,
	})
}
