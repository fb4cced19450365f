package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDragEmitsOneIntentPerGesture(t *testing.T) {
	var intents []MoveIntent
	surface := NewDragSurface(func(intent MoveIntent) {
		intents = append(intents, intent)
	})

	surface.BeginDrag("I1", "to-do")
	surface.Drop("col-done", "done")

	require.Len(t, intents, 1)
	assert.Equal(t, MoveIntent{
		IssueID:          "I1",
		TargetColumnID:   "col-done",
		TargetStatusID:   "done",
		PreviousStatusID: "to-do",
	}, intents[0])

	// The gesture is consumed; a second drop emits nothing
	surface.Drop("col-done", "done")
	assert.Len(t, intents, 1)
}

func TestDragSameColumnDropIsNoop(t *testing.T) {
	var intents []MoveIntent
	surface := NewDragSurface(func(intent MoveIntent) {
		intents = append(intents, intent)
	})

	surface.BeginDrag("I1", "to-do")
	surface.Drop("col-todo", "to-do")

	assert.Empty(t, intents)
}

func TestDragDropWithoutBeginIgnored(t *testing.T) {
	var intents []MoveIntent
	surface := NewDragSurface(func(intent MoveIntent) {
		intents = append(intents, intent)
	})

	assert.NotPanics(t, func() {
		surface.Drop("col-done", "done")
	})
	assert.Empty(t, intents)
}

func TestDragCancelDiscardsGesture(t *testing.T) {
	var intents []MoveIntent
	surface := NewDragSurface(func(intent MoveIntent) {
		intents = append(intents, intent)
	})

	surface.BeginDrag("I1", "to-do")
	surface.Cancel()
	surface.Drop("col-done", "done")

	assert.Empty(t, intents)
}

func TestDragRapidRepeatedGestures(t *testing.T) {
	var intents []MoveIntent
	surface := NewDragSurface(func(intent MoveIntent) {
		intents = append(intents, intent)
	})

	// Drag the same card back and forth before any confirmation arrives
	surface.BeginDrag("I1", "to-do")
	surface.Drop("col-done", "done")
	surface.BeginDrag("I1", "done")
	surface.Drop("col-todo", "to-do")

	require.Len(t, intents, 2)
	assert.Equal(t, "done", intents[0].TargetStatusID)
	assert.Equal(t, "to-do", intents[1].TargetStatusID)
}
