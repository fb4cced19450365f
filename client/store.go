package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/scrumdash/boardsync/board"
)

// MoveIntent is the semantic "issue dropped" event emitted by the drag
// surface, exactly one per completed cross-column gesture.
type MoveIntent struct {
	IssueID          string
	TargetColumnID   string
	TargetStatusID   string
	PreviousStatusID string
}

// Snapshot is one immutable published view of the board. Holders of a
// snapshot never observe later mutations.
type Snapshot struct {
	Board          *board.Board
	Columns        []board.Column
	IssuesByColumn map[string][]board.Issue
	ActiveUsers    []board.UserRef
}

// Filter narrows a column's issues at render time without touching the
// stored buckets.
type Filter struct {
	Search     string
	AssigneeID string
	Priority   string
	TypeID     string
	Statuses   []string
}

// BoardStore is the authoritative client-side view of one board: its columns
// and the issues bucketed per workflow status id. Three mutation sources
// flow through it (initial REST load, local optimistic drags, remote
// websocket events) and every mutation replaces the whole bucket map with a
// fresh copy, so previously published snapshots stay stable.
//
// Remote events carry the acting user's id; events echoing the local user's
// own actions are discarded because the optimistic path or the REST round
// trip already reflects them.
type BoardStore struct {
	rest     RESTClient
	notifier Notifier
	boardID  string
	userID   string

	mu      sync.Mutex
	board   *board.Board
	columns []board.Column
	buckets map[string][]board.Issue
	active  map[string]board.UserRef
	closed  bool
}

func NewBoardStore(boardID, userID string, rest RESTClient, notifier Notifier) *BoardStore {
	return &BoardStore{
		rest:     rest,
		notifier: notifier,
		boardID:  boardID,
		userID:   userID,
		buckets:  map[string][]board.Issue{},
		active:   map[string]board.UserRef{},
	}
}

// Load fetches the board and its issues and rebuilds the bucket map from
// scratch: one (possibly empty) bucket per column status id, every issue
// bucketed by its own status id.
func (s *BoardStore) Load(ctx context.Context) error {
	b, err := s.rest.FetchBoard(ctx, s.boardID)
	if err != nil {
		if s.notifier != nil {
			s.notifier.Error("Failed to load board")
		}
		return fmt.Errorf("failed to fetch board: %w", err)
	}

	issues, err := s.rest.FetchIssues(ctx, s.boardID)
	if err != nil {
		if s.notifier != nil {
			s.notifier.Error("Failed to load board issues")
		}
		return fmt.Errorf("failed to fetch issues: %w", err)
	}

	columns := append([]board.Column{}, b.Columns...)
	sortColumns(columns)

	buckets := map[string][]board.Issue{}
	for _, col := range columns {
		buckets[col.Status.ID] = []board.Issue{}
	}
	for _, issue := range issues {
		buckets[issue.Status.ID] = append(buckets[issue.Status.ID], issue)
	}

	s.mu.Lock()
	s.board = b
	s.columns = columns
	s.buckets = buckets
	s.mu.Unlock()

	return nil
}

// Snapshot returns an immutable copy of the current state.
func (s *BoardStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Board:          s.board,
		Columns:        append([]board.Column{}, s.columns...),
		IssuesByColumn: cloneBuckets(s.buckets),
		ActiveUsers:    maps.Values(s.active),
	}
}

// ActiveUsers returns the other users currently viewing this board.
func (s *BoardStore) ActiveUsers() []board.UserRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Values(s.active)
}

// MoveIssue applies a drag-and-drop intent optimistically: the issue is
// relocated locally before the server confirms, and the pre-move state is
// restored verbatim when the REST call fails. A response arriving after
// Close is ignored.
func (s *BoardStore) MoveIssue(ctx context.Context, intent MoveIntent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("board store is closed")
	}

	// Rollback point. Published maps are never mutated in place, so holding
	// the reference is enough.
	previous := s.buckets

	next := cloneBuckets(s.buckets)
	issue, found := removeIssue(next, intent.IssueID)
	if !found {
		s.mu.Unlock()
		log.Printf("Issue %s not found in any column, skipping move", intent.IssueID)
		return fmt.Errorf("issue %s not found on board", intent.IssueID)
	}

	// Best-effort local status: the intent only carries ids, so display
	// fields come from the previously known column status when available.
	issue.Status = s.statusForIDLocked(intent.TargetStatusID)

	next[intent.TargetStatusID] = append(next[intent.TargetStatusID], issue)
	s.buckets = next
	s.mu.Unlock()

	if _, err := s.rest.MoveIssue(ctx, s.boardID, intent.IssueID, intent.TargetColumnID); err != nil {
		s.mu.Lock()
		if s.closed {
			// The view is gone; nothing to roll back into.
			s.mu.Unlock()
			return nil
		}
		s.buckets = previous
		s.mu.Unlock()

		log.Printf("Failed to move issue %s: %v", intent.IssueID, err)
		if s.notifier != nil {
			s.notifier.Error("Failed to move issue, change was undone")
		}
		return fmt.Errorf("failed to move issue: %w", err)
	}

	return nil
}

// ApplyEnvelope decodes and applies one remote event. Unknown or malformed
// events degrade to a logged no-op.
func (s *BoardStore) ApplyEnvelope(env board.Envelope) {
	switch env.Type {
	case board.EventUserJoined:
		applyDecoded(env, s.ApplyUserJoined)
	case board.EventUserLeft:
		applyDecoded(env, s.ApplyUserLeft)
	case board.EventIssueMoved:
		applyDecoded(env, s.ApplyIssueMoved)
	case board.EventIssueCreated:
		applyDecoded(env, s.ApplyIssueCreated)
	case board.EventIssueUpdated:
		applyDecoded(env, s.ApplyIssueUpdated)
	case board.EventIssueDeleted:
		applyDecoded(env, s.ApplyIssueDeleted)
	case board.EventColumnCreated:
		applyDecoded(env, s.ApplyColumnCreated)
	case board.EventColumnUpdated:
		applyDecoded(env, s.ApplyColumnUpdated)
	case board.EventColumnDeleted:
		applyDecoded(env, s.ApplyColumnDeleted)
	default:
		log.Printf("Ignoring unknown board event type %q", env.Type)
	}
}

// ApplyUserJoined records another user viewing the board.
func (s *BoardStore) ApplyUserJoined(p board.PresencePayload) {
	if p.UserID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(s.active)
	next[p.UserID] = board.UserRef{ID: p.UserID, Name: p.UserName}
	s.active = next
}

// ApplyUserLeft removes a user from the active set.
func (s *BoardStore) ApplyUserLeft(p board.PresencePayload) {
	if p.UserID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(s.active)
	delete(next, p.UserID)
	s.active = next
}

// ApplyIssueMoved relocates an issue between buckets using the
// server-supplied issue object. A missing source bucket or issue makes the
// removal a no-op; the addition still proceeds.
func (s *BoardStore) ApplyIssueMoved(p board.IssueMovedPayload) {
	if p.User.ID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneBuckets(s.buckets)
	// The issue may sit outside from_status after racing events; removing
	// it wherever found keeps the no-duplicate invariant and stays a no-op
	// when it is absent entirely.
	removeIssue(next, p.Issue.ID)
	next[p.ToStatus] = append(next[p.ToStatus], p.Issue)
	s.buckets = next
}

// ApplyIssueCreated appends a new issue to the bucket for its status.
func (s *BoardStore) ApplyIssueCreated(p board.IssueChangedPayload) {
	if p.User.ID == s.userID {
		return
	}
	if p.Issue.Status.ID == "" {
		log.Printf("issue.created for %s carries no status id, skipping", p.Issue.ID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneBuckets(s.buckets)
	removeIssue(next, p.Issue.ID)
	next[p.Issue.Status.ID] = append(next[p.Issue.Status.ID], p.Issue)
	s.buckets = next
}

// ApplyIssueUpdated replaces an issue in place, relocating it when its
// status changed. Updates for issues absent from every bucket are no-ops.
func (s *BoardStore) ApplyIssueUpdated(p board.IssueChangedPayload) {
	if p.User.ID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	statusID, idx := locateIssue(s.buckets, p.Issue.ID)
	if idx < 0 {
		log.Printf("issue.updated for unknown issue %s, skipping", p.Issue.ID)
		return
	}

	next := cloneBuckets(s.buckets)
	if statusID == p.Issue.Status.ID {
		next[statusID][idx] = p.Issue
	} else {
		removeFromBucket(next, statusID, p.Issue.ID)
		next[p.Issue.Status.ID] = append(next[p.Issue.Status.ID], p.Issue)
	}
	s.buckets = next
}

// ApplyIssueDeleted removes the issue from every bucket; no assumption is
// made about which bucket held it.
func (s *BoardStore) ApplyIssueDeleted(p board.IssueDeletedPayload) {
	if p.User.ID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneBuckets(s.buckets)
	if _, found := removeIssue(next, p.IssueID); !found {
		log.Printf("issue.deleted for unknown issue %s, skipping", p.IssueID)
		return
	}
	s.buckets = next
}

// ApplyColumnCreated inserts a column, keeps the list sorted by order and
// seeds an empty bucket for the new status.
func (s *BoardStore) ApplyColumnCreated(p board.ColumnChangedPayload) {
	if p.User.ID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	columns := append(append([]board.Column{}, s.columns...), p.Column)
	sortColumns(columns)
	s.columns = columns

	if _, ok := s.buckets[p.Column.Status.ID]; !ok {
		next := cloneBuckets(s.buckets)
		next[p.Column.Status.ID] = []board.Issue{}
		s.buckets = next
	}
}

// ApplyColumnUpdated replaces a column and re-sorts the list.
func (s *BoardStore) ApplyColumnUpdated(p board.ColumnChangedPayload) {
	if p.User.ID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	columns := append([]board.Column{}, s.columns...)
	replaced := false
	for i := range columns {
		if columns[i].ID == p.Column.ID {
			columns[i] = p.Column
			replaced = true
			break
		}
	}
	if !replaced {
		log.Printf("column.updated for unknown column %s, inserting", p.Column.ID)
		columns = append(columns, p.Column)
	}
	sortColumns(columns)
	s.columns = columns

	if _, ok := s.buckets[p.Column.Status.ID]; !ok {
		next := cloneBuckets(s.buckets)
		next[p.Column.Status.ID] = []board.Issue{}
		s.buckets = next
	}
}

// ApplyColumnDeleted drops a column and its bucket.
func (s *BoardStore) ApplyColumnDeleted(p board.ColumnDeletedPayload) {
	if p.User.ID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	columns := make([]board.Column, 0, len(s.columns))
	var removed *board.Column
	for _, col := range s.columns {
		if col.ID == p.ColumnID {
			c := col
			removed = &c
			continue
		}
		columns = append(columns, col)
	}
	if removed == nil {
		log.Printf("column.deleted for unknown column %s, skipping", p.ColumnID)
		return
	}
	s.columns = columns

	next := cloneBuckets(s.buckets)
	if orphaned := len(next[removed.Status.ID]); orphaned > 0 {
		log.Printf("column %s deleted with %d issues still bucketed", p.ColumnID, orphaned)
	}
	delete(next, removed.Status.ID)
	s.buckets = next
}

// FilterIssues returns the issues of one column bucket narrowed by the
// filter. Pure read: the stored buckets are never touched.
func (s *BoardStore) FilterIssues(statusID string, f Filter) []board.Issue {
	s.mu.Lock()
	bucket := s.buckets[statusID]
	s.mu.Unlock()

	if len(f.Statuses) > 0 && !contains(f.Statuses, statusID) {
		return []board.Issue{}
	}

	search := strings.ToLower(f.Search)
	matched := []board.Issue{}
	for _, issue := range bucket {
		if search != "" &&
			!strings.Contains(strings.ToLower(issue.Title), search) &&
			!strings.Contains(strings.ToLower(issue.Key), search) &&
			!strings.Contains(strings.ToLower(issue.Description), search) {
			continue
		}
		if f.AssigneeID != "" && (issue.Assignee == nil || issue.Assignee.ID != f.AssigneeID) {
			continue
		}
		if f.Priority != "" && issue.Priority != f.Priority {
			continue
		}
		if f.TypeID != "" && issue.TypeID != f.TypeID {
			continue
		}
		matched = append(matched, issue)
	}

	return matched
}

// Close marks the store torn down. Late REST responses are ignored from
// here on.
func (s *BoardStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *BoardStore) statusForIDLocked(statusID string) board.WorkflowStatus {
	for _, col := range s.columns {
		if col.Status.ID == statusID {
			return col.Status
		}
	}
	return board.WorkflowStatus{ID: statusID}
}

func applyDecoded[T any](env board.Envelope, apply func(T)) {
	var payload T
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		log.Printf("Malformed %s payload: %v", env.Type, err)
		return
	}
	apply(payload)
}

// cloneBuckets copies the map and every per-column slice so the previous
// version stays untouched.
func cloneBuckets(buckets map[string][]board.Issue) map[string][]board.Issue {
	next := maps.Clone(buckets)
	for statusID, issues := range next {
		next[statusID] = append([]board.Issue{}, issues...)
	}
	return next
}

// removeIssue deletes an issue id from whichever bucket holds it and
// returns the removed issue. Search order over buckets is unspecified.
func removeIssue(buckets map[string][]board.Issue, issueID string) (board.Issue, bool) {
	var removed board.Issue
	found := false
	for statusID, issues := range buckets {
		kept := issues[:0:0]
		for _, issue := range issues {
			if issue.ID == issueID {
				removed = issue
				found = true
				continue
			}
			kept = append(kept, issue)
		}
		buckets[statusID] = kept
	}
	return removed, found
}

// removeFromBucket deletes an issue id from one bucket; missing bucket or
// issue is a no-op.
func removeFromBucket(buckets map[string][]board.Issue, statusID, issueID string) {
	issues, ok := buckets[statusID]
	if !ok {
		return
	}
	kept := issues[:0:0]
	for _, issue := range issues {
		if issue.ID == issueID {
			continue
		}
		kept = append(kept, issue)
	}
	buckets[statusID] = kept
}

func locateIssue(buckets map[string][]board.Issue, issueID string) (string, int) {
	for statusID, issues := range buckets {
		for i, issue := range issues {
			if issue.ID == issueID {
				return statusID, i
			}
		}
	}
	return "", -1
}

func sortColumns(columns []board.Column) {
	sort.SliceStable(columns, func(i, j int) bool {
		return columns[i].Order < columns[j].Order
	})
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
