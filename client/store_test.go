package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/scrumdash/boardsync/board"
)

// fakeREST is an in-memory RESTClient recording move calls.
type fakeREST struct {
	mu      sync.Mutex
	board   *board.Board
	issues  []board.Issue
	moveErr error
	moves   []MoveIntent
}

func (f *fakeREST) FetchBoard(ctx context.Context, boardID string) (*board.Board, error) {
	return f.board, nil
}

func (f *fakeREST) FetchIssues(ctx context.Context, boardID string) ([]board.Issue, error) {
	return f.issues, nil
}

func (f *fakeREST) MoveIssue(ctx context.Context, boardID, issueID, columnID string) (*board.Issue, error) {
	f.mu.Lock()
	f.moves = append(f.moves, MoveIntent{IssueID: issueID, TargetColumnID: columnID})
	f.mu.Unlock()
	if f.moveErr != nil {
		return nil, f.moveErr
	}
	return &board.Issue{ID: issueID}, nil
}

func (f *fakeREST) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moves)
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (n *fakeNotifier) Info(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, message)
}

func (n *fakeNotifier) Success(message string) {}

func (n *fakeNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func (n *fakeNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

type BoardStoreTestSuite struct {
	suite.Suite
	rest     *fakeREST
	notifier *fakeNotifier
	store    *BoardStore
}

func (suite *BoardStoreTestSuite) SetupTest() {
	suite.rest = &fakeREST{
		board: &board.Board{
			ID:   "b1",
			Name: "Sprint Board",
			Type: board.TypeScrum,
			Columns: []board.Column{
				{
					ID:    "col-todo",
					Name:  "To Do",
					Order: 0,
					Status: board.WorkflowStatus{
						ID: "to-do", Name: "To Do", Color: "#8899aa", IsInitial: true,
					},
				},
				{
					ID:    "col-done",
					Name:  "Done",
					Order: 1,
					Status: board.WorkflowStatus{
						ID: "done", Name: "Done", Color: "#22aa55", IsFinal: true,
					},
				},
			},
		},
		issues: []board.Issue{
			{
				ID: "I1", Key: "ISS-1", Title: "Fix login flow",
				Status: board.WorkflowStatus{ID: "to-do", Name: "To Do"},
			},
		},
	}
	suite.notifier = &fakeNotifier{}
	suite.store = NewBoardStore("b1", "u1", suite.rest, suite.notifier)
	suite.Require().NoError(suite.store.Load(context.Background()))
}

func (suite *BoardStoreTestSuite) moveIntent() MoveIntent {
	return MoveIntent{
		IssueID:          "I1",
		TargetColumnID:   "col-done",
		TargetStatusID:   "done",
		PreviousStatusID: "to-do",
	}
}

// assertNoDuplicates checks that every issue id appears in at most one
// bucket's list.
func (suite *BoardStoreTestSuite) assertNoDuplicates(snap Snapshot) {
	seen := map[string]string{}
	for statusID, issues := range snap.IssuesByColumn {
		for _, issue := range issues {
			previous, dup := seen[issue.ID]
			suite.False(dup, "issue %s in both %s and %s", issue.ID, previous, statusID)
			seen[issue.ID] = statusID
		}
	}
}

func (suite *BoardStoreTestSuite) TestLoadBucketsIssuesByStatus() {
	snap := suite.store.Snapshot()

	suite.Len(snap.Columns, 2)
	suite.Equal("to-do", snap.Columns[0].Status.ID)
	suite.Len(snap.IssuesByColumn["to-do"], 1)
	suite.Empty(snap.IssuesByColumn["done"])
}

func (suite *BoardStoreTestSuite) TestBasicMoveAppliesOptimistically() {
	err := suite.store.MoveIssue(context.Background(), suite.moveIntent())
	suite.NoError(err)

	snap := suite.store.Snapshot()
	suite.Empty(snap.IssuesByColumn["to-do"])
	suite.Require().Len(snap.IssuesByColumn["done"], 1)
	moved := snap.IssuesByColumn["done"][0]
	suite.Equal("I1", moved.ID)
	suite.Equal("done", moved.Status.ID)
	// Display fields come from the known column status
	suite.Equal("Done", moved.Status.Name)
	suite.Equal("#22aa55", moved.Status.Color)

	suite.Equal(1, suite.rest.moveCount())
	suite.Equal(0, suite.notifier.errorCount())
	suite.assertNoDuplicates(snap)
}

func (suite *BoardStoreTestSuite) TestFailedMoveRollsBack() {
	before := suite.store.Snapshot()
	suite.rest.moveErr = errors.New("boom")

	err := suite.store.MoveIssue(context.Background(), suite.moveIntent())
	suite.Error(err)

	after := suite.store.Snapshot()
	suite.Equal(before.IssuesByColumn, after.IssuesByColumn)
	suite.Require().Len(after.IssuesByColumn["to-do"], 1)
	suite.Equal("to-do", after.IssuesByColumn["to-do"][0].Status.ID)
	suite.Equal(1, suite.notifier.errorCount())
}

func (suite *BoardStoreTestSuite) TestMoveUnknownIssueAborts() {
	err := suite.store.MoveIssue(context.Background(), MoveIntent{
		IssueID:        "nope",
		TargetColumnID: "col-done",
		TargetStatusID: "done",
	})
	suite.Error(err)
	// The backend was never called
	suite.Equal(0, suite.rest.moveCount())
}

func (suite *BoardStoreTestSuite) TestMoveToUnknownStatusKeepsIDOnly() {
	err := suite.store.MoveIssue(context.Background(), MoveIntent{
		IssueID:          "I1",
		TargetColumnID:   "col-review",
		TargetStatusID:   "in-review",
		PreviousStatusID: "to-do",
	})
	suite.NoError(err)

	snap := suite.store.Snapshot()
	suite.Require().Len(snap.IssuesByColumn["in-review"], 1)
	suite.Equal(board.WorkflowStatus{ID: "in-review"}, snap.IssuesByColumn["in-review"][0].Status)
}

func (suite *BoardStoreTestSuite) TestSelfMovedEventSuppressed() {
	before := suite.store.Snapshot()

	suite.store.ApplyIssueMoved(board.IssueMovedPayload{
		Issue:      suite.rest.issues[0],
		FromStatus: "to-do",
		ToStatus:   "done",
		User:       board.UserRef{ID: "u1"},
	})

	after := suite.store.Snapshot()
	suite.Equal(before.IssuesByColumn, after.IssuesByColumn)
}

func (suite *BoardStoreTestSuite) TestRemoteMoveFromOtherUser() {
	issue := suite.rest.issues[0]
	issue.Status = board.WorkflowStatus{ID: "done", Name: "Done"}

	suite.store.ApplyIssueMoved(board.IssueMovedPayload{
		Issue:      issue,
		FromStatus: "to-do",
		ToStatus:   "done",
		User:       board.UserRef{ID: "u2"},
	})

	snap := suite.store.Snapshot()
	suite.Empty(snap.IssuesByColumn["to-do"])
	suite.Require().Len(snap.IssuesByColumn["done"], 1)
	suite.Equal("I1", snap.IssuesByColumn["done"][0].ID)
	suite.assertNoDuplicates(snap)
}

func (suite *BoardStoreTestSuite) TestRemoteMoveMissingFromStatusStillAdds() {
	issue := board.Issue{ID: "I9", Status: board.WorkflowStatus{ID: "done"}}

	suite.store.ApplyIssueMoved(board.IssueMovedPayload{
		Issue:      issue,
		FromStatus: "no-such-status",
		ToStatus:   "done",
		User:       board.UserRef{ID: "u2"},
	})

	snap := suite.store.Snapshot()
	suite.Require().Len(snap.IssuesByColumn["done"], 1)
	suite.Equal("I9", snap.IssuesByColumn["done"][0].ID)
}

func (suite *BoardStoreTestSuite) TestRemoteCreatedAndDeleted() {
	created := board.Issue{ID: "I2", Status: board.WorkflowStatus{ID: "done"}}
	suite.store.ApplyIssueCreated(board.IssueChangedPayload{
		Issue: created,
		User:  board.UserRef{ID: "u2"},
	})
	suite.Len(suite.store.Snapshot().IssuesByColumn["done"], 1)

	suite.store.ApplyIssueDeleted(board.IssueDeletedPayload{
		IssueID: "I2",
		User:    board.UserRef{ID: "u2"},
	})
	suite.Empty(suite.store.Snapshot().IssuesByColumn["done"])
}

func (suite *BoardStoreTestSuite) TestRemoteCreatedWithoutStatusSkipped() {
	before := suite.store.Snapshot()

	suite.store.ApplyIssueCreated(board.IssueChangedPayload{
		Issue: board.Issue{ID: "I3"},
		User:  board.UserRef{ID: "u2"},
	})

	suite.Equal(before.IssuesByColumn, suite.store.Snapshot().IssuesByColumn)
}

func (suite *BoardStoreTestSuite) TestRemoteUpdateUnknownIssueIsNoop() {
	before := suite.store.Snapshot()

	suite.NotPanics(func() {
		suite.store.ApplyIssueUpdated(board.IssueChangedPayload{
			Issue: board.Issue{ID: "ghost", Status: board.WorkflowStatus{ID: "done"}},
			User:  board.UserRef{ID: "u2"},
		})
	})

	suite.Equal(before.IssuesByColumn, suite.store.Snapshot().IssuesByColumn)
}

func (suite *BoardStoreTestSuite) TestRemoteUpdateRelocatesOnStatusChange() {
	issue := suite.rest.issues[0]
	issue.Title = "Fix login flow properly"
	issue.Status = board.WorkflowStatus{ID: "done", Name: "Done"}

	suite.store.ApplyIssueUpdated(board.IssueChangedPayload{
		Issue: issue,
		User:  board.UserRef{ID: "u2"},
	})

	snap := suite.store.Snapshot()
	suite.Empty(snap.IssuesByColumn["to-do"])
	suite.Require().Len(snap.IssuesByColumn["done"], 1)
	suite.Equal("Fix login flow properly", snap.IssuesByColumn["done"][0].Title)
	suite.assertNoDuplicates(snap)
}

func (suite *BoardStoreTestSuite) TestColumnEventsKeepOrdering() {
	suite.store.ApplyColumnCreated(board.ColumnChangedPayload{
		Column: board.Column{
			ID: "col-review", Name: "Review", Order: 1,
			Status: board.WorkflowStatus{ID: "in-review", Name: "Review"},
		},
		User: board.UserRef{ID: "u2"},
	})
	// Push the new column to the front
	suite.store.ApplyColumnUpdated(board.ColumnChangedPayload{
		Column: board.Column{
			ID: "col-review", Name: "Review", Order: -1,
			Status: board.WorkflowStatus{ID: "in-review", Name: "Review"},
		},
		User: board.UserRef{ID: "u2"},
	})

	snap := suite.store.Snapshot()
	suite.Require().Len(snap.Columns, 3)
	for i := 1; i < len(snap.Columns); i++ {
		suite.LessOrEqual(snap.Columns[i-1].Order, snap.Columns[i].Order)
	}
	suite.Equal("col-review", snap.Columns[0].ID)
	// The new column got an empty bucket
	issues, ok := snap.IssuesByColumn["in-review"]
	suite.True(ok)
	suite.Empty(issues)
}

func (suite *BoardStoreTestSuite) TestColumnDeletedDropsBucket() {
	suite.store.ApplyColumnDeleted(board.ColumnDeletedPayload{
		ColumnID: "col-done",
		User:     board.UserRef{ID: "u2"},
	})

	snap := suite.store.Snapshot()
	suite.Len(snap.Columns, 1)
	_, ok := snap.IssuesByColumn["done"]
	suite.False(ok)
}

func (suite *BoardStoreTestSuite) TestSnapshotUnaffectedByLaterMutations() {
	before := suite.store.Snapshot()

	suite.Require().NoError(suite.store.MoveIssue(context.Background(), suite.moveIntent()))

	suite.Len(before.IssuesByColumn["to-do"], 1, "held snapshot must not change")
	suite.Empty(before.IssuesByColumn["done"])
}

func (suite *BoardStoreTestSuite) TestFilterIssuesIsPure() {
	suite.store.ApplyIssueCreated(board.IssueChangedPayload{
		Issue: board.Issue{
			ID: "I2", Title: "Polish dashboard", Priority: "high",
			Assignee: &board.UserRef{ID: "u7"},
			Status:   board.WorkflowStatus{ID: "to-do"},
		},
		User: board.UserRef{ID: "u2"},
	})

	matched := suite.store.FilterIssues("to-do", Filter{Priority: "high"})
	suite.Require().Len(matched, 1)
	suite.Equal("I2", matched[0].ID)

	matched = suite.store.FilterIssues("to-do", Filter{Search: "LOGIN"})
	suite.Require().Len(matched, 1)
	suite.Equal("I1", matched[0].ID)

	matched = suite.store.FilterIssues("to-do", Filter{AssigneeID: "nobody"})
	suite.Empty(matched)

	matched = suite.store.FilterIssues("to-do", Filter{Statuses: []string{"done"}})
	suite.Empty(matched)

	// The canonical buckets are untouched
	suite.Len(suite.store.Snapshot().IssuesByColumn["to-do"], 2)
}

func (suite *BoardStoreTestSuite) TestPresenceTracking() {
	suite.store.ApplyUserJoined(board.PresencePayload{UserID: "u2", UserName: "Pat"})
	suite.store.ApplyUserJoined(board.PresencePayload{UserID: "u1", UserName: "Me"})

	users := suite.store.ActiveUsers()
	suite.Require().Len(users, 1, "own join echo must be suppressed")
	suite.Equal("u2", users[0].ID)

	suite.store.ApplyUserLeft(board.PresencePayload{UserID: "u2"})
	suite.Empty(suite.store.ActiveUsers())
}

func (suite *BoardStoreTestSuite) TestMoveAfterCloseIgnoresResponse() {
	suite.rest.moveErr = errors.New("late failure")
	suite.store.Close()

	err := suite.store.MoveIssue(context.Background(), suite.moveIntent())
	suite.Error(err)
	suite.Equal(0, suite.rest.moveCount())
	suite.Equal(0, suite.notifier.errorCount())
}

func (suite *BoardStoreTestSuite) TestMalformedEnvelopeDegradesToNoop() {
	before := suite.store.Snapshot()

	suite.NotPanics(func() {
		suite.store.ApplyEnvelope(board.Envelope{Type: board.EventIssueMoved, Data: []byte(`{"issue": 42}`)})
		suite.store.ApplyEnvelope(board.Envelope{Type: "mystery.event", Data: []byte(`{}`)})
	})

	suite.Equal(before.IssuesByColumn, suite.store.Snapshot().IssuesByColumn)
}

func TestBoardStoreTestSuite(t *testing.T) {
	suite.Run(t, new(BoardStoreTestSuite))
}

func TestCloneBucketsIsDeep(t *testing.T) {
	original := map[string][]board.Issue{
		"to-do": {{ID: "I1"}},
	}

	cloned := cloneBuckets(original)
	cloned["to-do"][0].ID = "changed"
	cloned["to-do"] = append(cloned["to-do"], board.Issue{ID: "I2"})

	assert.Equal(t, "I1", original["to-do"][0].ID)
	assert.Len(t, original["to-do"], 1)
}
