package client

import (
	"context"
	"log"
)

// BoardSession wires the channel adapter, the board store and the drag
// surface into one board view lifecycle: open the realtime channel, load the
// board, feed remote events into the store and route drop gestures through
// the optimistic move protocol.
type BoardSession struct {
	Channel *BoardChannel
	Store   *BoardStore
	Drag    *DragSurface

	cancel context.CancelFunc
}

// SessionConfig carries the collaborator wiring for one board session.
type SessionConfig struct {
	APIBase  string // e.g. "http://localhost:3001"
	WSBase   string // e.g. "ws://localhost:3001"
	BoardID  string
	UserID   string
	Tokens   TokenProvider
	Notifier Notifier
}

// OpenBoardSession connects the realtime channel, loads the board and
// starts applying remote events. The returned session must be closed when
// the board view is torn down.
func OpenBoardSession(ctx context.Context, cfg SessionConfig) (*BoardSession, error) {
	rest := NewHTTPClient(cfg.APIBase, cfg.Tokens)
	store := NewBoardStore(cfg.BoardID, cfg.UserID, rest, cfg.Notifier)
	channel := NewBoardChannel(cfg.WSBase, cfg.Notifier)

	if err := channel.ConnectToBoard(cfg.BoardID, cfg.Tokens.AccessToken()); err != nil {
		channel.Close()
		return nil, err
	}

	if err := store.Load(ctx); err != nil {
		channel.Close()
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	session := &BoardSession{
		Channel: channel,
		Store:   store,
		cancel:  cancel,
	}
	session.Drag = NewDragSurface(func(intent MoveIntent) {
		// Each drop runs the full optimistic protocol independently; the
		// store's snapshot rollback keeps rapid repeated drags safe.
		go func() {
			if err := store.MoveIssue(sessionCtx, intent); err != nil {
				log.Printf("Move failed for issue %s: %v", intent.IssueID, err)
			}
		}()
	})

	events := channel.Events()
	go func() {
		for env := range events {
			store.ApplyEnvelope(env)
		}
	}()

	return session, nil
}

// Close tears the session down: the channel disconnects (no orphaned
// sockets) and the store starts ignoring in-flight move responses.
func (s *BoardSession) Close() {
	s.cancel()
	s.Store.Close()
	s.Channel.Close()
}
