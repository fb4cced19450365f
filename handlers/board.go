package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scrumdash/boardsync/board"
	"github.com/scrumdash/boardsync/database"
	"github.com/scrumdash/boardsync/services"
)

// BoardHandler handles board, column and issue endpoints plus the realtime
// websocket channel
type BoardHandler struct {
	boardService *database.BoardService
	authService  *services.AuthService
	hub          *services.Hub
}

func NewBoardHandler(boardService *database.BoardService, authService *services.AuthService, hub *services.Hub) *BoardHandler {
	return &BoardHandler{
		boardService: boardService,
		authService:  authService,
		hub:          hub,
	}
}

// CreateBoard creates a board with its columns
func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	var b board.Board
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if err := h.boardService.CreateBoard(&b); err != nil {
		log.Printf("Error creating board: %v", err)
		http.Error(w, "Failed to create board", http.StatusInternalServerError)
		return
	}

	writeData(w, &b)
}

// GetBoard retrieves a board with its columns
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["boardId"]

	b, err := h.boardService.GetBoard(boardID)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Board not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting board: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	writeData(w, b)
}

// ListIssues retrieves all issues for the board given in the query string
func (h *BoardHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	boardID := r.URL.Query().Get("board")
	if boardID == "" {
		http.Error(w, "Missing board parameter", http.StatusBadRequest)
		return
	}

	issues, err := h.boardService.ListIssues(boardID)
	if err != nil {
		log.Printf("Error listing issues: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	writeData(w, issues)
}

// MoveIssue persists a drag-and-drop move and fans the change out to every
// client on the board
func (h *BoardHandler) MoveIssue(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	boardID := vars["boardId"]
	issueID := vars["issueId"]

	var req struct {
		ColumnID string `json:"column_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if req.ColumnID == "" {
		http.Error(w, "Missing column_id", http.StatusBadRequest)
		return
	}

	issue, fromStatus, err := h.boardService.MoveIssue(boardID, issueID, req.ColumnID)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Issue or column not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error moving issue: %v", err)
		http.Error(w, "Failed to move issue", http.StatusInternalServerError)
		return
	}

	h.hub.BroadcastEvent(boardID, board.EventIssueMoved, board.IssueMovedPayload{
		Issue:      *issue,
		FromStatus: fromStatus,
		ToStatus:   issue.Status.ID,
		User:       user,
	})

	writeData(w, issue)
}

// CreateIssue creates an issue and broadcasts issue.created
func (h *BoardHandler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	var req struct {
		BoardID string      `json:"board_id"`
		Issue   board.Issue `json:"issue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if req.BoardID == "" {
		http.Error(w, "Missing board_id", http.StatusBadRequest)
		return
	}

	if err := h.boardService.CreateIssue(req.BoardID, &req.Issue); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Board not found", http.StatusNotFound)
			return
		}
		log.Printf("Error creating issue: %v", err)
		http.Error(w, "Failed to create issue", http.StatusInternalServerError)
		return
	}

	h.hub.BroadcastEvent(req.BoardID, board.EventIssueCreated, board.IssueChangedPayload{
		Issue: req.Issue,
		User:  user,
	})

	writeData(w, &req.Issue)
}

// UpdateIssue replaces an issue's fields and broadcasts issue.updated
func (h *BoardHandler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	issueID := mux.Vars(r)["issueId"]

	var issue board.Issue
	if err := json.NewDecoder(r.Body).Decode(&issue); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	boardID, err := h.boardService.UpdateIssue(issueID, &issue)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Issue not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error updating issue: %v", err)
		http.Error(w, "Failed to update issue", http.StatusInternalServerError)
		return
	}

	h.hub.BroadcastEvent(boardID, board.EventIssueUpdated, board.IssueChangedPayload{
		Issue: issue,
		User:  user,
	})

	writeData(w, &issue)
}

// DeleteIssue removes an issue and broadcasts issue.deleted
func (h *BoardHandler) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	issueID := mux.Vars(r)["issueId"]

	boardID, issueKey, err := h.boardService.DeleteIssue(issueID)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Issue not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error deleting issue: %v", err)
		http.Error(w, "Failed to delete issue", http.StatusInternalServerError)
		return
	}

	h.hub.BroadcastEvent(boardID, board.EventIssueDeleted, board.IssueDeletedPayload{
		IssueID:  issueID,
		IssueKey: issueKey,
		User:     user,
	})

	writeData(w, map[string]string{"id": issueID})
}

// CreateColumn adds a column to a board and broadcasts column.created
func (h *BoardHandler) CreateColumn(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	boardID := mux.Vars(r)["boardId"]

	var col board.Column
	if err := json.NewDecoder(r.Body).Decode(&col); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if err := h.boardService.CreateColumn(boardID, &col); err != nil {
		log.Printf("Error creating column: %v", err)
		http.Error(w, "Failed to create column", http.StatusInternalServerError)
		return
	}

	h.hub.BroadcastEvent(boardID, board.EventColumnCreated, board.ColumnChangedPayload{
		Column: col,
		User:   user,
	})

	writeData(w, &col)
}

// UpdateColumn replaces a column and broadcasts column.updated
func (h *BoardHandler) UpdateColumn(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	columnID := mux.Vars(r)["columnId"]

	var col board.Column
	if err := json.NewDecoder(r.Body).Decode(&col); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	boardID, err := h.boardService.UpdateColumn(columnID, &col)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Column not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error updating column: %v", err)
		http.Error(w, "Failed to update column", http.StatusInternalServerError)
		return
	}

	h.hub.BroadcastEvent(boardID, board.EventColumnUpdated, board.ColumnChangedPayload{
		Column: col,
		User:   user,
	})

	writeData(w, &col)
}

// DeleteColumn removes a column and broadcasts column.deleted
func (h *BoardHandler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	columnID := mux.Vars(r)["columnId"]

	boardID, err := h.boardService.DeleteColumn(columnID)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Column not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error deleting column: %v", err)
		http.Error(w, "Failed to delete column", http.StatusInternalServerError)
		return
	}

	h.hub.BroadcastEvent(boardID, board.EventColumnDeleted, board.ColumnDeletedPayload{
		ColumnID: columnID,
		User:     user,
	})

	writeData(w, map[string]string{"id": columnID})
}

// HandleWebSocket upgrades the HTTP connection to the board's realtime
// channel. Browser clients cannot set custom headers on the websocket
// handshake, so the token arrives as a query parameter.
func (h *BoardHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["boardId"]

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.authService.VerifyJWT(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP connection to WebSocket
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins in development
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	// Register client in the hub
	client := &services.Client{
		Hub:     h.hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		BoardID: boardID,
		User:    user,
	}

	h.hub.Register(client)
	log.Printf("WebSocket client registered on board %s: %s", boardID, user.ID)

	// Start goroutines for reading and writing
	go client.WritePump()
	go client.ReadPump()
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   data,
	})
}
