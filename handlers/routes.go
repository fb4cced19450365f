package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter assembles the REST and websocket routes
func NewRouter(authHandler *AuthHandler, boardHandler *BoardHandler, authMiddleware *AuthMiddleware) *mux.Router {
	r := mux.NewRouter()

	// Auth routes
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/verify", authHandler.VerifyToken).Methods("GET")

	// Board routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Auth)
	api.HandleFunc("/boards/", boardHandler.CreateBoard).Methods("POST")
	api.HandleFunc("/boards/{boardId}/", boardHandler.GetBoard).Methods("GET")
	api.HandleFunc("/boards/{boardId}/issues/{issueId}/move/", boardHandler.MoveIssue).Methods("PATCH")
	api.HandleFunc("/boards/{boardId}/columns/", boardHandler.CreateColumn).Methods("POST")
	api.HandleFunc("/columns/{columnId}/", boardHandler.UpdateColumn).Methods("PATCH")
	api.HandleFunc("/columns/{columnId}/", boardHandler.DeleteColumn).Methods("DELETE")
	api.HandleFunc("/issues/", boardHandler.ListIssues).Methods("GET")
	api.HandleFunc("/issues/", boardHandler.CreateIssue).Methods("POST")
	api.HandleFunc("/issues/{issueId}/", boardHandler.UpdateIssue).Methods("PATCH")
	api.HandleFunc("/issues/{issueId}/", boardHandler.DeleteIssue).Methods("DELETE")

	// WebSocket route for real-time board events (token checked in the
	// handler because the handshake cannot carry an Authorization header)
	r.HandleFunc("/ws/boards/{boardId}/", boardHandler.HandleWebSocket)

	// Static file server for frontend
	r.PathPrefix("/").Handler(http.FileServer(http.Dir("./")))

	return r
}
