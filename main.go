package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/scrumdash/boardsync/database"
	"github.com/scrumdash/boardsync/handlers"
	"github.com/scrumdash/boardsync/services"
)

func main() {
	// Load environment variables from .env file
	if err := LoadEnv(".env"); err != nil {
		fmt.Printf("No .env file loaded: %v\n", err)
	}

	// Initialize database
	db, err := database.InitDB(getEnv("DB_PATH", "./boardsync.db"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize services
	authService := services.NewAuthService()
	boardService := database.NewBoardService(db)

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	boardHandler := handlers.NewBoardHandler(boardService, authService, hub)
	authMiddleware := handlers.NewAuthMiddleware(authService)

	// Setup router
	r := handlers.NewRouter(authHandler, boardHandler, authMiddleware)

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // In production, change to your domain
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Get port from environment or use default
	port := getEnv("PORT", "3001")

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Server starting on port %s", port)
	log.Fatal(server.ListenAndServe())
}
