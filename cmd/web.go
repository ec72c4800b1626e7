// Package cmd provides command implementations for the krust engine. It
// includes the StartWeb function which starts the HTTP server with the
// already-initialized application services.
package cmd

import (
	"os"

	httpserver "github.com/miguelbaldi/krust/internal/adapters/http"
	"github.com/miguelbaldi/krust/internal/application"
	"github.com/miguelbaldi/krust/internal/utils"
)

// StartWeb starts the HTTP server using already-initialized application
// services.
func StartWeb(profileService *application.ProfileService, sessionService *application.SessionService) {
	server := httpserver.New(profileService, sessionService)
	port := os.Getenv("KRUST_HTTP_PORT")
	if port == "" {
		port = "8080"
	}
	utils.Logger.Info("HTTP API starting", "port", port)
	if err := server.Run(":" + port); err != nil {
		utils.Logger.Fatal("HTTP API terminated", "err", err)
	}
}
