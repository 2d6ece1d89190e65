// Package app wires the application together: configuration, logging,
// database, Genkit, stores, and the chat service.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caselight/caselight/internal/chat"
	"github.com/caselight/caselight/internal/config"
	"github.com/caselight/caselight/internal/kb"
	"github.com/caselight/caselight/internal/knowledge"
	"github.com/caselight/caselight/internal/log"
	"github.com/caselight/caselight/internal/session"
)

// App is the application container. Every field is initialized by Setup.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Tickets   *kb.Store
	Knowledge *knowledge.Store
	Sessions  *session.Store
	Chat      *chat.Service
}

// Close releases all resources. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}
	return nil
}
