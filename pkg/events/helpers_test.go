package events

import (
	"time"

	"github.com/codeready-toolchain/huddle/pkg/models"
)

func testSession(id string) models.Session {
	return models.Session{
		ID:                id,
		ExternalSessionID: "ext-" + id,
		Users:             []models.User{},
		Clients:           []models.Client{},
		PromptQueue:       []models.Prompt{},
		State:             models.NewSessionState(),
		CreatedAt:         time.Now().UTC(),
	}
}

func testCursor() models.Cursor {
	return models.Cursor{File: "main.go", Line: 10, Column: 4}
}
