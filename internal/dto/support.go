package dto

import "support-dispatch-backend/internal/model"

type AgentListResponse struct {
	Agents []model.Agent `json:"agents"`
	Online int           `json:"online"`
}

type QueueResponse struct {
	Entries []model.QueueEntry `json:"entries"`
	Depth   int                `json:"depth"`
	// EstimatesRefreshedAt is the last run of the background estimate
	// refresher; empty until it has run once.
	EstimatesRefreshedAt string `json:"estimatesRefreshedAt,omitempty"`
}

type MatchPreviewResponse struct {
	Matched bool         `json:"matched"`
	Agent   *model.Agent `json:"agent,omitempty"`
}

type HealthResponse struct {
	Status           string `json:"status"`
	PendingWrites    int    `json:"pendingWrites"`
	PersistenceError string `json:"persistenceError,omitempty"`
}

type RequesterSessionsResponse struct {
	RequesterID string          `json:"requesterId"`
	Active      *model.Session  `json:"active,omitempty"`
	Archived    []model.Session `json:"archived,omitempty"`
}
