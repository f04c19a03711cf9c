package model

import "time"

type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusAway      AgentStatus = "away"
	AgentStatusOffline   AgentStatus = "offline"
)

// Online reports whether the agent is signed in, whether or not it has
// spare capacity.
func (s AgentStatus) Online() bool {
	return s == AgentStatusAvailable || s == AgentStatusBusy
}

type AgentTier string

const (
	Tier1      AgentTier = "tier1"
	Tier2      AgentTier = "tier2"
	Tier3      AgentTier = "tier3"
	Supervisor AgentTier = "supervisor"
)

func (t AgentTier) Rank() int {
	switch t {
	case Tier1:
		return 1
	case Tier2:
		return 2
	case Tier3:
		return 3
	case Supervisor:
		return 4
	}
	return 0
}

func (t AgentTier) Valid() bool {
	return t.Rank() > 0
}

// Next returns the tier one step up; supervisor is the ceiling.
func (t AgentTier) Next() AgentTier {
	switch t {
	case Tier1:
		return Tier2
	case Tier2:
		return Tier3
	default:
		return Supervisor
	}
}

type Agent struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Email           string      `json:"email,omitempty"`
	Phone           string      `json:"phone,omitempty"`
	Status          AgentStatus `json:"status"`
	Skills          []string    `json:"skills,omitempty"`
	Specializations []string    `json:"specializations,omitempty"`
	Tier            AgentTier   `json:"tier"`
	CurrentSessions int         `json:"currentSessions"`
	MaxSessions     int         `json:"maxSessions"`

	TotalHandled int `json:"totalHandled"`
	// RatedSessions counts the handled sessions that carried a score.
	RatedSessions   int     `json:"ratedSessions"`
	AvgSatisfaction float64 `json:"avgSatisfaction"`
	// AvgResponseTime is the mean seconds between a human being requested
	// and this agent being assigned.
	AvgResponseTime float64 `json:"avgResponseTime"`
	ResponseSamples int     `json:"responseSamples"`

	RegisteredAt     time.Time `json:"registeredAt"`
	LastStatusChange time.Time `json:"lastStatusChange"`
}

func (a Agent) HasCapacity() bool {
	return a.CurrentSessions < a.MaxSessions
}

// Knows reports whether skill appears in the agent's skills or
// specializations.
func (a Agent) Knows(skill string) bool {
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	for _, s := range a.Specializations {
		if s == skill {
			return true
		}
	}
	return false
}

func (a Agent) Clone() Agent {
	out := a
	out.Skills = append([]string(nil), a.Skills...)
	out.Specializations = append([]string(nil), a.Specializations...)
	return out
}

// QueueEntry is a read-side view of a waiting session's placement.
type QueueEntry struct {
	SessionID            string    `json:"sessionId"`
	RequesterID          string    `json:"requesterId"`
	Priority             Priority  `json:"priority"`
	PriorityScore        float64   `json:"priorityScore"`
	RequiredSkills       []string  `json:"requiredSkills,omitempty"`
	EnqueuedAt           time.Time `json:"enqueuedAt"`
	Position             int       `json:"position"`
	EstimatedWaitMinutes int       `json:"estimatedWaitMinutes"`
}
