package model

import "time"

type RequesterRole string

const (
	RoleCustomer        RequesterRole = "customer"
	RoleDriver          RequesterRole = "driver"
	RoleRestaurantOwner RequesterRole = "restaurant_owner"
	RoleSupportStaff    RequesterRole = "support_staff"
	RoleAdmin           RequesterRole = "admin"
)

func (r RequesterRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleRestaurantOwner, RoleSupportStaff, RoleAdmin:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionStatusWaiting     SessionStatus = "waiting"
	SessionStatusActive      SessionStatus = "active"
	SessionStatusTransferred SessionStatus = "transferred"
	SessionStatusEscalated   SessionStatus = "escalated"
	SessionStatusEnded       SessionStatus = "ended"
)

type SessionMode string

const (
	SessionModeScripted SessionMode = "scripted"
	SessionModeHuman    SessionMode = "human"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Max returns the higher of the two priorities.
func (p Priority) Max(other Priority) Priority {
	if other.Rank() > p.Rank() {
		return other
	}
	return p
}

type TransferKind string

const (
	TransferKindTransfer   TransferKind = "transfer"
	TransferKindEscalation TransferKind = "escalation"
	TransferKindAgentLeft  TransferKind = "agent_unavailable"
)

type TransferRecord struct {
	Timestamp   time.Time    `json:"timestamp" dynamodbav:"timestamp"`
	FromAgentID string       `json:"fromAgentId,omitempty" dynamodbav:"fromAgentId,omitempty"`
	ToAgentID   string       `json:"toAgentId,omitempty" dynamodbav:"toAgentId,omitempty"`
	Reason      string       `json:"reason" dynamodbav:"reason"`
	Kind        TransferKind `json:"kind" dynamodbav:"kind"`
}

type Session struct {
	ID            string            `json:"id" dynamodbav:"sessionId"`
	RequesterID   string            `json:"requesterId" dynamodbav:"requesterId"`
	RequesterRole RequesterRole     `json:"requesterRole" dynamodbav:"requesterRole"`
	AgentID       string            `json:"agentId,omitempty" dynamodbav:"agentId,omitempty"`
	Status        SessionStatus     `json:"status" dynamodbav:"status"`
	Mode          SessionMode       `json:"mode" dynamodbav:"mode"`
	Priority      Priority          `json:"priority" dynamodbav:"priority"`
	Category      string            `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Subcategory   string            `json:"subcategory,omitempty" dynamodbav:"subcategory,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	SLADeadline   time.Time         `json:"slaDeadline" dynamodbav:"slaDeadline"`

	TransferHistory []TransferRecord `json:"transferHistory,omitempty" dynamodbav:"transferHistory,omitempty"`

	// Queue placement. Kept on the session so the queue can be rebuilt
	// from persisted sessions alone.
	RequiredSkills   []string   `json:"requiredSkills,omitempty" dynamodbav:"requiredSkills,omitempty"`
	ExcludedAgentIDs []string   `json:"excludedAgentIds,omitempty" dynamodbav:"excludedAgentIds,omitempty"`
	QueuedAt         *time.Time `json:"queuedAt,omitempty" dynamodbav:"queuedAt,omitempty"`
	QueueBoost       float64    `json:"queueBoost,omitempty" dynamodbav:"queueBoost,omitempty"`
	HumanRequestedAt *time.Time `json:"humanRequestedAt,omitempty" dynamodbav:"humanRequestedAt,omitempty"`
	AssignedAt       *time.Time `json:"assignedAt,omitempty" dynamodbav:"assignedAt,omitempty"`

	StartedAt         time.Time  `json:"startedAt" dynamodbav:"startedAt"`
	UpdatedAt         time.Time  `json:"updatedAt" dynamodbav:"updatedAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty" dynamodbav:"endedAt,omitempty"`
	Resolution        string     `json:"resolution,omitempty" dynamodbav:"resolution,omitempty"`
	SatisfactionScore *int       `json:"satisfactionScore,omitempty" dynamodbav:"satisfactionScore,omitempty"`
	Tags              []string   `json:"tags,omitempty" dynamodbav:"tags,omitempty"`
}

// AwaitingAgent reports whether the session belongs in the priority
// queue: human mode, no owning agent, and either waiting or escalated.
func (s Session) AwaitingAgent() bool {
	if s.Mode != SessionModeHuman || s.AgentID != "" {
		return false
	}
	return s.Status == SessionStatusWaiting || s.Status == SessionStatusEscalated
}

func (s Session) Ended() bool {
	return s.Status == SessionStatusEnded
}

// TransferCount counts every hand-off recorded on the session,
// escalations included.
func (s Session) TransferCount() int {
	return len(s.TransferHistory)
}

// PreviouslyAssigned reports whether some agent has already released
// this session.
func (s Session) PreviouslyAssigned() bool {
	for _, rec := range s.TransferHistory {
		if rec.FromAgentID != "" {
			return true
		}
	}
	return false
}

// CanAccess reports whether userID is the requester or the owning agent.
func (s Session) CanAccess(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == s.RequesterID || (s.AgentID != "" && userID == s.AgentID)
}

// Clone returns a deep copy safe to hand outside the engine lock.
func (s Session) Clone() Session {
	out := s
	out.Metadata = cloneStringMap(s.Metadata)
	out.TransferHistory = append([]TransferRecord(nil), s.TransferHistory...)
	out.RequiredSkills = append([]string(nil), s.RequiredSkills...)
	out.ExcludedAgentIDs = append([]string(nil), s.ExcludedAgentIDs...)
	out.Tags = append([]string(nil), s.Tags...)
	out.QueuedAt = cloneTime(s.QueuedAt)
	out.HumanRequestedAt = cloneTime(s.HumanRequestedAt)
	out.AssignedAt = cloneTime(s.AssignedAt)
	out.EndedAt = cloneTime(s.EndedAt)
	if s.SatisfactionScore != nil {
		score := *s.SatisfactionScore
		out.SatisfactionScore = &score
	}
	return out
}

// ArchivedSessionItem is the DynamoDB shape of an ended session.
type ArchivedSessionItem struct {
	Session
	ExpiresAt int64 `dynamodbav:"expiresAt"`
}

func cloneStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
