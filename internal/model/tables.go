package model

import (
	"fmt"
	"strings"
)

const (
	SupportSessionArchiveTable = "SupportSessionArchive"
)

const (
	SessionKeyPrefix = "support_session:"
	AgentKeyPrefix   = "agent:"
)

func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s%s", SessionKeyPrefix, sessionID)
}

func AgentKey(agentID string) string {
	return fmt.Sprintf("%s%s", AgentKeyPrefix, agentID)
}

// IDFromKey strips a known key prefix; ok is false for foreign keys.
func IDFromKey(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, prefix)
	return id, id != ""
}
