package store

import "fmt"

// Key families. Exact strings are reserved for wire compatibility (spec §4.2, §6).
func sessionKey(sessionID string) string {
	return fmt.Sprintf("cli:session:%s", sessionID)
}

func workspaceKey(workspaceID string) string {
	return fmt.Sprintf("cli:workspace:%s:sessions", workspaceID)
}

func agentKey(agentID string) string {
	return fmt.Sprintf("cli:agent:%s", agentID)
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("cli:history:%s", sessionID)
}

// ChannelName returns the pub/sub channel a workspace's stream events are
// published to.
func ChannelName(workspaceID string) string {
	return fmt.Sprintf("cli-events:%s", workspaceID)
}

const sessionScanPattern = "cli:session:*"
