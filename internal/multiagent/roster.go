package multiagent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// RosterPrompt describes the other participants of a group conversation and
// the hand-off conventions. Once depth reaches limit the agent is told to
// answer itself instead of mentioning peers.
func RosterPrompt(self models.Agent, peers []models.Agent, depth, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, taking part in a group conversation with other agents.\n", displayName(self))

	listed := 0
	for _, p := range peers {
		if p.ID == self.ID {
			continue
		}
		if listed == 0 {
			b.WriteString("Other participants:\n")
		}
		fmt.Fprintf(&b, "- @%s\n", displayName(p))
		listed++
	}

	if listed > 0 {
		if depth >= limit {
			b.WriteString("The hand-off limit for this turn has been reached. Do not mention other participants; give the final answer yourself.\n")
		} else {
			b.WriteString("To hand the conversation to another participant, mention them as @Name in your reply.\n")
		}
	}
	fmt.Fprintf(&b, "If you have nothing to add, reply with exactly %s.", EOFMarker)
	return b.String()
}

func displayName(a models.Agent) string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.ID
}
