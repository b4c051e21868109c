// Package agent routes chat turns to specialists and runs the
// background-intelligence pass over card events.
//
// The Orchestrator applies two rules in order: a message carrying a URL
// with a canvas attached goes straight to the URL-extraction tool, and
// everything else goes to a routing model that sees the four specialists
// as callable tools and picks exactly one. Three specialists are tool-set
// framings driven by the controller loop; the fourth, the background
// agent, also runs unprompted on card_created and card_updated events.
package agent

import (
	"github.com/viacanvas/intelligence/pkg/llm"
)

// Specialist tool names as the routing model sees them.
const (
	SpecialistExtraction = "content_extraction_agent"
	SpecialistKnowledge  = "knowledge_graph_agent"
	SpecialistLearning   = "learning_assistant_agent"
	SpecialistBackground = "background_intelligence_agent"
)

// Turn is one inbound chat turn after the API layer settled the session.
type Turn struct {
	Message   string
	SessionID string
	CanvasID  string
	// History holds the session's prior turns, oldest first, without the
	// current message.
	History []llm.ConversationMessage
	// Images are multimodal attachments on the current message.
	Images []llm.ImageAttachment
}

// turnDefaults are the argument keys the executor fills into every tool
// call of this turn, so the model never has to echo ids from the prompt.
func turnDefaults(turn *Turn) map[string]any {
	defaults := make(map[string]any, 2)
	if turn.CanvasID != "" {
		defaults["canvas_id"] = turn.CanvasID
	}
	if turn.SessionID != "" {
		defaults["session_id"] = turn.SessionID
	}
	return defaults
}
