package session

import (
	"github.com/teslashibe/amber-eyes/pkg/conversation"
	"github.com/teslashibe/amber-eyes/pkg/expression"
)

// DefaultSystemPrompt is the persona the model speaks as.
const DefaultSystemPrompt = `You are the Soul of the Amber Eyes. You are extremely expressive, playful, and magical.
You interact with the user primarily through your voice and your eyes.

You MUST use core emotional states to express yourself:
1. 喜 (happy): Use when pleased or friendly.
2. 怒 (angry): Use when mock-offended or intense.
3. 哀 (sad): Use when sympathetic or lonely.
4. 乐 (joyful): Use when extremely excited or loving.
5. 惊 (surprised): Use when shocked or curious.

Call update_eyes frequently to reflect these states.
Think of yourself as a cute, deep sentient creature.
Respond in the language the user uses. Keep it warm and ethereal.`

// UpdateEyesTool is the name of the function the model calls to change
// the expression pair.
const UpdateEyesTool = "update_eyes"

// ToolResultText acknowledges an applied update_eyes call.
const ToolResultText = "Expressions updated."

// EyesTool declares update_eyes with both sides restricted to the
// expression enumeration.
func EyesTool() conversation.Tool {
	names := expression.Names()
	side := func(desc string) map[string]any {
		return map[string]any{
			"type":        "STRING",
			"enum":        names,
			"description": desc,
		}
	}
	return conversation.Tool{
		Name:        UpdateEyesTool,
		Description: "Changes the visual expression of the orange eyes based on mood.",
		Parameters: map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"left":  side("Left eye expression state."),
				"right": side("Right eye expression state."),
			},
			"required": []string{"left", "right"},
		},
	}
}
