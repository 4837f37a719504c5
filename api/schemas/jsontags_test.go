package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
)

// TestStructJSONTags pins the wire names the screen analyzer prompt asks the
// model to produce, and the names transcripts are stored under.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "GameState",
			structRef: schemas.GameState{},
			expectedTags: map[string]string{
				"Summary":              "summary",
				"Screen":               "screen",
				"RunParameters":        "run_parameters",
				"Jokers":               "jokers",
				"ShopItems":            "shop_items,omitempty",
				"GamepadButtons":       "gamepad_buttons",
				"HighlightedElement":   "highlighted_element",
				"PlayArea":             "play_area",
				"ExecutionProgression": "execution_progression,omitempty",
			},
		},
		{
			name:      "RunParameters",
			structRef: schemas.RunParameters{},
			expectedTags: map[string]string{
				"Hands":          "hands",
				"Discards":       "discards",
				"Money":          "money",
				"Ante":           "ante",
				"Round":          "round",
				"Blind":          "blind",
				"CurrentScore":   "current_score",
				"ObjectiveScore": "objective_score",
			},
		},
		{
			name:      "PickedHand",
			structRef: schemas.PickedHand{},
			expectedTags: map[string]string{
				"PickedCards":        "picked_cards,omitempty",
				"CorrectPickedCards": "correct_picked_cards",
				"HandType":           "hand_type",
				"Level":              "level",
				"Chips":              "chips",
				"Bonus":              "bonus",
			},
		},
		{
			name:      "ToolCall",
			structRef: schemas.ToolCall{},
			expectedTags: map[string]string{
				"ID":        "id",
				"Name":      "name",
				"Arguments": "arguments",
			},
		},
		{
			name:      "ToolResult",
			structRef: schemas.ToolResult{},
			expectedTags: map[string]string{
				"CallID":  "call_id",
				"Name":    "name",
				"Content": "content",
				"Error":   "error,omitempty",
			},
		},
		{
			name:      "Message",
			structRef: schemas.Message{},
			expectedTags: map[string]string{
				"Role":       "role",
				"Parts":      "parts,omitempty",
				"ToolCalls":  "tool_calls,omitempty",
				"ToolResult": "tool_result,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tc.structRef)
			assert.Equal(t, len(tc.expectedTags), typ.NumField(), "field count changed for %s", tc.name)
			for fieldName, expectedTag := range tc.expectedTags {
				field, ok := typ.FieldByName(fieldName)
				if assert.True(t, ok, "field %s not found in %s", fieldName, tc.name) {
					assert.Equal(t, expectedTag, field.Tag.Get("json"), "json tag mismatch for %s.%s", tc.name, fieldName)
				}
			}
		})
	}
}
