// File: internal/agent/history_test.go
package agent

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
)

func imageMsg(label string) schemas.Message {
	return schemas.Message{Role: schemas.RoleUser, Parts: []schemas.ContentPart{
		{Text: label},
		{Image: &schemas.ImagePart{MIMEType: "image/png", Data: []byte(label)}},
	}}
}

func callMsg(id string) schemas.Message {
	return schemas.Message{Role: schemas.RoleAssistant, ToolCalls: []schemas.ToolCall{{ID: id, Name: "confirm"}}}
}

func resultMsg(id string) schemas.Message {
	return schemas.Message{Role: schemas.RoleTool, ToolResult: &schemas.ToolResult{CallID: id, Name: "confirm", Content: "pressed A"}}
}

// cycle builds the entries one tool cycle adds to history.
func cycle(i int) []schemas.Message {
	id := fmt.Sprintf("call-%d", i)
	return []schemas.Message{imageMsg(fmt.Sprintf("screen %d", i)), callMsg(id), resultMsg(id)}
}

func TestCompactHistory_KeepsOnlyLatestImage(t *testing.T) {
	var msgs []schemas.Message
	for i := 0; i < 4; i++ {
		msgs = append(msgs, cycle(i)...)
	}

	got := CompactHistory(msgs, 20)

	images := 0
	for _, m := range got {
		if m.HasImage() {
			images++
			assert.Equal(t, "screen 3", m.Text())
		}
		assert.False(t, m.IsToolCallOnly(), "answered tool-call-only turns are dropped")
	}
	assert.Equal(t, 1, images)
	assert.Len(t, got, 5, "four results plus the latest screen")
}

func TestCompactHistory_Idempotent(t *testing.T) {
	var msgs []schemas.Message
	for i := 0; i < 12; i++ {
		msgs = append(msgs, cycle(i)...)
	}
	msgs = append(msgs, schemas.TextMessage(schemas.RoleUser, "what now?"))

	once := CompactHistory(msgs, 6)
	twice := CompactHistory(once, 6)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("CompactHistory is not idempotent (-once +twice):\n%s", diff)
	}
	assert.Len(t, once, 6)
}

func TestCompactHistory_DoesNotModifyInput(t *testing.T) {
	msgs := append(cycle(0), cycle(1)...)
	orig := make([]schemas.Message, len(msgs))
	copy(orig, msgs)

	_ = CompactHistory(msgs, 2)

	if diff := cmp.Diff(orig, msgs); diff != "" {
		t.Errorf("input was modified (-want +got):\n%s", diff)
	}
}

func TestCompactHistory_WindowNeverEvictsImage(t *testing.T) {
	msgs := []schemas.Message{
		imageMsg("current"),
		schemas.TextMessage(schemas.RoleUser, "a"),
		schemas.TextMessage(schemas.RoleUser, "b"),
		schemas.TextMessage(schemas.RoleUser, "c"),
		schemas.TextMessage(schemas.RoleUser, "d"),
	}

	got := CompactHistory(msgs, 3)

	require.Len(t, got, 3)
	assert.True(t, got[0].HasImage())
	assert.Equal(t, "c", got[1].Text())
	assert.Equal(t, "d", got[2].Text())
}

func TestCompactHistory_KeepsUnansweredCalls(t *testing.T) {
	msgs := []schemas.Message{
		callMsg("pending"),
		callMsg("done"),
		resultMsg("done"),
		callMsg(""),
	}

	got := CompactHistory(msgs, 10)

	require.Len(t, got, 3)
	assert.Equal(t, "pending", got[0].ToolCalls[0].ID)
	assert.NotNil(t, got[1].ToolResult)
	assert.Empty(t, got[2].ToolCalls[0].ID)
}

func TestCompactHistory_PreservesOrder(t *testing.T) {
	msgs := []schemas.Message{
		schemas.TextMessage(schemas.RoleUser, "1"),
		schemas.TextMessage(schemas.RoleAssistant, "2"),
		imageMsg("3"),
		schemas.TextMessage(schemas.RoleUser, "4"),
	}
	got := CompactHistory(msgs, 10)

	var texts []string
	for _, m := range got {
		texts = append(texts, m.Text())
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, texts)
	assert.Nil(t, CompactHistory(nil, 10))
}
