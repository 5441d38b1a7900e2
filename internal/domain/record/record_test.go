package record

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
)

func decode(t *testing.T, v any) map[string]json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestBuildMessage_UserShape(t *testing.T) {
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 891_000_000, time.UTC)
	m, err := BuildMessage(model.RoleUser, "hello", "chat-1", &model.ModelInfo{ModelName: "gpt-5"}, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	require.NoError(t, Validate(m))

	assert.Equal(t, MessageVersion, m.Version)
	assert.Equal(t, model.MessageTypeUser, m.Type)
	assert.Equal(t, "2025-03-04T05:06:07.891Z", m.CreatedAt)
	assert.True(t, m.IsAgentic)
	assert.True(t, m.EditToolSupportsSearchAndReplace)
	assert.Nil(t, m.ModelInfo, "user messages carry no modelInfo")
	assert.Equal(t, "chat-1", m.ConversationID)

	for _, id := range []string{m.BubbleID, m.RequestID, m.CheckpointID} {
		u, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), u.Version())
	}

	fields := decode(t, m)
	for _, k := range MessageFields(false) {
		assert.Contains(t, fields, k)
	}
	assert.NotContains(t, fields, ModelInfoField)
	assert.NotContains(t, fields, "thinking")
	assert.NotContains(t, fields, "conversationId")
}

func TestBuildMessage_AssistantShape(t *testing.T) {
	m, err := BuildMessage(model.RoleAssistant, "hi there", "chat-1", &model.ModelInfo{ModelName: "sonnet-4.5"})
	require.NoError(t, err)
	require.NoError(t, Validate(m))

	assert.False(t, m.IsAgentic)
	require.NotNil(t, m.ModelInfo)
	assert.Equal(t, "sonnet-4.5", m.ModelInfo.ModelName)

	fields := decode(t, m)
	assert.Len(t, fields, len(MessageFields(true)))

	var caps map[string][]any
	require.NoError(t, json.Unmarshal(fields[CapabilityStatusesField], &caps))
	assert.Len(t, caps, 10)
	for _, k := range CapabilityStatusKeys {
		assert.NotNil(t, caps[k])
		assert.Empty(t, caps[k])
	}

	var ctx map[string][]any
	require.NoError(t, json.Unmarshal(fields[ContextField], &ctx))
	assert.Len(t, ctx, 17)

	var tools []int
	require.NoError(t, json.Unmarshal(fields[SupportedToolsField], &tools))
	assert.Equal(t, SupportedTools, tools)
}

func TestBuildMessage_RichTextCarriesText(t *testing.T) {
	m, err := BuildMessage(model.RoleUser, `quote " and \ newline`+"\n", "c", nil)
	require.NoError(t, err)

	var doc struct {
		Root struct {
			Type     string `json:"type"`
			Children []struct {
				Type     string `json:"type"`
				Children []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"children"`
			} `json:"children"`
		} `json:"root"`
	}
	require.NoError(t, json.Unmarshal([]byte(m.RichText), &doc))
	assert.Equal(t, "root", doc.Root.Type)
	require.Len(t, doc.Root.Children, 1)
	assert.Equal(t, "paragraph", doc.Root.Children[0].Type)
	require.Len(t, doc.Root.Children[0].Children, 1)
	assert.Equal(t, m.Text, doc.Root.Children[0].Children[0].Text)
}

func TestBuildMessage_Options(t *testing.T) {
	m, err := BuildMessage(model.RoleAssistant, "done", "c", nil,
		WithThinking("let me think"),
		WithToolCall("shell", `{"command":"ls"}`),
	)
	require.NoError(t, err)
	require.NoError(t, Validate(m))
	require.NotNil(t, m.Thinking)
	assert.Equal(t, "let me think", m.Thinking.Text)
	require.NotNil(t, m.ToolFormerData)
	assert.Equal(t, "shell", m.ToolFormerData.Name)
	require.NotNil(t, m.ModelInfo, "assistant without model info still gets the key")

	plain, err := BuildMessage(model.RoleAssistant, "done", "c", nil, WithThinking(""), WithToolCall("", ""))
	require.NoError(t, err)
	assert.Nil(t, plain.Thinking)
	assert.Nil(t, plain.ToolFormerData)
}

func TestBuildMessage_UnknownRole(t *testing.T) {
	_, err := BuildMessage(model.Role("system"), "x", "c", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestBuildMessage_FreshIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		m, err := BuildMessage(model.RoleUser, "x", "c", nil)
		require.NoError(t, err)
		require.False(t, seen[m.BubbleID])
		seen[m.BubbleID] = true
	}
}

func TestValidate_EdgeInputs(t *testing.T) {
	cases := []string{"", " ", "\x00", "emoji 🚀", "<script>alert(1)</script>", `{"root":{}}`, string(make([]byte, 64<<10))}
	for _, text := range cases {
		for _, role := range []model.Role{model.RoleUser, model.RoleAssistant} {
			m, err := BuildMessage(role, text, "c", &model.ModelInfo{ModelName: ""})
			require.NoError(t, err)
			require.NoError(t, Validate(m), "role=%s text=%q", role, text)
		}
	}
}

func TestValidate_ReportsMissingAndMalformed(t *testing.T) {
	m, err := BuildMessage(model.RoleAssistant, "x", "c", &model.ModelInfo{ModelName: "auto"})
	require.NoError(t, err)

	m.Lints = nil                   // marshals to null
	m.CapabilityStatuses["x"] = nil // extra key
	m.RichText = "not json"

	err = Validate(m)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, KindMessage, ve.Kind)
	assert.ElementsMatch(t, []string{"lints", CapabilityStatusesField, RichTextField}, ve.Malformed)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	fields := decode(t, mustBuild(t, model.RoleAssistant))
	delete(fields, "todos")
	delete(fields, ModelInfoField)
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	err = ValidateJSON(KindMessage, raw)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{ModelInfoField, "todos"}, ve.Missing)
	assert.Contains(t, err.Error(), "missing modelInfo,todos")
}

func TestValidate_WrongVersionAndType(t *testing.T) {
	fields := decode(t, mustBuild(t, model.RoleUser))
	fields["_v"] = json.RawMessage(`2`)
	fields["type"] = json.RawMessage(`7`)
	raw, _ := json.Marshal(fields)

	var ve *ValidationError
	require.ErrorAs(t, ValidateJSON(KindMessage, raw), &ve)
	assert.ElementsMatch(t, []string{"_v", "type"}, ve.Malformed)
}

func TestValidate_NotAnObject(t *testing.T) {
	var ve *ValidationError
	require.ErrorAs(t, ValidateJSON(KindMessage, []byte(`[1,2]`)), &ve)
	require.ErrorAs(t, ValidateJSON(KindConversation, []byte(`null`)), &ve)
	assert.Error(t, Validate(42))
}

func TestBuildConversation(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	c := BuildConversation("chat-9", "New Chat", now)
	require.NoError(t, Validate(c))
	assert.Equal(t, ConversationVersion, c.Version)
	assert.Equal(t, int64(1_700_000_000_123), c.CreatedAt)
	assert.Equal(t, c.CreatedAt, c.LastUpdatedAt)
	assert.True(t, c.HasLoaded)
	assert.NotNil(t, c.MessageRefs)
	assert.ElementsMatch(t, ConversationFields, model.ConversationKeys())
}

func TestRepairConversation(t *testing.T) {
	raw := []byte(`{"composerId":"c1","name":"legacy","fullConversationHeadersOnly":[],"createdAt":5,"lastUpdatedAt":6,"isArchived":false,"isDraft":false,"totalLinesAdded":0,"totalLinesRemoved":0,"unknownIdeField":{"a":1}}`)
	var c model.Conversation
	require.NoError(t, json.Unmarshal(raw, &c))
	require.Error(t, ValidateJSON(KindConversation, raw))

	assert.True(t, RepairConversation(&c, time.Now()))
	assert.Equal(t, ConversationVersion, c.Version)
	assert.True(t, c.HasLoaded)
	assert.NotEmpty(t, c.RichText)
	require.NoError(t, Validate(&c))

	out := decode(t, &c)
	assert.JSONEq(t, `{"a":1}`, string(out["unknownIdeField"]))

	assert.False(t, RepairConversation(&c, time.Now()), "second repair is a no-op")
}

func mustBuild(t *testing.T, role model.Role) *model.Message {
	t.Helper()
	m, err := BuildMessage(role, "x", "c", &model.ModelInfo{ModelName: "auto"})
	require.NoError(t, err)
	return m
}

func FuzzBuildMessageValidates(f *testing.F) {
	f.Add("hello", "gpt-5", true)
	f.Add("", "", false)
	f.Add(" �", "sonnet-4.5-thinking", true)
	f.Fuzz(func(t *testing.T, text, modelName string, assistant bool) {
		role := model.RoleUser
		if assistant {
			role = model.RoleAssistant
		}
		m, err := BuildMessage(role, text, "conv", &model.ModelInfo{ModelName: modelName}, WithThinking(text))
		if err != nil {
			t.Fatal(err)
		}
		if err := Validate(m); err != nil {
			t.Fatalf("built record failed validation: %v", err)
		}
	})
}
