package domain

// Role tags a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a capability request issued by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a capability offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Message is one entry of a conversation transcript.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Transcript is the ordered message history of a single run.
// It is owned by that run and is not safe for concurrent use.
type Transcript struct {
	messages []Message
}

// NewTranscript seeds a transcript with the system instructions and the user prompt.
func NewTranscript(system, prompt string) *Transcript {
	return &Transcript{messages: []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: prompt},
	}}
}

// Append adds a message to the end of the transcript.
func (t *Transcript) Append(m Message) {
	t.messages = append(t.messages, m)
}

// AppendToolResult records the result of a tool call.
func (t *Transcript) AppendToolResult(callID, content string) {
	t.Append(Message{Role: RoleTool, ToolCallID: callID, Content: content})
}

// Messages returns a copy of the messages.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the most recent message, or false when empty.
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}
