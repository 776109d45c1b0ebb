package schema

// Messages is the ordered list of messages exchanged with the LLM.
// It owns typed append methods so callers never construct raw maps.
type Messages struct {
	Messages []Message
}

// NewMessages returns a Messages initialised with the given messages.
func NewMessages(msgs ...Message) Messages {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return Messages{Messages: out}
}

func (mh *Messages) AddSystem(content string) {
	mh.Messages = append(mh.Messages, NewSystemMessage(content))
}

func (mh *Messages) AddUser(content string) {
	mh.Messages = append(mh.Messages, NewUserMessage(content))
}

// AddAssistant appends an assistant message with optional tool calls.
func (mh *Messages) AddAssistant(content string, toolCalls []ToolCall) {
	mh.Messages = append(mh.Messages, NewAssistantMessage(content, toolCalls))
}

func (mh *Messages) AddToolResult(toolCallID, toolName, result string) {
	mh.Messages = append(mh.Messages, NewToolResultMessage(toolCallID, toolName, result))
}

// Append copies all messages from other into mh.
func (mh *Messages) Append(other Messages) {
	mh.Messages = append(mh.Messages, other.Messages...)
}

// Len returns the number of messages.
func (mh Messages) Len() int { return len(mh.Messages) }

// Clone returns a copy of mh with an independent backing slice.
func (mh *Messages) Clone() Messages {
	cloned := make([]Message, len(mh.Messages))
	copy(cloned, mh.Messages)
	return Messages{Messages: cloned}
}
