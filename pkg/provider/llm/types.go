package llm

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// UserMessage is shorthand for a "user" role Message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}
