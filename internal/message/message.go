// Package message defines the conversation turn value shared by the
// orchestrator, the capability registry, and the transport.
package message

// Well-known message kinds. The set is open: a Message with any other
// kind still round-trips through the same wire rules.
const (
	KindSystem       = "system"
	KindUser         = "user"
	KindAssistant    = "assistant"
	KindTool         = "tool"
	KindToolResponse = "tool_response"
	KindError        = "error"
	KindEnd          = "end"
)

// Message is one turn in a session transcript. Messages are values and
// never mutated after construction; the transcript grows append-only.
type Message struct {
	Kind    string `json:"type"`
	Content string `json:"content"`
}

// New constructs a Message.
func New(kind, content string) Message {
	return Message{Kind: kind, Content: content}
}

// Wire is a message in the chat-completions request format.
type Wire struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToWire converts a Message to the model-facing format. System content
// passes through raw; every other kind is wrapped in a same-named tag.
// The role is "user" for user, tool_response, and error kinds, and
// "assistant" for everything else.
func (m Message) ToWire() Wire {
	if m.Kind == KindSystem {
		return Wire{Role: "system", Content: m.Content}
	}

	role := "assistant"
	switch m.Kind {
	case KindUser, KindToolResponse, KindError:
		role = "user"
	}

	return Wire{
		Role:    role,
		Content: "<" + m.Kind + ">" + m.Content + "</" + m.Kind + ">",
	}
}

// ToWireAll converts a transcript for a model call.
func ToWireAll(msgs []Message) []Wire {
	out := make([]Wire, len(msgs))
	for i, m := range msgs {
		out[i] = m.ToWire()
	}
	return out
}
