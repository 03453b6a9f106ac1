package assistant

// Message is one turn in the OpenAI chat format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a chat line as the front end keeps it.
type Turn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// maxHistory bounds how many prior turns are forwarded upstream.
const maxHistory = 20

// FromHistory converts front-end turns to completion messages. Anything not
// sent by "user" is treated as the assistant's own reply.
func FromHistory(history []Turn) []Message {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	out := make([]Message, 0, len(history))
	for _, t := range history {
		role := RoleAssistant
		if t.Sender == "user" {
			role = RoleUser
		}
		out = append(out, Message{Role: role, Content: t.Text})
	}
	return out
}

func withSystem(system string, msgs []Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Role: RoleSystem, Content: system})
	return append(out, msgs...)
}
