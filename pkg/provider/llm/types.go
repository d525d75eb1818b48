package llm

// Conversation roles as used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
//
// A message may optionally carry one image attachment alongside its text.
// Providers that cannot accept image input must reject such messages with an
// error naming the unsupported capability, so that callers can retry with the
// attachment stripped.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the textual content of the message.
	Content string

	// Name optionally identifies the author of the message within its role.
	Name string

	// ImageData is an optional raw image attachment (e.g., a screenshot of
	// what the user is currently looking at). Nil when the message is
	// text-only.
	ImageData []byte

	// ImageMIME is the MIME type of ImageData, e.g. "image/png". Must be set
	// whenever ImageData is non-nil.
	ImageMIME string
}

// HasImage reports whether the message carries an image attachment.
func (m Message) HasImage() bool { return len(m.ImageData) > 0 }

// ModelCapabilities describes what a provider's underlying model supports.
type ModelCapabilities struct {
	// SupportsStreaming indicates StreamCompletion delivers incremental
	// chunks rather than a single buffered response.
	SupportsStreaming bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// MaxContextTokens is the model's context window size, or 0 if unknown.
	MaxContextTokens int
}
