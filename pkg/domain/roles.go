package domain

// Role defines the sender of a chat message as the UI sees it.
type Role string

const (
	// RoleUser indicates a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a reply from the persona.
	RoleAssistant Role = "assistant"
)

// HistoryRole is the role vocabulary of the generation backend.
type HistoryRole string

const (
	// HistoryRoleUser marks a turn authored by the user.
	HistoryRoleUser HistoryRole = "user"
	// HistoryRoleModel marks a turn authored by the model.
	HistoryRoleModel HistoryRole = "model"
)

// Persona backend kinds.
const (
	// BackendLocal relays to the local generation endpoint over HTTP.
	BackendLocal = "local"
	// BackendGemini talks to Gemini directly.
	BackendGemini = "gemini"
)
