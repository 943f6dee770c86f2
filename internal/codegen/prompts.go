package codegen

import (
	"encoding/json"
	"fmt"
	"strings"

	"botforge/internal/requirements"
)

// BuildPrompt renders the prompt for kind from spec. Chatbot and CRUD
// prompts differ in the elements they make mandatory.
func BuildPrompt(kind ArtifactKind, spec requirements.Specification) string {
	switch kind {
	case KindUI:
		if spec.IsChatbot() {
			return chatbotUIPrompt(spec)
		}
		return crudUIPrompt(spec)
	default:
		if spec.IsChatbot() {
			return chatbotBackendPrompt(spec)
		}
		return crudBackendPrompt(spec)
	}
}

func requirementsBlock(spec requirements.Specification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User requirements: %s\n", spec.Description)
	if len(spec.Analysis) > 0 {
		data, err := json.MarshalIndent(spec.Analysis, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\nAnalyzed requirements:\n%s\n", data)
		}
	}
	return b.String()
}

func crudBackendPrompt(spec requirements.Specification) string {
	var b strings.Builder
	b.WriteString("You are an expert Python backend engineer designing production-grade web services.\n")
	b.WriteString("Generate a complete backend application in a single file named app.py, without any frontend code.\n\n")
	b.WriteString("## Requirements\n")
	b.WriteString(requirementsBlock(spec))

	c := spec.CRUD
	if c != nil && len(c.Entities) > 0 {
		fmt.Fprintf(&b, "\nEntities: %s\n", strings.Join(c.Entities, ", "))
	}
	if c != nil && len(c.Endpoints) > 0 {
		fmt.Fprintf(&b, "Endpoints requested: %s\n", strings.Join(c.Endpoints, ", "))
	}

	b.WriteString(`
## Instructions:
- Use FastAPI and expose the application object as "app" (it is started with uvicorn app:app).
- Use SQLAlchemy with a local SQLite database for persistence.
- For EVERY entity implement the full CRUD set: list (GET /<entity>s), read (GET /<entity>s/{id}),
  create (POST /<entity>s), update (PUT /<entity>s/{id}) and delete (DELETE /<entity>s/{id}).
- Status codes: 201 on create, 200 on read/update, 204 on delete, 404 for unknown ids,
  409 on unique constraint violations, 422 for validation errors.
- Validate input with Pydantic models.
- Enable CORS for http://localhost:3000.
- Return JSON responses.
- Do not include tests, UI code, markdown, or explanations.

### Begin backend code:
`)
	return b.String()
}

func chatbotBackendPrompt(spec requirements.Specification) string {
	var b strings.Builder
	b.WriteString("You are an expert Python backend engineer building conversational services.\n")
	b.WriteString("Generate a complete chatbot backend in a single file named app.py, without any frontend code.\n\n")
	b.WriteString("## Requirements\n")
	b.WriteString(requirementsBlock(spec))
	b.WriteString(personalityBlock(spec.Chatbot))

	b.WriteString(`
## Instructions:
- Use FastAPI and expose the application object as "app" (it is started with uvicorn app:app).
- Expose exactly one conversational endpoint: POST /chat accepting {"message": str, "session_id": str | null}
  and returning {"reply": str, "session_id": str}.
- Create a new session id when none is provided and keep per-session history according to the memory mode.
- Enforce the personality constraints above in every reply.
- Include GET /health returning {"status": "ok"}.
- Enable CORS for http://localhost:3000.
- Do not include tests, UI code, markdown, or explanations.

### Begin backend code:
`)
	return b.String()
}

func personalityBlock(c *requirements.ChatbotSpec) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Personality\n")
	fmt.Fprintf(&b, "- Tone: %s\n", c.Tone)
	if len(c.Traits) > 0 {
		fmt.Fprintf(&b, "- Traits: %s\n", strings.Join(c.Traits, ", "))
	}
	if c.MaxSentences > 0 {
		fmt.Fprintf(&b, "- Every reply must be at most %d sentences.\n", c.MaxSentences)
	}
	fmt.Fprintf(&b, "- Memory mode: %s\n", c.MemoryMode)
	if len(c.Capabilities) > 0 {
		fmt.Fprintf(&b, "- Capabilities: %s\n", strings.Join(c.Capabilities, "; "))
	}
	return b.String()
}

const uiRules = `
## Rules:
- Write a single React component file defining a function component named App.
- React is loaded globally from a CDN: use React.useState and React.useEffect, no import statements.
- Read the backend base URL from the global API_BASE_URL (defined in config.js); never hardcode it.
- Call the backend with fetch and handle loading and error states.
- Style with TailwindCSS utility classes.
- Respond with code only, without explanations or markdown formatting.
`

func crudUIPrompt(spec requirements.Specification) string {
	var b strings.Builder
	b.WriteString("You are a frontend engineer expert in React and TailwindCSS.\n")
	b.WriteString("Produce a React frontend only for the backend described below. Do not implement any server logic.\n\n")
	b.WriteString("## Requirements\n")
	b.WriteString(requirementsBlock(spec))
	if c := spec.CRUD; c != nil {
		if len(c.Entities) > 0 {
			fmt.Fprintf(&b, "\nProvide list, create, edit and delete views for: %s\n", strings.Join(c.Entities, ", "))
		}
		if len(c.UIComponents) > 0 {
			fmt.Fprintf(&b, "Include these components: %s\n", strings.Join(c.UIComponents, ", "))
		}
	}
	b.WriteString(uiRules)
	b.WriteString("### React UI Code ###\n")
	return b.String()
}

func chatbotUIPrompt(spec requirements.Specification) string {
	var b strings.Builder
	b.WriteString("You are a frontend engineer expert in React and TailwindCSS.\n")
	b.WriteString("Produce a chat interface for the conversational backend described below.\n\n")
	b.WriteString("## Requirements\n")
	b.WriteString(requirementsBlock(spec))
	b.WriteString(`
The backend exposes POST {API_BASE_URL}/chat with {"message", "session_id"} and returns {"reply", "session_id"}.
Show the conversation as message bubbles, keep the session_id between messages, and provide
an input box with a send button (Enter also sends).
`)
	b.WriteString(uiRules)
	b.WriteString("### React UI Code ###\n")
	return b.String()
}
