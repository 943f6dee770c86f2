package requirements

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPureVocabularies(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		text string
		want Archetype
	}{
		{"chatbot keyword", "a chatbot", ArchetypeChatbot},
		{"assistant persona", "friendly assistant with a persona", ArchetypeChatbot},
		{"conversational tutor", "conversational tutor that answers questions", ArchetypeChatbot},
		{"crud keyword", "crud inventory database", ArchetypeCRUD},
		{"records table", "manage records in a table", ArchetypeCRUD},
		{"unique constraint", "UNIQUE constraint failed", ArchetypeCRUD},
		{"rest endpoints", "REST api with endpoints: GET /items", ArchetypeCRUD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := c.Classify(tt.text)
			assert.Equal(t, tt.want, spec.Archetype)
			assert.Equal(t, tt.text, spec.Description)
			if tt.want == ArchetypeChatbot {
				require.NotNil(t, spec.Chatbot)
				assert.Nil(t, spec.CRUD)
			} else {
				require.NotNil(t, spec.CRUD)
				assert.Nil(t, spec.Chatbot)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewClassifier()
	text := "Build a support bot. tone: formal. memory: persistent. Entities: tickets, users"
	first := c.Classify(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify(text))
	}
}

func TestClassifyChatbotFields(t *testing.T) {
	spec := NewClassifier().Classify("Build a chatbot that explains Python, max 2 sentences per reply")

	require.Equal(t, ArchetypeChatbot, spec.Archetype)
	require.NotNil(t, spec.Chatbot)
	assert.Equal(t, 2, spec.Chatbot.MaxSentences)
	assert.Equal(t, MemorySession, spec.Chatbot.MemoryMode)
	assert.Equal(t, []string{"explains Python"}, spec.Chatbot.Capabilities)
}

func TestClassifySpecificationDocument(t *testing.T) {
	text := strings.Join([]string{
		"Tone: playful",
		"Traits: curious, patient and witty",
		"Memory: none",
		"Capabilities: trivia, riddles",
		"Answer in at most 3 sentences.",
	}, "\n")

	spec := NewClassifier().Classify(text)
	require.Equal(t, ArchetypeChatbot, spec.Archetype)
	c := spec.Chatbot
	assert.Equal(t, "playful", c.Tone)
	assert.Subset(t, c.Traits, []string{"curious", "patient", "witty"})
	assert.Equal(t, MemoryNone, c.MemoryMode)
	assert.Equal(t, []string{"trivia", "riddles"}, c.Capabilities)
	assert.Equal(t, 3, c.MaxSentences)
}

func TestChatbotThresholdBeatsHigherCRUDScore(t *testing.T) {
	// Two document idioms reach the threshold even though CRUD terms dominate.
	text := "tone: calm. max 4 sentences. crud database records table api endpoint sql schema list store"
	c := NewClassifier()
	s := c.Score(text)
	require.GreaterOrEqual(t, s.Chatbot, ChatbotThreshold)
	require.Greater(t, s.CRUD, s.Chatbot)
	assert.Equal(t, ArchetypeChatbot, c.Classify(text).Archetype)
}

func TestClassifyAmbiguousDefaultsToCRUD(t *testing.T) {
	spec := NewClassifier().Classify("hello world")
	assert.Equal(t, ArchetypeCRUD, spec.Archetype)
	assert.True(t, spec.Scores.Ambiguous)
}

func TestClassifyCRUDFields(t *testing.T) {
	spec := NewClassifier().Classify("An app to manage books and authors with a search form. POST /books, GET /books/{id}")

	require.Equal(t, ArchetypeCRUD, spec.Archetype)
	assert.Equal(t, []string{"books", "authors"}, spec.CRUD.Entities)
	assert.Equal(t, []string{"POST /books", "GET /books/{id}"}, spec.CRUD.Endpoints)
	assert.Contains(t, spec.CRUD.UIComponents, "form")
	assert.Contains(t, spec.CRUD.UIComponents, "search")
}

func TestWithAnalysisCopies(t *testing.T) {
	spec := NewClassifier().Classify("a chatbot")
	a := Analysis{"purpose": {"help"}}
	enriched := spec.WithAnalysis(a, "### Purpose:\n- help")
	a["purpose"][0] = "mutated"

	assert.Nil(t, spec.Analysis)
	assert.Equal(t, "help", enriched.Analysis["purpose"][0])
	assert.Contains(t, enriched.Text(), "purpose: help")
}

func TestNormalizeTruncates(t *testing.T) {
	tests := []struct {
		name      string
		req       GenerationRequest
		wantText  string
		truncated bool
	}{
		{"short", GenerationRequest{RawText: "hello", MaxLength: 10}, "hello", false},
		{"exact", GenerationRequest{RawText: "hello", MaxLength: 5}, "hello", false},
		{"long", GenerationRequest{RawText: "hello world", MaxLength: 5}, "hello" + TruncationSuffix, true},
		{"disabled", GenerationRequest{RawText: "hello world", MaxLength: 0}, "hello world", false},
		{"multibyte", GenerationRequest{RawText: "héllo wörld", MaxLength: 4}, "héll" + TruncationSuffix, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, info := tt.req.Normalize()
			assert.Equal(t, tt.wantText, got)
			assert.Equal(t, tt.truncated, info.Truncated)
			assert.Equal(t, len([]rune(tt.req.RawText)), info.OriginalLength)
		})
	}
}
