package api

import (
	"bytes"
	"encoding/json"
	"strings"

	"botforge/internal/apperr"
	"botforge/internal/codegen"
	"botforge/internal/requirements"
)

func hasValue(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}

// specification turns the "requirements" field into a Specification. A string
// is classified. An object that already is a Specification is used as given;
// any other object is treated as a structured analysis and classified from
// its flattened text.
func (s *Server) specification(op string, raw json.RawMessage, required bool) (requirements.Specification, error) {
	if !hasValue(raw) {
		if required {
			return requirements.Specification{}, apperr.Errorf(apperr.BadRequest, op, "requirements is required")
		}
		return requirements.Specification{}, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return requirements.Specification{}, apperr.Errorf(apperr.BadRequest, op, "requirements is empty")
		}
		return s.pipeline.Classify(text), nil
	}

	var spec requirements.Specification
	if err := json.Unmarshal(raw, &spec); err == nil {
		switch {
		case spec.Archetype == requirements.ArchetypeChatbot && spec.Chatbot != nil:
			return spec, nil
		case spec.Archetype == requirements.ArchetypeCRUD && spec.CRUD != nil:
			return spec, nil
		}
	}

	analysis, err := requirements.ParseStructured(string(raw))
	if err != nil {
		return requirements.Specification{}, apperr.Errorf(apperr.BadRequest, op, "requirements must be a string or an object: %v", err)
	}
	if len(analysis) == 0 {
		return requirements.Specification{}, apperr.Errorf(apperr.BadRequest, op, "requirements is empty")
	}
	return s.pipeline.Classify(analysis.Flatten()).WithAnalysis(analysis, ""), nil
}

// artifactFrom wraps caller-supplied code as an artifact, stripping any fences
func artifactFrom(kind codegen.ArtifactKind, text string) *codegen.CodeArtifact {
	code := codegen.ExtractCode(text)
	return &codegen.CodeArtifact{
		Kind:       kind,
		Text:       code,
		IsComplete: codegen.PredicateFor(kind).Complete(code),
		Attempt:    1,
	}
}
