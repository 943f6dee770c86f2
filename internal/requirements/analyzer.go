package requirements

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"botforge/internal/apperr"
	"botforge/internal/logging"
	"botforge/internal/synthesis"
)

// Format selects the shape of an analysis
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// NoRequirementsMessage is returned when the service produced almost nothing
const NoRequirementsMessage = "No clear requirements identified. Please provide more details."

// Sampling parameters for analysis calls: factual and short.
var analysisParams = synthesis.Params{Temperature: 0.1, MaxTokens: 500}

// Cache stores raw analysis output keyed by request hash
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// AnalysisResult is the outcome of AnalyzeRequirements
type AnalysisResult struct {
	Format        Format        `json:"format"`
	Text          string        `json:"text,omitempty"`
	Structured    Analysis      `json:"structured,omitempty"`
	Specification Specification `json:"specification"`
	// Degraded is set when the synthesis service could not be used and the
	// result rests on keyword classification alone.
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

// FullAnalysis carries both analysis shapes and the merged specification
type FullAnalysis struct {
	Text          string        `json:"text_analysis"`
	Structured    Analysis      `json:"json_analysis"`
	Specification Specification `json:"specification"`
	Degraded      bool          `json:"degraded"`
}

// Analyzer combines the keyword classifier with an analysis pass through the
// synthesis service.
type Analyzer struct {
	client     synthesis.Client
	classifier *Classifier
	cache      Cache
}

// NewAnalyzer creates an analyzer. cache may be nil.
func NewAnalyzer(client synthesis.Client, classifier *Classifier, cache Cache) *Analyzer {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Analyzer{client: client, classifier: classifier, cache: cache}
}

// Classifier returns the analyzer's classifier
func (a *Analyzer) Classifier() *Classifier { return a.classifier }

// Analyze returns the requested analysis shape. The Specification is always
// populated. A synthesis failure is returned alongside a degraded result so
// callers that cannot tolerate it can still report it.
func (a *Analyzer) Analyze(ctx context.Context, message string, format Format) (*AnalysisResult, error) {
	if format != FormatJSON {
		format = FormatText
	}
	spec := a.classifier.Classify(message)
	result := &AnalysisResult{Format: format, Specification: spec}

	raw, err := a.complete(ctx, message, format)
	if err != nil {
		result.Degraded = true
		result.Error = err.Error()
		result.Text = fallbackNarrative(spec)
		return result, err
	}

	if format == FormatJSON {
		structured, perr := ParseStructured(raw)
		if perr == nil {
			result.Structured = structured
			result.Specification = spec.WithAnalysis(structured, "")
			return result, nil
		}
		logging.L().Warn("structured analysis not parseable, using narrative form", zap.Error(perr))
		result.Format = FormatText
	}

	result.Text = FormatNarrative(raw)
	result.Specification = spec.WithAnalysis(nil, result.Text)
	return result, nil
}

// AnalyzeFull runs the structured analysis and, when it parses, the narrative
// analysis as well. It never fails; the Degraded flag reports service trouble.
func (a *Analyzer) AnalyzeFull(ctx context.Context, message string) *FullAnalysis {
	structured, err := a.Analyze(ctx, message, FormatJSON)
	if err != nil {
		logging.L().Warn("requirement analysis unavailable, using classifier only", zap.Error(err))
		return &FullAnalysis{
			Text:          structured.Text,
			Specification: structured.Specification,
			Degraded:      true,
		}
	}
	if structured.Format != FormatJSON {
		return &FullAnalysis{Text: structured.Text, Specification: structured.Specification}
	}

	narrative, err := a.Analyze(ctx, message, FormatText)
	if err != nil {
		logging.L().Warn("narrative analysis failed", zap.Error(err))
	}
	text := narrative.Text
	return &FullAnalysis{
		Text:          text,
		Structured:    structured.Structured,
		Specification: structured.Specification.WithAnalysis(structured.Structured, text),
		Degraded:      err != nil,
	}
}

func (a *Analyzer) complete(ctx context.Context, message string, format Format) (string, error) {
	if a.client == nil {
		return "", apperr.Errorf(apperr.SynthesisUnavailable, "requirements.analyze", "no synthesis client")
	}

	key := cacheKey(message, format)
	if a.cache != nil {
		if v, ok := a.cache.Get(ctx, key); ok {
			return v, nil
		}
	}

	resp, err := a.client.Complete(ctx, &synthesis.Request{
		Prompt: analysisPrompt(message, format),
		Params: analysisParams,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			err = apperr.New(apperr.SynthesisUnavailable, "requirements.analyze", err)
		}
		return "", err
	}

	raw := strings.TrimSpace(resp.Text)
	if a.cache != nil && raw != "" {
		a.cache.Set(ctx, key, raw)
	}
	return raw, nil
}

func cacheKey(message string, format Format) string {
	sum := sha256.Sum256([]byte(string(format) + "\x00" + message))
	return "analysis:" + hex.EncodeToString(sum[:])
}

func analysisPrompt(message string, format Format) string {
	system := `You are a requirements analyst for an application development platform.
Extract the key requirements from the user's message. Focus on:

1. Purpose/goal of the application
2. Target audience
3. Key functionalities needed
4. Constraints or limitations
5. Integration requirements
6. Content/knowledge domain
7. Personality traits desired

`
	if format == FormatJSON {
		system += `Format your response as a valid JSON object with these categories as keys:
purpose, target_audience, functionalities, constraints, integration, domain, personality.
Each key should contain an array of strings representing the requirements.
Only include keys that apply to the user's request.
Make sure your response is valid, parseable JSON with no additional text.`
	} else {
		system += `Format your response as structured bullet points under each relevant category.
Only include categories that apply to the user's request. Be concise but comprehensive.`
	}
	return fmt.Sprintf("System: %s\n\nUser input: %s\n\nAnalysis:", system, message)
}

// ParseStructured decodes the JSON object spanning the first '{' to the last
// '}' of text. Non-string values are rendered with fmt.
func ParseStructured(text string) (Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object found in response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid analysis JSON: %w", err)
	}

	out := make(Analysis, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case []any:
			for _, item := range val {
				out[k] = append(out[k], stringify(item))
			}
		case nil:
		default:
			out[k] = []string{stringify(val)}
		}
	}
	return out, nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// FormatNarrative normalizes free-text analysis into markdown: category lines
// become "### " headers, bullets are kept, and loose lines under a category
// become bullets.
func FormatNarrative(text string) string {
	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return NoRequirementsMessage
	}

	var out []string
	inCategory := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case isCategoryLine(line):
			inCategory = true
			out = append(out, "### "+line)
		case isBulletLine(line):
			out = append(out, line)
		case inCategory:
			out = append(out, "- "+line)
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func isCategoryLine(line string) bool {
	if len(line) >= 2 && line[0] >= '1' && line[0] <= '7' && line[1] == '.' && strings.Contains(line, ":") {
		return true
	}
	if strings.HasSuffix(line, ":") {
		return true
	}
	return len(line) > 3 && isUpper(line)
}

func isBulletLine(line string) bool {
	for _, p := range []string{"- ", "• ", "* ", "· "} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return len(line) > 2 && line[0] >= '0' && line[0] <= '9' && line[1] == '.'
}

// isUpper reports whether s has at least one letter and no lowercase letters
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func fallbackNarrative(spec Specification) string {
	var b strings.Builder
	b.WriteString("### Application type:\n- ")
	b.WriteString(string(spec.Archetype))
	switch spec.Archetype {
	case ArchetypeChatbot:
		c := spec.Chatbot
		fmt.Fprintf(&b, "\n### Personality:\n- tone: %s", c.Tone)
		if c.MaxSentences > 0 {
			fmt.Fprintf(&b, "\n- at most %d sentences per reply", c.MaxSentences)
		}
		if len(c.Capabilities) > 0 {
			b.WriteString("\n### Functionalities:")
			for _, f := range c.Capabilities {
				fmt.Fprintf(&b, "\n- %s", f)
			}
		}
	case ArchetypeCRUD:
		if len(spec.CRUD.Entities) > 0 {
			b.WriteString("\n### Entities:")
			for _, e := range spec.CRUD.Entities {
				fmt.Fprintf(&b, "\n- %s", e)
			}
		}
	}
	return b.String()
}
