package requirements

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/apperr"
	"botforge/internal/synthesis"
)

type scriptedClient struct {
	mu      sync.Mutex
	replies map[string]string // keyed by substring expected in the prompt
	err     error
	calls   []*synthesis.Request
}

func (s *scriptedClient) Complete(_ context.Context, req *synthesis.Request) (*synthesis.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	for marker, reply := range s.replies {
		if strings.Contains(req.Prompt, marker) {
			return &synthesis.Response{Text: reply}, nil
		}
	}
	return &synthesis.Response{Text: ""}, nil
}

func (s *scriptedClient) Health(context.Context) error   { return nil }
func (s *scriptedClient) Provider() synthesis.Provider   { return "scripted" }
func (s *scriptedClient) Model() string                  { return "scripted" }
func (s *scriptedClient) Endpoint() string               { return "" }

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

const (
	jsonMarker = "valid JSON object"
	textMarker = "structured bullet points"
)

func TestAnalyzeStructured(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{
		jsonMarker: `Sure! {"purpose": ["Explain Python"], "personality": ["Patient"], "constraints": 2} trailing`,
	}}
	a := NewAnalyzer(client, nil, nil)

	res, err := a.Analyze(context.Background(), "Build a chatbot that explains Python", FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, FormatJSON, res.Format)
	assert.Equal(t, []string{"Explain Python"}, res.Structured["purpose"])
	assert.Equal(t, []string{"2"}, res.Structured["constraints"])
	assert.Equal(t, ArchetypeChatbot, res.Specification.Archetype)
	assert.Equal(t, res.Structured, res.Specification.Analysis)

	require.Len(t, client.calls, 1)
	assert.Equal(t, float32(0.1), client.calls[0].Params.Temperature)
	assert.Equal(t, 500, client.calls[0].Params.MaxTokens)
}

func TestAnalyzeJSONFallsBackToNarrative(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{
		jsonMarker: "PURPOSE\nhelp people find recipes",
	}}
	res, err := NewAnalyzer(client, nil, nil).Analyze(context.Background(), "recipe bot", FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, FormatText, res.Format)
	assert.Equal(t, "### PURPOSE\n- help people find recipes", res.Text)
	assert.Nil(t, res.Structured)
}

func TestAnalyzeServiceDownDegrades(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	res, err := NewAnalyzer(client, nil, nil).Analyze(context.Background(), "a chatbot that tells jokes", FormatText)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.SynthesisUnavailable))
	require.NotNil(t, res)
	assert.True(t, res.Degraded)
	assert.Equal(t, ArchetypeChatbot, res.Specification.Archetype)
	assert.Contains(t, res.Text, "tells jokes")
}

func TestAnalyzeUsesCache(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{textMarker: "1. Purpose: jokes\n- tell jokes"}}
	cache := &mapCache{m: map[string]string{}}
	a := NewAnalyzer(client, nil, cache)

	first, err := a.Analyze(context.Background(), "joke bot", FormatText)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "joke bot", FormatText)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.Len(t, client.calls, 1)
	assert.Len(t, cache.m, 1)
}

func TestAnalyzeFull(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{
		jsonMarker: `{"purpose": ["track books"]}`,
		textMarker: "Purpose:\ntrack books",
	}}
	full := NewAnalyzer(client, nil, nil).AnalyzeFull(context.Background(), "manage books")

	assert.False(t, full.Degraded)
	assert.Equal(t, []string{"track books"}, full.Structured["purpose"])
	assert.Equal(t, "### Purpose:\n- track books", full.Text)
	assert.Equal(t, full.Text, full.Specification.Narrative)
	assert.Len(t, client.calls, 2)
}

func TestAnalyzeFullSkipsNarrativeWhenJSONFails(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{jsonMarker: "not json at all, sorry"}}
	full := NewAnalyzer(client, nil, nil).AnalyzeFull(context.Background(), "manage books")

	assert.Empty(t, full.Structured)
	assert.Equal(t, "not json at all, sorry", full.Text)
	assert.Len(t, client.calls, 1)
}

func TestFormatNarrative(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"too short", "  ok  ", NoRequirementsMessage},
		{
			name: "numbered categories",
			in:   "1. Purpose: help\n- answer questions\n\n2. Audience:\nstudents",
			want: "### 1. Purpose: help\n- answer questions\n### 2. Audience:\n- students",
		},
		{
			name: "loose lines before any category",
			in:   "This bot helps people.\nKEY FEATURES\nsearch",
			want: "This bot helps people.\n### KEY FEATURES\n- search",
		},
		{
			name: "bullets kept as is",
			in:   "Features:\n* one\n• two\n3. three",
			want: "### Features:\n* one\n• two\n3. three",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNarrative(tt.in))
		})
	}
}

func TestParseStructuredRejectsMissingObject(t *testing.T) {
	_, err := ParseStructured("no braces here")
	assert.Error(t, err)

	_, err = ParseStructured("} backwards {")
	assert.Error(t, err)
}
