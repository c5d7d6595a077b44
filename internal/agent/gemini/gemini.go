// SPDX-License-Identifier: Apache-2.0

// Package gemini adapts the Gemini API to the agent.Model interface.
package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kusari-oss/darnfix/internal/agent"
	"github.com/kusari-oss/darnfix/internal/core/config"
	"google.golang.org/genai"
)

// maxModelTurns bounds the request/response rounds of one run. The event
// budget normally stops a run first.
const maxModelTurns = 200

// Model drives a Gemini function calling loop
type Model struct {
	client *genai.Client
	model  string
}

// Config selects the model and the endpoint it is served from
type Config struct {
	Model  string
	APIKey string
	// BaseURL overrides the Gemini API endpoint, for example a proxy
	BaseURL string
}

// New creates a model client from the agent configuration. The API key is
// read from the environment variable it names.
func New(ctx context.Context, cfg config.AgentConfig) (*Model, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
	}
	return NewWithConfig(ctx, Config{Model: cfg.Model, APIKey: apiKey, BaseURL: cfg.BaseURL})
}

// NewWithConfig creates a model client with an explicit key and endpoint
func NewWithConfig(ctx context.Context, cfg Config) (*Model, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Model{client: client, model: cfg.Model}, nil
}

// Run implements agent.Model
func (m *Model) Run(ctx context.Context, req agent.Request, tools *agent.Toolbox, emit agent.Emitter) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		Tools:             []*genai.Tool{{FunctionDeclarations: declarations(tools.Specs())}},
	}
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	var final string
	for turn := 0; turn < maxModelTurns; turn++ {
		resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, genConfig)
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", fmt.Errorf("%w: empty response from %s", agent.ErrMalformedResult, m.model)
		}
		contents = append(contents, resp.Candidates[0].Content)

		if text := strings.TrimSpace(resp.Text()); text != "" {
			final = text
			if err := emit(agent.Event{Type: agent.EventMessage, Text: text}); err != nil {
				return "", err
			}
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return final, nil
		}

		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			if err := emit(agent.Event{Type: agent.EventToolCall, Tool: call.Name, Args: call.Args}); err != nil {
				return "", err
			}
			response, ok := tools.Call(call.Name, call.Args)
			if err := emit(agent.Event{Type: agent.EventToolResult, Tool: call.Name, Failed: !ok}); err != nil {
				return "", err
			}
			parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, response))
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}
	return "", fmt.Errorf("%w: no final answer after %d turns", agent.ErrMalformedResult, maxModelTurns)
}

// declarations converts tool specs into Gemini function declarations
func declarations(specs []agent.ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		props := make(map[string]*genai.Schema, len(spec.Params))
		for name, desc := range spec.Params {
			props[name] = &genai.Schema{Type: genai.TypeString, Description: desc}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   spec.Required,
			},
		})
	}
	return out
}
