package naming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-3-flash-preview"

// Gemini names teams through Google's Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// GeminiOptions configures NewGemini. BaseURL and HTTPClient are mainly for tests.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: opts.Model}, nil
}

func (g *Gemini) TeamNames(ctx context.Context, count int) ([]string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(teamNamesPrompt(count)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	})
	if err != nil {
		return nil, &ServiceError{Op: OpTeamNames, Err: err}
	}
	names, err := decodeNames(resp.Text())
	if err != nil {
		return nil, &ServiceError{Op: OpTeamNames, Err: err}
	}
	return names, nil
}

func (g *Gemini) IceBreaker(ctx context.Context, names []string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(iceBreakerPrompt(names)), nil)
	if err != nil {
		return "", &ServiceError{Op: OpIceBreaker, Err: err}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &ServiceError{Op: OpIceBreaker, Err: errors.New("empty response")}
	}
	return text, nil
}
