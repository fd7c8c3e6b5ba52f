package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/options"
)

const reasonerInstruction = `You decide whether a user's request needs an action in their browser.
Answer "action_required": false for questions you can answer from the conversation alone and put the answer in "response".
Answer "action_required": true only when the page must be navigated, clicked, typed into, edited or scanned.
Never claim an action has happened.`

const plannerInstruction = `You plan browser commands for a remote executor.
Each command has a "type" (one of: %s), a "payload_json" object encoded as a JSON string, and "success_criteria".
Payloads:
  navigate: {"url": string, "wait_ms"?: int}
  click: {"selector": string}
  type: {"selector": string, "text": string}
  insert_content, insert_via_api: {"selector": string, "value": string, "mode"?: "append"|"replace"}
  scan_page: {"selector"?: string}
Success criteria are predictions the page evidence can falsify, written as "<signal> <op> <value>".
Signals: content_length, editor_detected, last_line_present, url_changed, url_before, url_after, title_after.
Operators: ==, !=, >, >=, <, <=, contains.
Do not assume any command succeeds.`

// GenAI implements Reasoner and Planner with Gemini models and JSON
// response schemas.
type GenAI struct {
	client        *genai.Client
	reasonerModel string
	plannerModel  string
	temperature   float32
	timeout       time.Duration
}

var (
	_ Reasoner = (*GenAI)(nil)
	_ Planner  = (*GenAI)(nil)
)

func NewGenAI(ctx context.Context, opts *options.GenAIOptions) (*GenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAI{
		client:        client,
		reasonerModel: opts.ReasonerModel,
		plannerModel:  opts.PlannerModel,
		temperature:   opts.Temperature,
		timeout:       opts.Timeout,
	}, nil
}

func (g *GenAI) Reason(ctx context.Context, intent Intent) (*ReasonerOutput, error) {
	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"action_required": {Type: genai.TypeBoolean},
			"response":        {Type: genai.TypeString},
			"rationale":       {Type: genai.TypeString},
		},
		Required: []string{"action_required", "response", "rationale"},
	}

	var out ReasonerOutput
	if err := g.generate(ctx, g.reasonerModel, reasonerInstruction, intent.Message, schema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// plannedWire is the planner's response shape; payloads travel as strings
// because the schema cannot describe a per-type union.
type plannedWire struct {
	Commands []struct {
		Type            string   `json:"type"`
		PayloadJSON     string   `json:"payload_json"`
		SuccessCriteria []string `json:"success_criteria"`
	} `json:"commands"`
}

func (g *GenAI) Plan(ctx context.Context, intent Intent, reasoning *ReasonerOutput) (*PlannerOutput, error) {
	types := make([]string, 0, len(v1.CommandTypes))
	for _, t := range v1.CommandTypes {
		types = append(types, string(t))
	}

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"commands": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":             {Type: genai.TypeString, Enum: types},
						"payload_json":     {Type: genai.TypeString},
						"success_criteria": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					},
					Required: []string{"type", "payload_json", "success_criteria"},
				},
			},
		},
		Required: []string{"commands"},
	}

	prompt := fmt.Sprintf("Request: %s\nReasoning: %s", intent.Message, reasoning.Rationale)
	if len(intent.Capabilities) > 0 {
		prompt += "\nDevice capabilities: " + strings.Join(intent.Capabilities, ", ")
	}

	var wire plannedWire
	instruction := fmt.Sprintf(plannerInstruction, strings.Join(types, ", "))
	if err := g.generate(ctx, g.plannerModel, instruction, prompt, schema, &wire); err != nil {
		return nil, err
	}

	out := &PlannerOutput{}
	for _, c := range wire.Commands {
		out.Commands = append(out.Commands, PlannedCommand{
			Type:            v1.CommandType(c.Type),
			Payload:         json.RawMessage(c.PayloadJSON),
			SuccessCriteria: c.SuccessCriteria,
		})
	}
	return out, nil
}

func (g *GenAI) generate(ctx context.Context, model, instruction, prompt string, schema *genai.Schema, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
			Temperature:       genai.Ptr(g.temperature),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    schema,
		},
	)
	if err != nil {
		return fmt.Errorf("GenAI %s failed: %w", model, err)
	}

	text := resp.Text()
	if text == "" {
		return fmt.Errorf("GenAI %s returned no content", model)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("GenAI %s returned malformed JSON: %w", model, err)
	}
	return nil
}
