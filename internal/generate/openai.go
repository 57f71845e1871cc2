package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultCallTimeout = 600 * time.Second

// applyPatchParams is the JSON schema for the apply_patch tool the
// model is offered: one action object per round.
var applyPatchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["apply_patch", "shell", "no_change"],
			"description": "What to do this round."
		},
		"rationale": {
			"type": "string",
			"description": "Short reasoning for the chosen action."
		},
		"patch": {
			"type": "string",
			"description": "Patch body in *** Begin Patch / *** End Patch form. Required for apply_patch."
		},
		"command": {
			"type": "string",
			"description": "Shell command to run. Required for shell."
		}
	},
	"required": ["action"]
}`)

// OpenAIGenerator calls the OpenAI chat completions API with an
// apply_patch function tool, mirroring the protocol the loop's
// prompts describe. It satisfies Generator.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	callTimeout time.Duration
	limiter     *RateLimiter
}

// NewOpenAIGenerator creates a generator for the given model.
// rpm bounds outbound request rate; callTimeout bounds one call
// (0 keeps the 10 minute default).
func NewOpenAIGenerator(apiKey, model string, rpm int, callTimeout time.Duration) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		model:       model,
		callTimeout: callTimeout,
		limiter:     NewRateLimiter(rpm),
	}, nil
}

// Propose sends one generation request and resolves the reply into
// a Proposal. Timeouts and transport failures come back as
// KindMalformed so the loop can absorb them as feedback; the only
// error path is a cancelled session context.
func (g *OpenAIGenerator) Propose(ctx context.Context, req Request) (*Proposal, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return &Proposal{Kind: KindMalformed, Reason: fmt.Sprintf("generation throttled: %v", err)}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "apply_patch",
				Description: "Propose the next action: apply a patch, run a shell command, or declare no further changes.",
				Parameters:  applyPatchParams,
			},
		}},
	})
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		g.limiter.RecordError()
		if callCtx.Err() == context.DeadlineExceeded {
			return &Proposal{Kind: KindMalformed, Reason: "generation call timed out"}, nil
		}
		return &Proposal{Kind: KindMalformed, Reason: fmt.Sprintf("generation call failed: %v", err)}, nil
	}
	g.limiter.RecordSuccess()

	if len(resp.Choices) == 0 {
		return &Proposal{Kind: KindMalformed, Reason: "no choices in response"}, nil
	}

	msg := resp.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Function.Name == "apply_patch" {
			return ParseResponse(call.Function.Arguments), nil
		}
	}
	return ParseResponse(msg.Content), nil
}

// Close releases the generator's rate limiter.
func (g *OpenAIGenerator) Close() {
	g.limiter.Close()
}
