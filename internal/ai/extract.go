package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/civicscan/municipal-scanner/internal/models"
)

// EngineConfig tunes the extraction engine.
type EngineConfig struct {
	Model               string
	Temperature         float64
	MaxTokens           int
	ChunkSizeTokens     int
	ConfidenceThreshold int
}

// Engine owns prompt construction and response parsing for opportunity
// extraction. It enforces the confidence threshold and the opportunity_type
// enum before anything reaches persistence.
type Engine struct {
	client Completer
	cfg    EngineConfig
}

// NewEngine wires an extraction engine to a completion client.
func NewEngine(client Completer, cfg EngineConfig) *Engine {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.ChunkSizeTokens == 0 {
		cfg.ChunkSizeTokens = 3000
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 60
	}
	return &Engine{client: client, cfg: cfg}
}

const extractionSystemPrompt = `You are a procurement analyst reviewing municipal meeting minutes and agendas. You identify procurement opportunities (RFPs, tenders, planned projects, early-stage discussions) related to waste collection, recycling, water, wastewater, public works, and environmental services.

Respond ONLY with a JSON object of this exact shape:
{
  "rfps": [
    {
      "title": "short opportunity title",
      "description": "1-3 sentence description of the opportunity",
      "due_date": "YYYY-MM-DD or null",
      "estimated_value": number or null,
      "currency": "3-letter ISO code or null",
      "submission_method": "email" | "portal" | "physical" | "other" | null,
      "contact_email": "string or null",
      "confidence": 0-100,
      "opportunity_type": "formal_rfp" | "project_discussion" | "planning_stage",
      "meeting_date": "YYYY-MM-DD or null",
      "committee_name": "string or null",
      "agenda_item": "string or null",
      "excerpt": "the sentence(s) from the text supporting this opportunity"
    }
  ]
}

Rules:
- Only report opportunities explicitly supported by the text. Do NOT invent data.
- "formal_rfp" means an issued or imminent RFP/tender. "project_discussion" means a funded or approved project likely to go to procurement. "planning_stage" means an early discussion or study.
- confidence reflects how certain you are this is a real procurement signal.
- If the text contains no relevant opportunities, return {"rfps": []}.`

// Extract sends one normalized document to the model and returns the
// validated opportunities it asserts. A malformed response yields zero
// results, logged, never an error; only transport failures propagate.
func (e *Engine) Extract(ctx context.Context, text, municipalityName, province string) ([]models.ExtractedOpportunity, error) {
	charBudget := e.cfg.ChunkSizeTokens * 4
	if len(text) > charBudget {
		text = text[:charBudget]
	}

	userPrompt := fmt.Sprintf("Municipality: %s, %s\n\nMeeting document text:\n%s", municipalityName, province, text)

	completion, err := e.client.Complete(ctx, []Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, CompletionOptions{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	raw := completion.Choices[0].Message.Content
	parsed, err := parseExtractionResponse(raw)
	if err != nil {
		log.Printf("[extract] unparseable model response for %s: %v", municipalityName, err)
		return nil, nil
	}

	accepted := make([]models.ExtractedOpportunity, 0, len(parsed))
	for _, opp := range parsed {
		if opp.Confidence < e.cfg.ConfidenceThreshold {
			continue
		}
		if strings.TrimSpace(opp.Title) == "" || strings.TrimSpace(opp.Description) == "" {
			continue
		}
		if !models.ValidOpportunityType(opp.OpportunityType) {
			continue
		}
		accepted = append(accepted, opp)
	}

	return accepted, nil
}

type extractionPayload struct {
	RFPs []models.ExtractedOpportunity `json:"rfps"`
}

// parseExtractionResponse tolerates prose or code fences around the JSON by
// extracting the first balanced {...} block before unmarshaling. A response
// without an rfps array is malformed.
func parseExtractionResponse(resp string) ([]models.ExtractedOpportunity, error) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	if jsonStr, ok := extractFirstJSONObject(cleaned); ok {
		cleaned = jsonStr
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return nil, err
	}
	if _, ok := probe["rfps"]; !ok {
		return nil, fmt.Errorf("response missing rfps array")
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, err
	}
	return payload.RFPs, nil
}

// extractFirstJSONObject finds the first outermost balanced {...}.
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
