package assistant

import (
	"encoding/json"
	"regexp"
	"strings"
)

type Action string

const (
	ActionQuery  Action = "query"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionReport Action = "report"
	ActionNone   Action = "none"
)

type Entity string

const (
	EntityInvoice Entity = "invoice"
	EntityClient  Entity = "client"
	EntityPayment Entity = "payment"
)

// ParsedIntent is a model reply interpreted as an action.
type ParsedIntent struct {
	Action     Action         `json:"action"`
	Entity     Entity         `json:"entity,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Confidence float64        `json:"confidence"`
}

var intentJSON = regexp.MustCompile(`(?s)\{.*"action".*\}`)

// ParseIntent reads an embedded JSON object with an "action" key if one
// parses, and otherwise falls back to keyword matching.
func ParseIntent(text string) ParsedIntent {
	if match := intentJSON.FindString(text); match != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(match), &parsed); err == nil {
			intent := ParsedIntent{Confidence: 0.9}
			if a, ok := parsed["action"].(string); ok {
				intent.Action = Action(a)
			}
			if e, ok := parsed["entity"].(string); ok {
				intent.Entity = Entity(e)
			}
			if params, ok := parsed["params"].(map[string]any); ok {
				intent.Params = params
			} else {
				intent.Params = parsed
			}
			return intent
		}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "create") || strings.Contains(lower, "new invoice"):
		return ParsedIntent{Action: ActionCreate, Entity: EntityInvoice, Confidence: 0.7}
	case strings.Contains(lower, "mark") && strings.Contains(lower, "paid"):
		return ParsedIntent{
			Action:     ActionUpdate,
			Entity:     EntityInvoice,
			Params:     map[string]any{"status": "PAID"},
			Confidence: 0.7,
		}
	case strings.Contains(lower, "show") || strings.Contains(lower, "list"):
		return ParsedIntent{Action: ActionQuery, Entity: detectEntity(lower), Confidence: 0.6}
	}
	return ParsedIntent{Action: ActionNone, Confidence: 0}
}

func detectEntity(lower string) Entity {
	switch {
	case strings.Contains(lower, "invoice"):
		return EntityInvoice
	case strings.Contains(lower, "client"):
		return EntityClient
	case strings.Contains(lower, "payment"):
		return EntityPayment
	}
	return ""
}
