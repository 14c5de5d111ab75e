package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
	"github.com/kailas-cloud/sightdex/internal/logger"
)

const extractSystem = `You maintain long-term personalization notes about a user of a sightings archive.
From the conversation, list at most 5 durable things worth remembering about the user.
Scopes: preference (what they want to see), dislike (what they want to avoid),
fact (stable facts about them), context (what they are doing right now).
Keys are short snake_case identifiers. Confidence is how certain the statement is, 0 to 1.
Return an empty list when nothing is worth remembering.`

var memoriesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "memories": {
      "type": "array",
      "maxItems": 5,
      "items": {
        "type": "object",
        "properties": {
          "scope": {"type": "string", "enum": ["preference", "dislike", "fact", "context"]},
          "key": {"type": "string"},
          "value": {"anyOf": [
            {"type": "string"},
            {"type": "number"},
            {"type": "boolean"},
            {"type": "array", "items": {"type": "string"}}
          ]},
          "confidence": {"type": "number"}
        },
        "required": ["scope", "key", "value", "confidence"],
        "additionalProperties": false
      }
    }
  },
  "required": ["memories"],
  "additionalProperties": false
}`)

type extractedMemory struct {
	Scope      string          `json:"scope"`
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
}

type extractOutput struct {
	Memories []extractedMemory `json:"memories"`
}

// ExtractFromConversation pre-scans transcript for trigger phrases and only
// then issues one extraction call. At most MaxExtracted memories are saved,
// each with source "conversation".
func (s *Service) ExtractFromConversation(ctx context.Context, userID, transcript string) (ExtractResult, error) {
	if userID == "" {
		return ExtractResult{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if !HasTrigger(transcript) {
		return ExtractResult{Saved: []dommem.Memory{}}, nil
	}
	if s.completer == nil {
		return ExtractResult{}, &domain.ExtractionError{Stage: opExtract, Err: domain.ErrCompletionProviderError}
	}

	out, err := s.extract(ctx, transcript)
	s.observe(opExtract, err)
	if err != nil {
		return ExtractResult{}, err
	}

	res := ExtractResult{Triggered: true, Saved: make([]dommem.Memory, 0, MaxExtracted)}
	now := s.now().UTC()
	for _, em := range out.Memories {
		if len(res.Saved) == MaxExtracted {
			break
		}
		var v value.Value
		if err := json.Unmarshal(em.Value, &v); err != nil {
			logger.FromContext(ctx).Debug("Skipping extracted memory", zap.String("key", em.Key), zap.Error(err))
			continue
		}
		in := SaveInput{
			UserID:     userID,
			Scope:      dommem.Scope(strings.ToLower(strings.TrimSpace(em.Scope))),
			Key:        normalizeKey(em.Key),
			Value:      v,
			Confidence: em.Confidence,
			Source:     dommem.SourceConversation,
		}
		if in.Scope == dommem.Context {
			exp := now.Add(ContextTTL)
			in.ExpiresAt = &exp
		}
		saved, err := s.Save(ctx, in)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidRequest) {
				logger.FromContext(ctx).Debug("Skipping extracted memory", zap.String("key", em.Key), zap.Error(err))
				continue
			}
			return res, err
		}
		res.Saved = append(res.Saved, saved)
	}
	return res, nil
}

func (s *Service) extract(ctx context.Context, transcript string) (extractOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.completer.CompleteStructured(ctx, domain.StructuredRequest{
		Name:   "extract_memories",
		System: extractSystem,
		Prompt: "Conversation:\n" + transcript,
		Schema: memoriesSchema,
	})
	if err != nil {
		return extractOutput{}, &domain.ExtractionError{Stage: opExtract, Err: err}
	}
	var out extractOutput
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return extractOutput{}, &domain.ExtractionError{Stage: opExtract, Err: fmt.Errorf("malformed output: %w", err)}
	}
	return out, nil
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.Join(strings.Fields(k), "_")
}
