package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/platform/openai"
	"github.com/dovira/amlgraph-backend/internal/platform/rediscache"
)

// Extractor turns a raw source record into a first-draft payload.
type Extractor interface {
	Extract(ctx context.Context, record map[string]any) (*domain.GraphFactsPayload, error)
}

// Fixer repairs a payload given the validator's findings. It may return any
// payload; the caller re-normalizes and re-validates the result.
type Fixer interface {
	Fix(ctx context.Context, payload *domain.GraphFactsPayload, violations []string) (*domain.GraphFactsPayload, error)
}

// LLMOracle implements both Extractor and Fixer on top of the structured
// output API. Extraction results are cached by record content when a cache
// is configured, so replays of the same source batch skip the model.
type LLMOracle struct {
	client     openai.Client
	registry   *domain.Registry
	cache      *rediscache.Cache
	log        *logger.Logger
	extractSys string
	fixSys     string
	schema     map[string]any
}

func NewLLMOracle(client openai.Client, reg *domain.Registry, cache *rediscache.Cache, log *logger.Logger) *LLMOracle {
	return &LLMOracle{
		client:     client,
		registry:   reg,
		cache:      cache,
		log:        log,
		extractSys: extractSystemPrompt(reg),
		fixSys:     fixSystemPrompt(reg),
		schema:     payloadJSONSchema(reg),
	}
}

func (o *LLMOracle) Extract(ctx context.Context, record map[string]any) (*domain.GraphFactsPayload, error) {
	recordJSON, err := canonicalJSON(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	cacheKey := "extract:" + sha256Hex(recordJSON)
	if cached, ok := o.cache.Get(ctx, cacheKey); ok {
		var obj map[string]any
		if err := json.Unmarshal(cached, &obj); err == nil {
			if payload, err := domain.DecodePayload(obj); err == nil {
				o.log.Debug("extraction cache hit", "key", cacheKey)
				return payload, nil
			}
		}
		o.log.Warn("discarding bad cached extraction", "key", cacheKey)
	}

	user := "Extract graph facts from this record:\n\n" + string(recordJSON)
	out, err := o.client.GenerateJSON(ctx, o.extractSys, user, "GraphFactsPayload", o.schema)
	if err != nil {
		return nil, fmt.Errorf("llm extract: %w", err)
	}

	payload, err := domain.DecodePayload(out)
	if err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}

	if raw, err := json.Marshal(out); err == nil {
		o.cache.Set(ctx, cacheKey, raw)
	}

	return payload, nil
}

func (o *LLMOracle) Fix(ctx context.Context, payload *domain.GraphFactsPayload, violations []string) (*domain.GraphFactsPayload, error) {
	payloadJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var b strings.Builder
	b.WriteString("Current payload:\n\n")
	b.Write(payloadJSON)
	b.WriteString("\n\nValidation errors:\n")
	for _, v := range violations {
		b.WriteString("- ")
		b.WriteString(v)
		b.WriteString("\n")
	}

	out, err := o.client.GenerateJSON(ctx, o.fixSys, b.String(), "GraphFactsPayload", o.schema)
	if err != nil {
		return nil, fmt.Errorf("llm fix: %w", err)
	}

	fixed, err := domain.DecodePayload(out)
	if err != nil {
		return nil, fmt.Errorf("decode fix: %w", err)
	}
	return fixed, nil
}

func canonicalJSON(v any) ([]byte, error) {
	// encoding/json sorts map keys, which is all the determinism the cache
	// key needs.
	return json.Marshal(v)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
