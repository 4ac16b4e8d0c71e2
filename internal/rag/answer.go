package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/models"
)

// Status is the terminal state of a chat turn.
type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFallenBack Status = "fallen_back"
)

type stage string

const (
	stageExtractingFilter stage = "extracting_filter"
	stageRetrieving       stage = "retrieving"
	stageGenerating       stage = "generating"
	stageSucceeded        stage = "succeeded"
	stageFallenBack       stage = "fallen_back"
)

// Outcome is the result of answering a query. A fallen-back outcome carries
// the generation error in Reason and the fallback kind in Fallback.
type Outcome struct {
	Text        string
	Status      Status
	UsedContext bool
	Generated   bool
	Reason      error
	Fallback    string
}

func (e *Engine[T]) logStage(s stage, fields ...zap.Field) {
	e.logger.Debug("Chat stage", append([]zap.Field{zap.String("stage", string(s))}, fields...)...)
}

// answer turns retrieved context into a reply. It never fails: every
// generation error ends in a fallback derived from retrieved alone.
func (e *Engine[T]) answer(ctx context.Context, query string, retrieved []models.Scored[T]) Outcome {
	var prompt string
	if len(retrieved) > 0 {
		prompt = e.variant.Prompt(query, retrieved)
	} else {
		var reply string
		prompt, reply = e.variant.EmptyRetrieval(query)
		if prompt == "" {
			e.logStage(stageSucceeded, zap.Bool("generated", false))
			return Outcome{Text: reply, Status: StatusSucceeded}
		}
	}

	e.logStage(stageGenerating, zap.Int("context", len(retrieved)))
	text, err := e.generate(ctx, prompt)
	if err == nil {
		e.logStage(stageSucceeded, zap.Bool("generated", true))
		return Outcome{
			Text:        text,
			Status:      StatusSucceeded,
			UsedContext: len(retrieved) > 0,
			Generated:   true,
		}
	}

	e.logger.Warn("Generation failed, using fallback", zap.Error(err))
	out := e.fallback(retrieved, err)
	e.logStage(stageFallenBack, zap.String("fallback", out.Fallback))
	return out
}

func (e *Engine[T]) generate(ctx context.Context, prompt string) (string, error) {
	if e.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.generateTimeout)
		defer cancel()
	}
	start := time.Now()
	text, err := e.generator.Generate(ctx, prompt, e.genOpts)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = generation.ErrEmptyResponse
		}
	}
	e.metrics.ObserveGeneration(e.variant.Corpus(), start, err)
	return text, err
}

func (e *Engine[T]) fallback(retrieved []models.Scored[T], reason error) Outcome {
	if len(retrieved) == 0 {
		return Outcome{
			Text:     fmt.Sprintf("I apologize, but I encountered an error: %v", reason),
			Status:   StatusFallenBack,
			Reason:   reason,
			Fallback: FallbackApology,
		}
	}
	text, kind := e.variant.Fallback(retrieved)
	return Outcome{
		Text:        text,
		Status:      StatusFallenBack,
		UsedContext: true,
		Reason:      reason,
		Fallback:    kind,
	}
}
