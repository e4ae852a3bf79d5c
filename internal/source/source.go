package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/siting-cli/internal/model"
)

// Source yields entities and a stream of raw events. Implementations return
// an IngestionError when the underlying store cannot be read.
type Source interface {
	// Entities returns every mappable entity. Unmappable documents are skipped.
	Entities(ctx context.Context) ([]model.Entity, error)
	// Events calls fn once per event document, in a stable order. An error
	// from fn stops iteration and is returned as is.
	Events(ctx context.Context, fn func(model.RawEvent) error) error
	Close() error
}

// mapEntities applies the mapping to every document and logs how many were
// skipped.
func mapEntities(m Mapping, docs []document) []model.Entity {
	out := make([]model.Entity, 0, len(docs))
	skipped := 0
	for _, d := range docs {
		e, err := m.MapEntity(d.ID, d.Doc)
		if err != nil {
			skipped++
			zap.L().Debug("source: entity skipped", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	if skipped > 0 {
		zap.L().Info("source: entities without usable location or category skipped",
			zap.Int("skipped", skipped), zap.Int("kept", len(out)))
	}
	return out
}

// document is a raw record with its store identifier.
type document struct {
	ID  string
	Doc map[string]any
}
