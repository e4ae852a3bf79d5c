package source

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/siting-cli/internal/model"
)

// fixtureFile is the on-disk layout of a fixture. JSON files parse too.
type fixtureFile struct {
	Entities []map[string]any `yaml:"entities"`
	Events   []map[string]any `yaml:"events"`
}

// FixtureSource serves entities and events from a YAML or JSON file loaded
// into memory.
type FixtureSource struct {
	mapping  Mapping
	entities []document
	events   []document
}

// OpenFixture reads and parses a fixture file.
func OpenFixture(path string, m Mapping) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewIngestionError("read fixture", eris.Wrapf(err, "source: read %s", path))
	}
	return ParseFixture(data, m)
}

// ParseFixture parses fixture content.
func ParseFixture(data []byte, m Mapping) (*FixtureSource, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, model.NewIngestionError("parse fixture", eris.Wrap(err, "source: decode fixture"))
	}
	return &FixtureSource{
		mapping:  m,
		entities: documents("entity", f.Entities),
		events:   documents("event", f.Events),
	}, nil
}

func documents(kind string, docs []map[string]any) []document {
	out := make([]document, len(docs))
	for i, d := range docs {
		out[i] = document{ID: fmt.Sprintf("%s-%d", kind, i+1), Doc: d}
	}
	return out
}

// Entities implements Source.
func (s *FixtureSource) Entities(ctx context.Context) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mapEntities(s.mapping, s.entities), nil
}

// Events implements Source.
func (s *FixtureSource) Events(ctx context.Context, fn func(model.RawEvent) error) error {
	for _, d := range s.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s.mapping.MapEvent(d.ID, d.Doc)); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Source.
func (s *FixtureSource) Close() error { return nil }
