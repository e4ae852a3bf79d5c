package source

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/db"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/resilience"
)

const (
	entitiesTable = "source_entities"
	eventsTable   = "source_events"
)

// LiveOptions controls paging against the live store.
type LiveOptions struct {
	PageSize       int
	ReadAhead      int
	PagesPerSecond float64
	Retry          resilience.RetryConfig
}

func (o LiveOptions) withDefaults() LiveOptions {
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	if o.ReadAhead <= 0 {
		o.ReadAhead = 2
	}
	return o
}

// LiveSource reads entity and event documents from postgres tables holding
// (id text, doc jsonb) rows, one keyset-paginated page at a time.
type LiveSource struct {
	pool    db.Pool
	mapping Mapping
	opts    LiveOptions
	limiter *rate.Limiter
	owned   bool
}

// NewLiveSource wraps an existing pool. Close does not close the pool.
func NewLiveSource(pool db.Pool, m Mapping, opts LiveOptions) *LiveSource {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.PagesPerSecond > 0 {
		limit = rate.Limit(opts.PagesPerSecond)
	}
	return &LiveSource{
		pool:    pool,
		mapping: m,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// OpenLive connects to the source database described by cfg.
func OpenLive(ctx context.Context, cfg config.SourceConfig, m Mapping) (*LiveSource, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, model.NewIngestionError("connect", err)
	}
	s := NewLiveSource(pool, m, LiveOptions{
		PageSize:       cfg.PageSize,
		ReadAhead:      cfg.ReadAhead,
		PagesPerSecond: cfg.PagesPerSecond,
	})
	s.owned = true
	return s, nil
}

// Entities implements Source.
func (s *LiveSource) Entities(ctx context.Context) ([]model.Entity, error) {
	var docs []document
	err := s.pages(ctx, entitiesTable, func(page []document) error {
		docs = append(docs, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("source: entities loaded", zap.Int("documents", len(docs)))
	return mapEntities(s.mapping, docs), nil
}

// Events implements Source. Events are delivered in id order.
func (s *LiveSource) Events(ctx context.Context, fn func(model.RawEvent) error) error {
	return s.pages(ctx, eventsTable, func(page []document) error {
		for _, d := range page {
			if err := fn(s.mapping.MapEvent(d.ID, d.Doc)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Source.
func (s *LiveSource) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// pages streams every page of table to fn. A producer fetches ahead of the
// consumer up to ReadAhead pages.
func (s *LiveSource) pages(ctx context.Context, table string, fn func([]document) error) error {
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan []document, s.opts.ReadAhead)

	g.Go(func() error {
		defer close(ch)
		after := ""
		for {
			page, err := s.fetchPage(gctx, table, after)
			if err != nil {
				return err
			}
			if len(page.docs) > 0 {
				select {
				case ch <- page.docs:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if page.rows < s.opts.PageSize {
				return nil
			}
			after = page.lastID
		}
	})

	g.Go(func() error {
		for page := range ch {
			if err := fn(page); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// keysetPage is one fetched page. rows includes undecodable documents so the
// short-page check stays accurate.
type keysetPage struct {
	docs   []document
	rows   int
	lastID string
}

func (s *LiveSource) fetchPage(ctx context.Context, table, after string) (keysetPage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return keysetPage{}, err
	}

	retry := s.opts.Retry
	retry.OnRetry = resilience.RetryLogger("source page", zap.String("table", table), zap.String("after", after))

	p, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (keysetPage, error) {
		return s.queryPage(ctx, table, after)
	})
	if err != nil {
		return keysetPage{}, model.NewIngestionError("read "+table, err)
	}
	return p, nil
}

func (s *LiveSource) queryPage(ctx context.Context, table, after string) (keysetPage, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, doc FROM "+table+" WHERE id > $1 ORDER BY id LIMIT $2",
		after, s.opts.PageSize)
	if err != nil {
		return keysetPage{}, eris.Wrapf(err, "source: query %s", table)
	}
	defer rows.Close()

	p := keysetPage{docs: make([]document, 0, s.opts.PageSize)}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return keysetPage{}, eris.Wrapf(err, "source: scan %s", table)
		}
		p.rows++
		p.lastID = id
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			zap.L().Warn("source: undecodable document skipped",
				zap.String("table", table), zap.String("id", id), zap.Error(err))
			continue
		}
		p.docs = append(p.docs, document{ID: id, Doc: doc})
	}
	if err := rows.Err(); err != nil {
		return keysetPage{}, eris.Wrapf(err, "source: iterate %s", table)
	}
	return p, nil
}
