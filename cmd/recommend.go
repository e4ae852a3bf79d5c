package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/geo"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/pipeline"
	"github.com/sells-group/siting-cli/internal/scorer"
	"github.com/sells-group/siting-cli/internal/source"
	"github.com/sells-group/siting-cli/internal/store"
)

var recommendFlags struct {
	source      string
	fixture     string
	geofence    string
	kPerSegment int
	minOrders   int
	minSales    float64
	minSpacing  float64
	topK        int
	horizon     int
	dryRun      bool
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Run a recommendation pass and store the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRecommendFlags(cmd, cfg)
		if err := cfg.Validate("recommend"); err != nil {
			return err
		}
		if err := scorer.ValidateConfig(cfg.Scorer); err != nil {
			return err
		}

		result, err := runRecommend(ctx, cfg, recommendFlags.dryRun)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrNoUsableData):
			zap.L().Warn("no usable demand or entities in source")
		case model.IsIngestion(err):
			zap.L().Error("ingestion failed", zap.Error(err))
		}
		if result != nil {
			if encErr := printResult(os.Stdout, result); encErr != nil {
				zap.L().Warn("print result", zap.Error(encErr))
			}
		}
		return err
	},
}

// applyRecommendFlags copies explicitly set flags over the loaded config.
func applyRecommendFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("source") {
		c.Source.Mode = recommendFlags.source
	}
	if f.Changed("fixture") {
		c.Source.FixturePath = recommendFlags.fixture
	}
	if f.Changed("geofence") {
		c.Geofence.Path = recommendFlags.geofence
	}
	if f.Changed("k-per-segment") {
		c.Cluster.KMax = recommendFlags.kPerSegment
	}
	if f.Changed("min-orders") {
		c.Scorer.MinOrders = recommendFlags.minOrders
	}
	if f.Changed("min-sales") {
		c.Scorer.MinSales = recommendFlags.minSales
	}
	if f.Changed("min-spacing") {
		c.Scorer.MinSpacingMeters = recommendFlags.minSpacing
	}
	if f.Changed("top-k") {
		c.Rank.TopK = recommendFlags.topK
	}
	if f.Changed("horizon") {
		c.Forecast.HorizonPeriods = recommendFlags.horizon
	}
}

// runRecommend wires source, geofences, store and pipeline for one run.
func runRecommend(ctx context.Context, c *config.Config, dryRun bool) (*pipeline.Result, error) {
	src, err := openSource(ctx, c.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	var fences *geo.GeofenceTable
	if c.Geofence.Path != "" {
		fences, err = geo.LoadGeofences(c.Geofence.Path, c.Geofence.NameProperty)
		if err != nil {
			return nil, eris.Wrap(err, "load geofences")
		}
		zap.L().Info("geofences loaded", zap.Int("count", fences.Len()), zap.Strings("names", fences.Names()))
	}

	var st store.Store
	if !dryRun {
		st, err = store.Open(ctx, c.Store)
		if err != nil {
			return nil, eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	p, err := pipeline.New(c, st)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, src, fences)
}

func openSource(ctx context.Context, c config.SourceConfig) (source.Source, error) {
	m, err := source.LookupMapping(c.SchemaVersion)
	if err != nil {
		return nil, err
	}
	switch c.Mode {
	case "live":
		return source.OpenLive(ctx, c, m)
	default:
		return source.OpenFixture(c.FixturePath, m)
	}
}

// printResult writes the summary, rollups, recommendations and any failed
// outputs as indented JSON.
func printResult(w io.Writer, r *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func init() {
	f := recommendCmd.Flags()
	f.StringVar(&recommendFlags.source, "source", "fixture", "data source mode: live or fixture")
	f.StringVar(&recommendFlags.fixture, "fixture", "", "fixture file path (fixture mode)")
	f.StringVar(&recommendFlags.geofence, "geofence", "", "GeoJSON or shapefile of segment geofences")
	f.IntVar(&recommendFlags.kPerSegment, "k-per-segment", 6, "maximum clusters per segment")
	f.IntVar(&recommendFlags.minOrders, "min-orders", 8, "cluster orders below which a penalty applies")
	f.Float64Var(&recommendFlags.minSales, "min-sales", 800, "cluster sales below which a penalty applies")
	f.Float64Var(&recommendFlags.minSpacing, "min-spacing", 400, "minimum distance in meters to an existing entity")
	f.IntVar(&recommendFlags.topK, "top-k", 5, "recommendations kept per segment")
	f.IntVar(&recommendFlags.horizon, "horizon", 12, "forecast horizon in periods")
	f.BoolVar(&recommendFlags.dryRun, "dry-run", false, "compute recommendations without writing them")
	rootCmd.AddCommand(recommendCmd)
}
