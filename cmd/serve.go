package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored recommendations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(st, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter mounts the read-only recommendation API over st.
func buildRouter(st store.Store, sc config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	origins := sc.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if sc.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(sc.RateLimitPerMinute, time.Minute))
	}

	h := &apiHandler{store: st}
	r.Get("/health", h.health)
	r.Route("/recommendations", func(r chi.Router) {
		r.Get("/", h.listRecommendations)
		r.Get("/{category}", h.segmentRecommendations)
		r.Get("/{category}/{region}", h.segmentRecommendations)
	})
	r.Get("/rollups", h.listRollups)
	r.Get("/summary", h.summary)
	r.Get("/trends", h.trend)

	return r
}

type apiHandler struct {
	store store.Store
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *apiHandler) listRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := pageFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seg := model.NewSegmentKey(q.Get("category"), q.Get("region"))
	filter.Category = seg.Category
	filter.Region = seg.Region
	filter.RunID = q.Get("run_id")
	h.recommendations(w, r, filter)
}

func (h *apiHandler) segmentRecommendations(w http.ResponseWriter, r *http.Request) {
	filter, err := pageFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seg := model.NewSegmentKey(chi.URLParam(r, "category"), chi.URLParam(r, "region"))
	filter.Category = seg.Category
	filter.Region = seg.Region
	h.recommendations(w, r, filter)
}

func (h *apiHandler) recommendations(w http.ResponseWriter, r *http.Request, filter store.RecommendationFilter) {
	recs, err := h.store.ListRecommendations(r.Context(), filter)
	if err != nil {
		h.fail(w, "list recommendations", err)
		return
	}
	if recs == nil {
		recs = []model.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *apiHandler) listRollups(w http.ResponseWriter, r *http.Request) {
	rollups, err := h.store.ListRollups(r.Context())
	if err != nil {
		h.fail(w, "list rollups", err)
		return
	}
	if rollups == nil {
		rollups = []model.SegmentRollup{}
	}
	writeJSON(w, http.StatusOK, rollups)
}

func (h *apiHandler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetSummary(r.Context())
	if err != nil {
		h.fail(w, "get summary", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "no run stored")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *apiHandler) trend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seg := model.NewSegmentKey(q.Get("category"), q.Get("region"))
	if seg.IsZero() && seg.Region != "" {
		writeError(w, http.StatusBadRequest, "region requires category")
		return
	}
	points, err := h.store.ListTrend(r.Context(), seg)
	if err != nil {
		h.fail(w, "list trend", err)
		return
	}
	if points == nil {
		points = []model.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *apiHandler) fail(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// pageFilter reads limit and offset query parameters.
func pageFilter(r *http.Request) (store.RecommendationFilter, error) {
	var f store.RecommendationFilter
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.Errorf("invalid offset %q", v)
		}
		f.Offset = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
