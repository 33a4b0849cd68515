package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Simplici0/foodcost/internal/calibration"
	"github.com/Simplici0/foodcost/internal/config"
	"github.com/Simplici0/foodcost/internal/db"
	"github.com/Simplici0/foodcost/internal/history"
	"github.com/Simplici0/foodcost/internal/migrations"
	"github.com/Simplici0/foodcost/internal/program"
	"github.com/Simplici0/foodcost/internal/seed"
	"github.com/Simplici0/foodcost/internal/store"
)

const maxUploadBytes = 32 << 20

type server struct {
	auth        *authService
	store       *store.Store
	calibration *calibration.Service
	profile     config.Profile
	model       program.Model
}

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg)
	if cfg.SessionSecret == "" && !cfg.IsDev() {
		log.Fatal().Str("env", cfg.Env).Msg("SESSION_SECRET is required outside development")
	}

	profiles, err := config.LoadProfiles(cfg.ProfilesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load cost profiles")
	}
	profile, err := profiles.Lookup(cfg.Profile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to select cost profile")
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if err := migrations.Up(database); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}

	stats, err := seed.Run(database, seed.DefaultConfig(cfg.AdminEmail, cfg.AdminPassword))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed database")
	}
	log.Info().Int("inserts", stats.Inserts).Msg("seed complete")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(database)
	model, err := st.LoadModel(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load program model")
	}

	if cfg.HistoryFile != "" {
		records, err := history.LoadFile(cfg.HistoryFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.HistoryFile).Msg("failed to load history")
		}
		if err := st.ReplaceHistory(ctx, records); err != nil {
			log.Fatal().Err(err).Msg("failed to store history")
		}
		log.Info().Int("records", len(records)).Str("file", cfg.HistoryFile).Msg("history imported")
	}

	calibrator := calibration.NewCalibrator(model, profile.Calibration(), profile.Name)
	srv := &server{
		auth:        newAuthService(database, cfg.SessionSecret),
		store:       st,
		calibration: calibration.NewService(calibrator, st, st),
		profile:     profile,
		model:       model,
	}
	if _, err := srv.calibration.Refresh(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed initial calibration")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", httpServer.Addr).Str("profile", profile.Name).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Post("/login", s.handleLoginSubmit)
	r.Post("/logout", s.handleLogout)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/programs", s.handleProgramsList)
		r.Get("/estimates", s.handleEstimatesList)
		r.Post("/scenarios", s.handleScenarioSubmit)
		r.Get("/quotes", s.handleQuotesList)
		r.Get("/calibrations/latest", s.handleLatestCalibration)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/history", s.handleHistoryUpload)
			r.Post("/calibrate", s.handleCalibrate)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy", "profile": s.profile.Name}
	if snap, err := s.calibration.Publisher().Current(); err == nil {
		body["snapshot_id"] = snap.ID.String()
		body["calibrated_at"] = snap.CreatedAt
	} else {
		body["status"] = "not ready"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type programView struct {
	Program            program.ID            `json:"program"`
	Composition        program.Composition   `json:"composition"`
	Ratios             program.ChannelRatios `json:"ratios"`
	FixedPurchasePrice bool                  `json:"fixed_purchase_price"`
}

func (s *server) handleProgramsList(w http.ResponseWriter, r *http.Request) {
	programs := s.model.Programs()
	views := make([]programView, 0, len(programs))
	for _, p := range programs {
		views = append(views, programView{
			Program:            p.ID,
			Composition:        p.Composition,
			Ratios:             p.Ratios,
			FixedPurchasePrice: p.FixedPurchasePrice,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": views})
}

func (s *server) handleEstimatesList(w http.ResponseWriter, r *http.Request) {
	snap, err := s.calibration.Publisher().Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "calibration not available")
		return
	}

	rows := snap.Table.Rows()
	prices := make([]priceView, 0, len(rows))
	for _, row := range rows {
		prices = append(prices, newPriceView(row))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id": snap.ID.String(),
		"profile":     snap.Profile,
		"created_at":  snap.CreatedAt,
		"prices":      prices,
		"estimates":   snap.Estimates,
		"aggregates":  snap.Aggregates,
	})
}

func (s *server) handleLatestCalibration(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestCalibration(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no stored calibration")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("latest calibration")
		writeError(w, http.StatusInternalServerError, "failed to load calibration")
		return
	}

	prices := make([]priceView, 0, len(run.Prices))
	for _, row := range run.Prices {
		prices = append(prices, newPriceView(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           run.ID.String(),
		"profile":      run.Profile,
		"record_count": run.RecordCount,
		"created_at":   run.CreatedAt,
		"prices":       prices,
	})
}

func (s *server) handleQuotesList(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("program")
	if code != "" {
		if _, err := program.ParseID(code); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	quotes, err := s.store.ListQuotes(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Msg("list quotes")
		writeError(w, http.StatusInternalServerError, "failed to load quotes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *server) handleHistoryUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	records, err := history.Read(file, fileExt(header.Filename))
	if err != nil {
		var loadErr *history.LoadError
		if errors.As(err, &loadErr) || errors.Is(err, history.ErrUnsupportedFormat) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	snap, err := s.calibration.Import(r.Context(), records, s.store)
	if err != nil {
		log.Error().Err(err).Msg("import history")
		writeError(w, http.StatusInternalServerError, "failed to import history")
		return
	}
	writeCalibrated(w, snap)
}

func (s *server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	snap, err := s.calibration.Refresh(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("recalibrate")
		writeError(w, http.StatusInternalServerError, "calibration failed")
		return
	}
	writeCalibrated(w, snap)
}

func writeCalibrated(w http.ResponseWriter, snap *calibration.Snapshot) {
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id":  snap.ID.String(),
		"record_count": snap.RecordCount,
		"programs":     len(snap.Aggregates),
	})
}
