package main

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/crawlytics/crawlytics/internal/analytics"
	"github.com/crawlytics/crawlytics/internal/config"
	"github.com/crawlytics/crawlytics/internal/csrf"
	"github.com/crawlytics/crawlytics/internal/handlers"
	"github.com/crawlytics/crawlytics/internal/ingest"
	"github.com/crawlytics/crawlytics/internal/parser"
	"github.com/crawlytics/crawlytics/internal/repository"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	log := newLogger(cfg.Log)

	store, err := repository.NewMemory()
	if err != nil {
		log.Fatalf("event store: %v", err)
	}
	defer store.Close()

	lineParser := parser.New(!cfg.Crawler.Generic, cfg.Crawler.Pattern)
	pipeline := ingest.NewPipeline(lineParser, log)
	engine := analytics.NewEngine(store)

	parseTmpl := func(page string) *template.Template {
		t, err := template.ParseFiles("web/templates/base.html", "web/templates/"+page)
		if err != nil {
			log.Fatalf("templates (%s): %v", page, err)
		}
		return t
	}
	tmplDashboard := parseTmpl("dashboard.html")
	tmplQuery := parseTmpl("query.html")

	dh := &handlers.DashboardHandler{Store: store, Template: tmplDashboard}
	qh := &handlers.QueryHandler{Store: store, Template: tmplQuery}
	uh := &handlers.UploadHandler{Store: store, Pipeline: pipeline, Log: log, MaxUploadMB: cfg.MaxUploadMB}
	eh := &handlers.ExportHandler{Store: store}
	api := &handlers.APIHandler{Store: store, Engine: engine}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(csrf.Protect)

	r.Get("/", dh.ServeHTTP)
	r.Get("/query", qh.ServeHTTP)
	r.Post("/upload", uh.ServeHTTP)
	r.Get("/upload", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/static/upload.html")
	})
	r.Get("/export", eh.ServeHTTP)
	r.Post("/reset", api.Reset)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", api.Stats)
		r.Get("/url-patterns", api.URLPatterns)
		r.Get("/compare", api.Compare)
		r.Get("/presets", api.Presets)
		r.Get("/presets/{key}", api.PresetByKey)
	})

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir("web/static"))))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	log.Infof("listening on %s (crawler filter: %v, pattern: %q)",
		cfg.Listen, !cfg.Crawler.Generic, cfg.Crawler.Pattern)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
