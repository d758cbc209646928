package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"wordbin/cfg"
	"wordbin/svc/db"
	"wordbin/svc/files"
	"wordbin/svc/lim"
	"wordbin/svc/store"
	"wordbin/svc/util"
)

type Server struct {
	router     *chi.Mux
	store      *store.Store
	cfg        *cfg.Cfg
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, st *store.Store, fileStore *files.Store, limiter *lim.Limiter, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(limiter, c)
	s := &Server{
		router: r,
		store:  st,
		cfg:    c,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
		r.Handle("/metrics", promhttp.Handler())
	})
	r.Mount("/debug", middleware.Profiler())

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(mw.Metrics)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.SecurityHeaders)

		hdl := &Hdl{store: st, files: fileStore, cfg: c}
		// Uploads stream file payloads, so they skip the context timeout.
		r.With(mw.RateLimit("create")).Post("/upload", hdl.CreatePaste)
		r.Group(func(r chi.Router) {
			r.Use(mw.ContextTimeout)
			r.With(mw.RateLimit("read")).Get("/pasta/{id}", hdl.GetPaste)
			r.With(mw.RateLimit("read")).Get("/raw/{id}", hdl.GetRawPaste)
			r.With(mw.RateLimit("read")).Get("/url/{id}", hdl.RedirectURL)
			r.With(mw.RateLimit("read")).Get("/file/{id}/{name}", hdl.GetFile)
			r.With(mw.RateLimit("read")).Get("/pastalist", hdl.ListPastes)
			r.With(mw.RateLimit("delete")).Delete("/pasta/{id}", hdl.RemovePaste)
			r.With(mw.RateLimit("delete")).Get("/remove/{id}", hdl.RemovePaste)
		})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
