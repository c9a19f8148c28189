package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railzwaylabs/pricing/internal/authorization"
	"github.com/railzwaylabs/pricing/internal/bootstrap"
	"github.com/railzwaylabs/pricing/internal/config"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	quotedomain "github.com/railzwaylabs/pricing/internal/quote/domain"
	resolutiondomain "github.com/railzwaylabs/pricing/internal/resolution/domain"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	Gatherer   prometheus.Gatherer       `optional:"true"`
	Tracer     trace.TracerProvider      `optional:"true"`
	SchemaGate bootstrap.SchemaGate      `optional:"true"`
	Auth       *authorization.Authorizer `optional:"true"`

	Scopes   scopedomain.Lookup
	Records  recorddomain.Service
	Rules    ruledomain.Service
	Resolver resolutiondomain.Resolver
	Quotes   quotedomain.Service
	Cache    *resolutioncache.Cache
}

type Server struct {
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	gatherer   prometheus.Gatherer
	tracer     trace.TracerProvider
	schemaGate bootstrap.SchemaGate
	auth       *authorization.Authorizer

	scopes   scopedomain.Lookup
	records  recorddomain.Service
	rules    ruledomain.Service
	resolver resolutiondomain.Resolver
	quotes   quotedomain.Service
	cache    *resolutioncache.Cache

	engine *gin.Engine
}

func NewServer(p Params) *Server {
	s := &Server{
		cfg:        p.Config,
		log:        p.Log.Named("server"),
		db:         p.DB,
		gatherer:   p.Gatherer,
		tracer:     p.Tracer,
		schemaGate: p.SchemaGate,
		auth:       p.Auth,
		scopes:     p.Scopes,
		records:    p.Records,
		rules:      p.Rules,
		resolver:   p.Resolver,
		quotes:     p.Quotes,
		cache:      p.Cache,
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.engine = NewEngine(s.cfg)
	s.engine.Use(RequestID(), Tracing(s.tracer), RequestLogger(s.log))
	s.RegisterRoutes(s.engine)
	return s
}

// NewEngine returns a bare gin engine with recovery, in release mode unless
// running in development.
func NewEngine(cfg config.Config) *gin.Engine {
	if !cfg.App.IsDev() && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.HandleMethodNotAllowed = true
	return engine
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Healthz)
	r.GET("/readyz", s.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.Gatherers{s.gatherer, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)))

	s.RegisterAPIRoutes(r.Group("/v1", s.APIKeyRequired()))
}

func (s *Server) RegisterAPIRoutes(v1 *gin.RouterGroup) {
	prices := v1.Group("/prices", s.Authorize(authorization.ObjectPrices, authorization.ActionRead))
	prices.POST("/resolve", s.ResolvePrice)
	prices.POST("/resolve/bulk", s.ResolvePricesBulk)
	prices.POST("/quote", s.QuotePrice)
	prices.POST("/quote/bulk", s.QuotePricesBulk)

	records := v1.Group("/price_records")
	records.GET("", s.Authorize(authorization.ObjectPriceRecords, authorization.ActionRead), s.ListPriceRecords)
	records.GET("/:id", s.Authorize(authorization.ObjectPriceRecords, authorization.ActionRead), s.GetPriceRecord)
	records.POST("", s.Authorize(authorization.ObjectPriceRecords, authorization.ActionWrite), s.CreatePriceRecord)
	records.POST("/:id/retire", s.Authorize(authorization.ObjectPriceRecords, authorization.ActionWrite), s.RetirePriceRecord)

	rules := v1.Group("/price_rules")
	rules.GET("", s.Authorize(authorization.ObjectPriceRules, authorization.ActionRead), s.ListPriceRules)
	rules.GET("/:id", s.Authorize(authorization.ObjectPriceRules, authorization.ActionRead), s.GetPriceRule)
	rules.POST("", s.Authorize(authorization.ObjectPriceRules, authorization.ActionWrite), s.CreatePriceRule)
	rules.POST("/:id/deactivate", s.Authorize(authorization.ObjectPriceRules, authorization.ActionWrite), s.DeactivatePriceRule)

	v1.GET("/markets", s.Authorize(authorization.ObjectMarkets, authorization.ActionRead), s.ListMarkets)
	v1.POST("/cache/invalidate", s.Authorize(authorization.ObjectCache, authorization.ActionWrite), s.InvalidateCache)
}

// RunHTTP binds the server to the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if s.cfg.HTTP.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.cfg.HTTP.ShutdownTimeout)
				defer cancel()
			}
			return srv.Shutdown(ctx)
		},
	})
}
