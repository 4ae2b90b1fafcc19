// Package httpapi публикует операции маркетплейса по HTTP через gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/marketplace/internal/service/reconciliation"
)

const defaultIdempotencyTTL = 24 * time.Hour

// OrderService — операции над заказами.
type OrderService interface {
	PlaceOrder(ctx context.Context, req fulfillment.PlaceOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (fulfillment.OrderView, error)
	ConfirmPayment(ctx context.Context, orderID string) (domain.Order, error)
	Transition(ctx context.Context, itemID string, target domain.OrderStatus, actor fulfillment.Actor) (fulfillment.TransitionResult, error)
}

// RefundService — возвраты по застрявшим заказам.
type RefundService interface {
	Sweep(ctx context.Context, now time.Time) (reconciliation.Report, error)
	RefundOrder(ctx context.Context, orderID, reason string) (domain.RefundOutcome, error)
}

// PayoutHistory отдаёт выплаты продавца.
type PayoutHistory interface {
	History(ctx context.Context, vendorID string, limit int) ([]domain.Payout, error)
}

// Services — обработчики, которые публикует API.
type Services struct {
	Orders      OrderService
	Refunds     RefundService
	Payouts     PayoutHistory
	Idempotency domain.IdempotencyRepository
	Health      *health.Handler
}

// Option настраивает router.
type Option func(*server)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает HTTP-метрики.
func WithMetrics(m *metrics.HTTP) Option {
	return func(s *server) {
		s.metrics = m
	}
}

// WithTracing включает otel-спаны на каждый запрос.
func WithTracing(serviceName string) Option {
	return func(s *server) {
		s.tracingService = serviceName
	}
}

// WithIdempotencyTTL задаёт срок хранения ответов по Idempotency-Key.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *server) {
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *server) {
		if now != nil {
			s.now = now
		}
	}
}

type server struct {
	Services
	logger         *log.Entry
	metrics        *metrics.HTTP
	tracingService string
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewRouter собирает gin.Engine со всеми маршрутами.
func NewRouter(services Services, opts ...Option) *gin.Engine {
	s := &server{
		Services:       services,
		logger:         log.WithField("component", "http"),
		idempotencyTTL: defaultIdempotencyTTL,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	if s.tracingService != "" {
		router.Use(otelgin.Middleware(s.tracingService))
	}
	// recovery последним, чтобы лог и метрики видели итоговый статус 500.
	router.Use(s.accessLog(), s.instrument(), s.recovery())
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: "route not found"})
	})

	if s.Health != nil {
		router.GET("/healthz", gin.WrapH(s.Health))
		router.GET("/livez", gin.WrapF(health.LivenessHandler))
		router.GET("/readyz", gin.WrapF(s.Health.ReadinessHandler))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.POST("/orders", s.idempotent(), s.placeOrder)
	api.GET("/orders/:id", s.getOrder)
	api.POST("/orders/:id/payment-confirmation", s.confirmPayment)
	api.PATCH("/order-items/:id/status", s.transitionItem)
	api.GET("/vendors/:id/payouts", s.payoutHistory)

	admin := api.Group("/admin")
	admin.POST("/refund-sweep", s.refundSweep)
	admin.POST("/orders/:id/refund", s.refundOrder)

	return router
}
