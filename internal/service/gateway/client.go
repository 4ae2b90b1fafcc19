package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

// Mode определяет, куда реально уходят деньги.
type Mode string

const (
	// ModeLive — боевой шлюз, суммы не ограничиваются.
	ModeLive Mode = "live"
	// ModeSandbox — демо-окружение шлюза, сумма обрезается до SandboxMaxAmount.
	ModeSandbox Mode = "sandbox"
	// ModeSimulated — сетевых вызовов нет, каждая выплата успешна с синтетической ссылкой.
	ModeSimulated Mode = "simulated"
)

// SimulatedReferencePrefix отличает синтетические ссылки от настоящих транзакций шлюза.
const SimulatedReferencePrefix = "SIMULATED-"

const (
	defaultTimeout          = 15 * time.Second
	defaultRetryCount       = 2
	defaultRetryWait        = 500 * time.Millisecond
	defaultRetryMaxWait     = 3 * time.Second
	defaultSandboxMaxAmount = 100

	disbursePath = "/withdraw/"
)

var disburseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "marketplace_gateway_disburse_total",
	Help: "Total number of disbursement calls grouped by operator and result.",
}, []string{"operator", "result"})

// IsSimulatedReference сообщает, что выплата не проводилась через реальный шлюз.
func IsSimulatedReference(reference string) bool {
	return strings.HasPrefix(reference, SimulatedReferencePrefix)
}

// ParseMode разбирает режим из конфигурации.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeLive, ModeSandbox, ModeSimulated:
		return m, nil
	case "":
		return ModeSandbox, nil
	default:
		return "", fmt.Errorf("unknown gateway mode %q", raw)
	}
}

// Config описывает подключение к шлюзу мобильных денег.
type Config struct {
	Mode             Mode
	BaseURL          string
	Token            string
	CountryCode      string
	SandboxMaxAmount int64
	Timeout          time.Duration
	RetryCount       int
	RetryWait        time.Duration
	RetryMaxWait     time.Duration
}

// DisburseRequest — перевод с баланса площадки на кошелёк продавца.
type DisburseRequest struct {
	AmountMinor int64
	Phone       string
	// Reference — внешний идентификатор (ID выплаты); шлюз дедуплицирует по нему.
	Reference   string
	Description string
}

// DisburseResult — ответ шлюза на перевод.
type DisburseResult struct {
	Reference   string
	Status      string
	Operator    domain.Operator
	Phone       string
	AmountMinor int64
	Simulated   bool
}

// Option настраивает Client.
type Option func(*Client)

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer задаёт tracer вместо глобального.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Client — общий HTTP-клиент шлюза, через который работают все операторы.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger *log.Entry
	tracer trace.Tracer
}

type disburseBody struct {
	Amount            string `json:"amount"`
	To                string `json:"to"`
	Description       string `json:"description"`
	ExternalReference string `json:"external_reference"`
}

type disburseResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// NewClient создаёт клиент; без токена клиент работает в режиме симуляции.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeSandbox
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	if cfg.SandboxMaxAmount <= 0 {
		cfg.SandboxMaxAmount = defaultSandboxMaxAmount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	} else if cfg.RetryCount == 0 {
		cfg.RetryCount = defaultRetryCount
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = defaultRetryMaxWait
	}

	c := &Client{
		cfg:    cfg,
		logger: log.WithField("component", "payout-gateway"),
		tracer: otel.Tracer("github.com/vladislavdragonenkov/marketplace/internal/service/gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryable).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	if cfg.Token != "" {
		c.http.SetAuthScheme("Token").SetAuthToken(cfg.Token)
	}

	if c.Simulated() {
		c.logger.WithField("mode", cfg.Mode).Warn("payout gateway runs in simulated mode, no money will move")
	}
	return c
}

// Simulated сообщает, что выплаты не уходят в шлюз (режим simulated или нет токена).
func (c *Client) Simulated() bool {
	return c.cfg.Mode == ModeSimulated || strings.TrimSpace(c.cfg.Token) == "" || strings.TrimSpace(c.cfg.BaseURL) == ""
}

// CountryCode возвращает код страны, к которому приводятся номера.
func (c *Client) CountryCode() string {
	return c.cfg.CountryCode
}

// retryable повторяет только транспортные ошибки, 5xx и 429; бизнес-ошибки 4xx не повторяются.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (c *Client) disburse(ctx context.Context, op domain.Operator, req DisburseRequest, phone string) (result DisburseResult, err error) {
	ctx, span := c.tracer.Start(ctx, "gateway.disburse", trace.WithAttributes(
		attribute.String("payout.operator", string(op)),
		attribute.String("payout.reference", req.Reference),
		attribute.String("gateway.mode", string(c.cfg.Mode)),
	))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if result.Simulated {
			outcome = "simulated"
		}
		disburseTotal.WithLabelValues(string(op), outcome).Inc()
		span.End()
	}()

	if req.AmountMinor <= 0 {
		return DisburseResult{}, &Error{Code: CodeInvalidAmount, Message: fmt.Sprintf("amount must be positive, got %d", req.AmountMinor)}
	}

	amount := req.AmountMinor
	if c.cfg.Mode == ModeSandbox && amount > c.cfg.SandboxMaxAmount {
		c.logger.WithFields(log.Fields{
			"requested": amount,
			"sent":      c.cfg.SandboxMaxAmount,
			"reference": req.Reference,
		}).Info("sandbox payout amount clamped")
		amount = c.cfg.SandboxMaxAmount
	}
	span.SetAttributes(attribute.Int64("payout.amount", amount))

	if c.Simulated() {
		return DisburseResult{
			Reference:   SimulatedReferencePrefix + req.Reference,
			Status:      "SUCCESSFUL",
			Operator:    op,
			Phone:       phone,
			AmountMinor: amount,
			Simulated:   true,
		}, nil
	}

	var (
		ok   disburseResponse
		fail errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(disburseBody{
			Amount:            strconv.FormatInt(amount, 10),
			To:                phone,
			Description:       req.Description,
			ExternalReference: req.Reference,
		}).
		SetResult(&ok).
		SetError(&fail).
		Post(disbursePath)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return DisburseResult{}, fmt.Errorf("disburse %s: %w", req.Reference, err)
		}
		return DisburseResult{}, &Error{Message: fmt.Sprintf("transport: %v", err)}
	}

	if resp.IsError() {
		return DisburseResult{}, &Error{
			Code:       fail.ErrorCode,
			Message:    firstNonEmpty(fail.Message, resp.Status()),
			HTTPStatus: resp.StatusCode(),
		}
	}
	if strings.EqualFold(ok.Status, "FAILED") {
		return DisburseResult{}, &Error{Code: ok.Code, Message: firstNonEmpty(ok.Message, "disbursement failed"), HTTPStatus: resp.StatusCode()}
	}
	if ok.Reference == "" {
		return DisburseResult{}, &Error{Message: "gateway response has no reference", HTTPStatus: resp.StatusCode()}
	}

	return DisburseResult{
		Reference:   ok.Reference,
		Status:      ok.Status,
		Operator:    op,
		Phone:       phone,
		AmountMinor: amount,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
