package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// HeaderIdempotencyKey — заголовок с ключом идемпотентности запроса.
const HeaderIdempotencyKey = "Idempotency-Key"

// accessLog пишет строку на каждый запрос.
func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		fields := log.Fields{
			"status":    c.Writer.Status(),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"latency":   time.Since(started).String(),
			"client_ip": c.ClientIP(),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		entry := s.logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("http request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Debug("http request")
		}
	}
}

func (s *server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}
		started := time.Now()
		s.metrics.Started()
		c.Next()
		s.metrics.Finished(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(started))
	}
}

func (s *server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.WithFields(log.Fields{
			"panic":  recovered,
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{Success: false, Message: "internal error"})
	})
}

// bodyRecorder копирует ответ, чтобы сохранить его под ключом идемпотентности.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(data string) (int, error) {
	w.body.WriteString(data)
	return w.ResponseWriter.WriteString(data)
}

// idempotent сохраняет ответ под Idempotency-Key и отдаёт его повторно
// на запросы с тем же ключом. Без заголовка запрос обрабатывается как обычно.
func (s *server) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || s.Idempotency == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.fail(c, errMalformedBody)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		logger := s.logger.WithField("idempotency_key", key)
		hash := requestHash(c.Request.Method, c.FullPath(), body)

		record, err := s.Idempotency.CreateProcessing(ctx, key, hash, s.now().Add(s.idempotencyTTL))
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			c.AbortWithStatusJSON(http.StatusConflict, envelope{Success: false, Message: err.Error()})
			return
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			s.replay(c, record)
			return
		case err != nil:
			s.fail(c, err)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// Ответ уже отдан клиенту; фиксация не должна зависеть от его отключения.
		storeCtx := context.WithoutCancel(ctx)
		status := recorder.Status()
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			err = s.Idempotency.MarkDone(storeCtx, key, recorder.body.Bytes(), status)
		} else {
			err = s.Idempotency.MarkFailed(storeCtx, key, recorder.body.Bytes(), status)
		}
		if err != nil {
			logger.WithError(err).Error("failed to store idempotent response")
		}
	}
}

func (s *server) replay(c *gin.Context, record domain.IdempotencyRecord) {
	if !record.Replayable() {
		c.AbortWithStatusJSON(http.StatusConflict, envelope{
			Success: false,
			Message: "request with this idempotency key is still processing",
		})
		return
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(record.ReplayStatus(), "application/json; charset=utf-8", record.ResponseBody)
	c.Abort()
}

func requestHash(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
