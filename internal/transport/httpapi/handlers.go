package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
)

// HeaderActorRole со значением admin снимает проверку владельца позиции.
const HeaderActorRole = "X-Actor-Role"

const maxHistoryLimit = 200

func (s *server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errMalformedBody)
		return
	}

	order, err := s.Orders.PlaceOrder(c.Request.Context(), req.toService())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, "order placed", newOrderResponse(order, nil))
}

func (s *server) getOrder(c *gin.Context) {
	view, err := s.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", newOrderResponse(view.Order, view.Timeline))
}

func (s *server) confirmPayment(c *gin.Context) {
	order, err := s.Orders.ConfirmPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "payment confirmed", newOrderResponse(order, nil))
}

func (s *server) transitionItem(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errMalformedBody)
		return
	}

	actor := fulfillment.Actor{VendorID: strings.TrimSpace(req.VendorID)}
	if strings.EqualFold(c.GetHeader(HeaderActorRole), "admin") {
		actor.System = true
	} else if actor.VendorID == "" {
		s.fail(c, domain.ErrVendorRequired)
		return
	}

	result, err := s.Orders.Transition(c.Request.Context(), c.Param("id"), domain.OrderStatus(req.Status), actor)
	if err != nil {
		s.fail(c, err)
		return
	}

	message := "status updated"
	switch {
	case !result.Changed:
		message = "status unchanged"
	case len(result.Warnings) > 0:
		message = "status updated with warnings"
	}
	ok(c, http.StatusOK, message, transitionResponse{
		ItemID:           result.Item.ID,
		OrderID:          result.Item.OrderID,
		TransitionResult: result,
	})
}

func (s *server) payoutHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, envelope{Success: false, Message: "limit must be a non-negative integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	payouts, err := s.Payouts.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", newPayoutResponses(payouts))
}

// refundSweep и refundOrder не прерываются вместе с запросом: брошенный клиентом
// sweep иначе оставил бы часть заказов без возврата и claim до истечения аренды.
func (s *server) refundSweep(c *gin.Context) {
	report, err := s.Refunds.Sweep(context.WithoutCancel(c.Request.Context()), s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "refund sweep completed", report)
}

func (s *server) refundOrder(c *gin.Context) {
	var req refundRequest
	// Тело необязательно: без него используется причина по умолчанию.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errMalformedBody)
			return
		}
	}

	outcome, err := s.Refunds.RefundOrder(context.WithoutCancel(c.Request.Context()), c.Param("id"), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "order refunded", outcome)
}
