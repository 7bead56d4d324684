package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alert-engine/internal/dispatch"
	"github.com/kursadbilgin/alert-engine/internal/domain"
	"github.com/kursadbilgin/alert-engine/internal/ratelimit"
	"github.com/kursadbilgin/alert-engine/internal/service"
)

const actorHeader = "X-Actor-ID"

type AlertService interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest, actorID *string) (*service.DispatchResult, error)
	RetryFailedDeliveries(ctx context.Context, alertID string) (dispatch.BatchResult, error)
	GetDeliveryStats(ctx context.Context, alertID string) (*service.DeliveryStats, error)
}

type AlertHandler struct {
	service AlertService
	limiter ratelimit.RateLimiter
}

func NewAlertHandler(service AlertService, limiter ratelimit.RateLimiter) (*AlertHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("alert service is required")
	}
	return &AlertHandler{service: service, limiter: limiter}, nil
}

func RegisterAlertRoutes(router fiber.Router, service AlertService, limiter ratelimit.RateLimiter) error {
	h, err := NewAlertHandler(service, limiter)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/alerts", h.DispatchAlert)
	v1.Get("/alerts/:id/stats", h.GetAlertStats)
	v1.Post("/alerts/:id/retry", h.RetryAlert)

	return nil
}

type dispatchAlertRequest struct {
	Type          string   `json:"type"`
	Severity      string   `json:"severity"`
	Title         string   `json:"title"`
	Message       string   `json:"message"`
	Regions       []string `json:"regions"`
	ExpiresAt     *string  `json:"expiresAt,omitempty"`
	EmergencyOnly bool     `json:"emergencyOnly,omitempty"`
}

type channelStatsItem struct {
	Channel string `json:"channel"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

type dispatchAlertResponse struct {
	ID             string             `json:"id"`
	Type           string             `json:"type"`
	Severity       string             `json:"severity"`
	Status         string             `json:"status"`
	Regions        []string           `json:"regions"`
	RecipientCount int                `json:"recipientCount"`
	DeliveredCount int                `json:"deliveredCount"`
	FailedCount    int                `json:"failedCount"`
	ByChannel      []channelStatsItem `json:"byChannel"`
	CreatedAt      time.Time          `json:"createdAt"`
}

type retryAlertResponse struct {
	AlertID      string             `json:"alertId"`
	Retried      int                `json:"retried"`
	NewSuccesses int                `json:"newSuccesses"`
	StillFailed  int                `json:"stillFailed"`
	ByChannel    []channelStatsItem `json:"byChannel"`
}

type channelBreakdownItem struct {
	Channel string `json:"channel"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Pending int    `json:"pending"`
}

type alertStatsResponse struct {
	AlertID   string                 `json:"alertId"`
	Total     int                    `json:"total"`
	Delivered int                    `json:"delivered"`
	Failed    int                    `json:"failed"`
	Pending   int                    `json:"pending"`
	ByChannel []channelBreakdownItem `json:"byChannel"`
}

func (h *AlertHandler) DispatchAlert(c *fiber.Ctx) error {
	if err := h.allow(c); err != nil {
		return err
	}

	var req dispatchAlertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	dispatchReq, err := requestToDispatchRequest(req)
	if err != nil {
		return toHTTPError(err)
	}

	out, err := h.service.Dispatch(c.UserContext(), dispatchReq, requestActorID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toDispatchResponse(out))
}

func (h *AlertHandler) RetryAlert(c *fiber.Ctx) error {
	if err := h.allow(c); err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	result, err := h.service.RetryFailedDeliveries(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(retryAlertResponse{
		AlertID:      id,
		Retried:      result.TotalRecipients,
		NewSuccesses: result.SuccessCount,
		StillFailed:  result.FailureCount,
		ByChannel:    toChannelStatsItems(result.ByChannel),
	})
}

func (h *AlertHandler) GetAlertStats(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	stats, err := h.service.GetDeliveryStats(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]channelBreakdownItem, 0, len(stats.ByChannel))
	for _, ch := range domain.AllChannels() {
		breakdown, ok := stats.ByChannel[ch]
		if !ok {
			continue
		}
		items = append(items, channelBreakdownItem{
			Channel: strings.ToLower(ch.String()),
			Sent:    breakdown.Sent,
			Failed:  breakdown.Failed,
			Pending: breakdown.Pending,
		})
	}

	return c.Status(fiber.StatusOK).JSON(alertStatsResponse{
		AlertID:   id,
		Total:     stats.Total,
		Delivered: stats.Delivered,
		Failed:    stats.Failed,
		Pending:   stats.Pending,
		ByChannel: items,
	})
}

// allow enforces the per-actor dispatch rate limit. Anonymous callers share
// one bucket.
func (h *AlertHandler) allow(c *fiber.Ctx) error {
	if h.limiter == nil {
		return nil
	}

	actor := "anonymous"
	if id := requestActorID(c); id != nil {
		actor = *id
	}

	allowed, err := h.limiter.Allow(c.UserContext(), "dispatch:"+actor)
	if err != nil {
		return err
	}
	if !allowed {
		return fiber.NewError(fiber.StatusTooManyRequests, "dispatch rate limit exceeded")
	}
	return nil
}

func requestToDispatchRequest(req dispatchAlertRequest) (domain.DispatchRequest, error) {
	alertType, err := domain.ParseAlertTypeFromString(req.Type)
	if err != nil {
		return domain.DispatchRequest{}, err
	}

	severity, err := domain.ParseSeverityFromString(req.Severity)
	if err != nil {
		return domain.DispatchRequest{}, err
	}

	regions := make([]domain.Region, 0, len(req.Regions))
	for _, raw := range req.Regions {
		region, err := domain.ParseRegionFromString(raw)
		if err != nil {
			return domain.DispatchRequest{}, err
		}
		regions = append(regions, region)
	}

	out := domain.DispatchRequest{
		Type:          alertType,
		Severity:      severity,
		Title:         strings.TrimSpace(req.Title),
		Message:       strings.TrimSpace(req.Message),
		Regions:       regions,
		EmergencyOnly: req.EmergencyOnly,
	}

	if req.ExpiresAt != nil && strings.TrimSpace(*req.ExpiresAt) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ExpiresAt))
		if err != nil {
			return domain.DispatchRequest{}, fmt.Errorf("%w: expiresAt must be RFC3339", domain.ErrValidation)
		}
		out.ExpiresAt = &t
	}

	return out, nil
}

func requestActorID(c *fiber.Ctx) *string {
	actor := strings.TrimSpace(c.Get(actorHeader))
	if actor == "" {
		return nil
	}
	return &actor
}

func toDispatchResponse(out *service.DispatchResult) dispatchAlertResponse {
	if out == nil || out.Alert == nil {
		return dispatchAlertResponse{}
	}

	alert := out.Alert
	regions := make([]string, 0, len(alert.Regions))
	for _, region := range alert.Regions {
		regions = append(regions, string(region))
	}

	return dispatchAlertResponse{
		ID:             alert.ID,
		Type:           alert.Type.String(),
		Severity:       alert.Severity.String(),
		Status:         alert.DeliveryStatus.String(),
		Regions:        regions,
		RecipientCount: alert.RecipientCount,
		DeliveredCount: alert.DeliveredCount,
		FailedCount:    alert.FailedCount,
		ByChannel:      toChannelStatsItems(out.Result.ByChannel),
		CreatedAt:      alert.CreatedAt,
	}
}

func toChannelStatsItems(byChannel map[domain.Channel]dispatch.ChannelStats) []channelStatsItem {
	items := make([]channelStatsItem, 0, len(byChannel))
	for _, ch := range domain.AllChannels() {
		stats, ok := byChannel[ch]
		if !ok {
			continue
		}
		items = append(items, channelStatsItem{
			Channel: strings.ToLower(ch.String()),
			Sent:    stats.Sent,
			Failed:  stats.Failed,
		})
	}
	return items
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDispatchAborted):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
