package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
	"github.com/kursadbilgin/investor-mailer/internal/service"
)

const (
	defaultPage         = 1
	defaultPageSize     = 50
	maxPageSize         = 100
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type ScheduleService interface {
	ScheduleSend(ctx context.Context, req service.ScheduleRequest) (*domain.ScheduledSend, error)
	GetByID(ctx context.Context, id string) (*domain.ScheduledSend, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.ScheduledSend, int64, error)
	Cancel(ctx context.Context, id string) (*domain.ScheduledSend, error)
}

// SentMailReader lists the sent-mail log.
type SentMailReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.SentHistoryEntry, error)
}

type ScheduledSendHandler struct {
	service ScheduleService
	history SentMailReader
}

func NewScheduledSendHandler(service ScheduleService, history SentMailReader) (*ScheduledSendHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("schedule service is required")
	}
	if history == nil {
		return nil, fmt.Errorf("sent mail reader is required")
	}
	return &ScheduledSendHandler{service: service, history: history}, nil
}

func RegisterScheduledSendRoutes(router fiber.Router, service ScheduleService, history SentMailReader) error {
	h, err := NewScheduledSendHandler(service, history)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/scheduled-sends", h.CreateScheduledSend)
	v1.Get("/scheduled-sends/:id", h.GetScheduledSend)
	v1.Post("/scheduled-sends/:id/cancel", h.CancelScheduledSend)
	v1.Get("/scheduled-sends", h.ListScheduledSends)
	v1.Get("/sent-mails", h.ListSentMails)

	return nil
}

type createScheduledSendRequest struct {
	RecipientID     int64          `json:"recipientId"`
	TemplateID      *int64         `json:"templateId,omitempty"`
	SubjectTemplate string         `json:"subject"`
	BodyTemplate    string         `json:"body"`
	Context         map[string]any `json:"context,omitempty"`
	DueAt           string         `json:"dueAt"`
}

type scheduledSendResponse struct {
	ID             string    `json:"id"`
	RecipientID    int64     `json:"recipientId"`
	TemplateID     *int64    `json:"templateId,omitempty"`
	RecipientEmail string    `json:"recipientEmail"`
	RecipientName  string    `json:"recipientName"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	DueAt          time.Time `json:"dueAt"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type listScheduledSendsResponse struct {
	Data []scheduledSendResponse `json:"data"`
	Meta listMeta                `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type sentMailResponse struct {
	ID              int64     `json:"id"`
	RecipientID     int64     `json:"recipientId"`
	TemplateID      *int64    `json:"templateId,omitempty"`
	ScheduledSendID *string   `json:"scheduledSendId,omitempty"`
	Subject         string    `json:"subject"`
	Status          string    `json:"status"`
	ErrorMessage    *string   `json:"errorMessage,omitempty"`
	SentAt          time.Time `json:"sentAt"`
}

func (h *ScheduledSendHandler) CreateScheduledSend(c *fiber.Ctx) error {
	var req createScheduledSendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	dueAt, err := parseRFC3339(req.DueAt, "dueAt")
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.ScheduleSend(c.UserContext(), service.ScheduleRequest{
		RecipientID:     req.RecipientID,
		TemplateID:      req.TemplateID,
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
		Context:         req.Context,
		DueAt:           dueAt,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toScheduledSendResponse(created))
}

func (h *ScheduledSendHandler) GetScheduledSend(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	send, err := h.service.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toScheduledSendResponse(send))
}

func (h *ScheduledSendHandler) CancelScheduledSend(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	send, err := h.service.Cancel(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toScheduledSendResponse(send))
}

func (h *ScheduledSendHandler) ListScheduledSends(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	sends, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]scheduledSendResponse, 0, len(sends))
	for i := range sends {
		data = append(data, toScheduledSendResponse(&sends[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listScheduledSendsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *ScheduledSendHandler) ListSentMails(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		return toHTTPError(fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxHistoryLimit))
	}

	entries, err := h.history.ListRecent(c.UserContext(), limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]sentMailResponse, 0, len(entries))
	for _, e := range entries {
		data = append(data, sentMailResponse{
			ID:              e.ID,
			RecipientID:     e.RecipientID,
			TemplateID:      e.TemplateID,
			ScheduledSendID: e.ScheduledSendID,
			Subject:         e.Subject,
			Status:          e.Status.String(),
			ErrorMessage:    e.ErrorMessage,
			SentAt:          e.SentAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawRecipient := strings.TrimSpace(c.Query("recipientId")); rawRecipient != "" {
		recipientID, err := strconv.ParseInt(rawRecipient, 10, 64)
		if err != nil || recipientID <= 0 {
			return repository.ListParams{}, fmt.Errorf("%w: recipientId must be a positive integer", domain.ErrValidation)
		}
		params.RecipientID = &recipientID
	}

	return params, nil
}

func parseRFC3339(value string, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return t, nil
}

func toScheduledSendResponse(s *domain.ScheduledSend) scheduledSendResponse {
	if s == nil {
		return scheduledSendResponse{}
	}

	return scheduledSendResponse{
		ID:             s.ID,
		RecipientID:    s.RecipientID,
		TemplateID:     s.TemplateID,
		RecipientEmail: s.RecipientEmail,
		RecipientName:  s.RecipientName,
		Subject:        s.Subject,
		Body:           s.Body,
		DueAt:          s.DueAt,
		Status:         s.Status.String(),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	default:
		return err
	}
}
