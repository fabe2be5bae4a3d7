package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/provider"
	"github.com/kursadbilgin/investor-mailer/internal/service"
)

type MailService interface {
	Connect(ctx context.Context, cfg provider.SMTPConfig) (string, error)
	Disconnect()
	Session() (string, bool)
	SendNow(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
}

// MailHandler serves the interactive SMTP session and immediate sends.
// Host and port default to the configured SMTP server when a login omits them.
type MailHandler struct {
	service  MailService
	defaults provider.SMTPConfig
}

func NewMailHandler(service MailService, defaults provider.SMTPConfig) (*MailHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("mail service is required")
	}
	return &MailHandler{service: service, defaults: defaults}, nil
}

func RegisterMailRoutes(router fiber.Router, service MailService, defaults provider.SMTPConfig) error {
	h, err := NewMailHandler(service, defaults)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/smtp/session", h.GetSession)
	v1.Post("/smtp/session", h.Connect)
	v1.Delete("/smtp/session", h.Disconnect)
	v1.Post("/mails", h.SendNow)

	return nil
}

type connectRequest struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	AppPassword string `json:"appPassword"`
}

type sendNowRequest struct {
	RecipientID     int64          `json:"recipientId"`
	TemplateID      *int64         `json:"templateId,omitempty"`
	SubjectTemplate string         `json:"subject"`
	BodyTemplate    string         `json:"body"`
	Context         map[string]any `json:"context,omitempty"`
}

type sendNowResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
	Account string `json:"account,omitempty"`
}

func (h *MailHandler) GetSession(c *fiber.Ctx) error {
	account, ok := h.service.Session()
	if !ok {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"connected": false})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"connected": true, "account": account})
}

func (h *MailHandler) Connect(c *fiber.Ctx) error {
	var req connectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	cfg := provider.SMTPConfig{
		Host:        strings.TrimSpace(req.Host),
		Port:        req.Port,
		Username:    strings.TrimSpace(req.Username),
		AppPassword: req.AppPassword,
	}
	if cfg.Host == "" {
		cfg.Host = h.defaults.Host
	}
	if cfg.Port == 0 {
		cfg.Port = h.defaults.Port
	}

	account, err := h.service.Connect(c.UserContext(), cfg)
	if err != nil {
		if mapped := toHTTPError(err); mapped != err {
			return mapped
		}
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"connected": true, "account": account})
}

func (h *MailHandler) Disconnect(c *fiber.Ctx) error {
	h.service.Disconnect()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MailHandler) SendNow(c *fiber.Ctx) error {
	var req sendNowRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.SendNow(c.UserContext(), service.SendRequest{
		RecipientID:     req.RecipientID,
		TemplateID:      req.TemplateID,
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
		Context:         req.Context,
	})
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusOK
	if !result.Outcome.Success {
		status = fiber.StatusBadGateway
		if result.Outcome.Detail == domain.DetailUnsubscribed {
			status = fiber.StatusUnprocessableEntity
		}
	}

	return c.Status(status).JSON(sendNowResponse{
		Success: result.Outcome.Success,
		Detail:  result.Outcome.Detail,
		Account: result.Account,
	})
}
