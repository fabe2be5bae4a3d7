package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
)

type ContactHandler struct {
	contacts     repository.ContactRepository
	suppressions repository.SuppressionRepository
}

func RegisterContactRoutes(
	router fiber.Router,
	contacts repository.ContactRepository,
	suppressions repository.SuppressionRepository,
) error {
	if contacts == nil || suppressions == nil {
		return fmt.Errorf("contact and suppression repositories are required")
	}
	h := &ContactHandler{contacts: contacts, suppressions: suppressions}

	v1 := router.Group("/v1")
	v1.Post("/contacts", h.CreateContact)
	v1.Get("/contacts/:id", h.GetContact)
	v1.Post("/suppressions", h.Suppress)

	return nil
}

type createContactRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	Category string `json:"category"`
}

type contactResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Category  string    `json:"category"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

type suppressRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

func (h *ContactHandler) CreateContact(c *fiber.Ctx) error {
	var req createContactRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	contact := &domain.Contact{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Company:  strings.TrimSpace(req.Company),
		Category: strings.TrimSpace(req.Category),
		IsActive: true,
	}
	if contact.Category == "" {
		contact.Category = domain.DefaultCategory
	}
	if err := contact.Validate(); err != nil {
		return toHTTPError(err)
	}

	if err := h.contacts.Create(c.UserContext(), contact); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toContactResponse(contact))
}

func (h *ContactHandler) GetContact(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Params("id")), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "contact id must be a positive integer")
	}

	contact, err := h.contacts.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toContactResponse(contact))
}

func (h *ContactHandler) Suppress(c *fiber.Ctx) error {
	var req suppressRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := domain.ValidateEmail(req.Email); err != nil {
		return toHTTPError(err)
	}

	if err := h.suppressions.Add(c.UserContext(), req.Email, strings.TrimSpace(req.Reason)); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"email": strings.ToLower(strings.TrimSpace(req.Email)), "suppressed": true})
}

func toContactResponse(c *domain.Contact) contactResponse {
	return contactResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Company:   c.Company,
		Category:  c.Category,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
	}
}
