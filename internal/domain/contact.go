package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const DefaultCategory = "GENEL"

// Contact is the CRM record a scheduled send points at.
type Contact struct {
	ID        int64
	Name      string
	Email     string
	Company   string
	Category  string
	IsActive  bool
	CreatedAt time.Time
}

func (c *Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := ValidateEmail(c.Email); err != nil {
		return err
	}
	return nil
}

// TemplateContext returns the renderer variables describing the contact.
func (c *Contact) TemplateContext() map[string]string {
	category := c.Category
	if category == "" {
		category = DefaultCategory
	}
	return map[string]string{
		"name":     c.Name,
		"email":    c.Email,
		"company":  c.Company,
		"category": category,
	}
}

func ValidateEmail(address string) error {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed || !strings.Contains(trimmed[strings.LastIndex(trimmed, "@")+1:], ".") {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, address)
	}
	return nil
}
