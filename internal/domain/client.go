package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

type Client struct {
	ID              int64
	Name            string
	Email           string
	PaymentTermDays int
	IsArchived      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewClient creates a new client with required fields
func NewClient(name, email string, paymentTermDays int) *Client {
	now := time.Now()
	return &Client{
		Name:            strings.TrimSpace(name),
		Email:           strings.TrimSpace(email),
		PaymentTermDays: paymentTermDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// DueDateFor returns the due date of an invoice issued on issueDate
func (c *Client) DueDateFor(issueDate time.Time) *time.Time {
	if c.PaymentTermDays <= 0 {
		return nil
	}
	due := issueDate.AddDate(0, 0, c.PaymentTermDays)
	return &due
}

// Validate returns an error if the client is invalid
func (c *Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("client name is required")
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return errors.New("client email is invalid")
		}
	}
	if c.PaymentTermDays < 0 {
		return errors.New("payment term cannot be negative")
	}
	return nil
}
