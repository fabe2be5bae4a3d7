package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultGmailBaseURL = "https://gmail.googleapis.com"
	defaultGmailTimeout = 15 * time.Second
	gmailSendPath       = "/gmail/v1/users/me/messages/send"
)

type gmailSendRequest struct {
	Raw string `json:"raw"`
}

type gmailSendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type gmailErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var _ Capability = (*GmailCapability)(nil)

// GmailCapability sends through the Gmail API. The resty client is expected to
// carry OAuth credentials in its transport.
type GmailCapability struct {
	client   *resty.Client
	endpoint string
	account  string
	logger   *zap.Logger
}

func NewGmailCapability(client *resty.Client, baseURL string, account string, logger *zap.Logger) (*GmailCapability, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		trimmedBase = DefaultGmailBaseURL
	}
	if _, err := url.ParseRequestURI(trimmedBase); err != nil {
		return nil, fmt.Errorf("invalid gmail base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGmailTimeout)
	}
	client.SetRetryCount(0)

	return &GmailCapability{
		client:   client,
		endpoint: trimmedBase + gmailSendPath,
		account:  strings.TrimSpace(account),
		logger:   logger,
	}, nil
}

func (g *GmailCapability) Account() string {
	if g == nil {
		return ""
	}
	return g.account
}

func (g *GmailCapability) Send(ctx context.Context, to string, subject string, htmlBody string) domain.DeliveryOutcome {
	resp, err := g.send(ctx, to, subject, htmlBody)
	if err != nil {
		g.logger.Warn("gmail send failed",
			zap.String("to", to),
			zap.Bool("transient", IsTransient(err)),
			zap.Error(err),
		)
		return domain.Failed(err.Error())
	}
	return domain.Delivered(fmt.Sprintf("sent: %s", resp.MessageID))
}

func (g *GmailCapability) send(ctx context.Context, to string, subject string, htmlBody string) (*ProviderResponse, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	raw, err := BuildMIME(Message{From: g.account, To: to, Subject: subject, HTML: htmlBody})
	if err != nil {
		return nil, &ProviderError{Message: "invalid message", Cause: err}
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(gmailSendRequest{Raw: base64.URLEncoding.EncodeToString(raw)}).
		Post(g.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "gmail request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "gmail returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var sent gmailSendResponse
		_ = json.Unmarshal(response.Body(), &sent)
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  sent.ID,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    gmailErrorMessage(statusCode, response.Body()),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gmailErrorMessage(statusCode int, body []byte) string {
	base := fmt.Sprintf("gmail returned status %d", statusCode)

	var parsed gmailErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Sprintf("%s: %s", base, parsed.Error.Message)
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return fmt.Sprintf("%s: %s", base, trimmed)
	}
	return base
}
