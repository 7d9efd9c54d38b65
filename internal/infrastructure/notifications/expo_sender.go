package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
	"github.com/zatekoja/dermascan/pkg/retry"
)

// ExpoPushMessage is one message in an Expo push request
type ExpoPushMessage struct {
	To       string            `json:"to"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority"`
	Sound    string            `json:"sound,omitempty"`
}

// ExpoPushTicket is the per-message result returned by Expo
type ExpoPushTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

// ExpoPushResponse represents the API response
type ExpoPushResponse struct {
	Data   []ExpoPushTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoPushSender sends mobile push notifications via the Expo push service
type ExpoPushSender struct {
	httpClient *resty.Client
	url        string
}

// NewExpoPushSender creates a sender against url. The access token is
// optional and only needed when enhanced push security is enabled.
func NewExpoPushSender(url, accessToken string) *ExpoPushSender {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if accessToken != "" {
		client.SetAuthToken(accessToken)
	}
	return &ExpoPushSender{httpClient: client, url: url}
}

var _ providers.PushSender = (*ExpoPushSender)(nil)

// Send delivers msg to a single Expo token. A DeviceNotRegistered ticket is
// returned as a permanent error so it is not retried.
func (s *ExpoPushSender) Send(ctx context.Context, token string, msg entities.PushMessage) error {
	priority := "default"
	if msg.Priority == entities.PriorityHigh {
		priority = "high"
	}

	var response ExpoPushResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody([]ExpoPushMessage{{
			To:       token,
			Title:    msg.Title,
			Body:     msg.Body,
			Data:     msg.Data,
			Priority: priority,
			Sound:    "default",
		}}).
		SetResult(&response).
		SetError(&response).
		Post(s.url)
	if err != nil {
		return apperrors.NewUpstreamError("failed to send push request", err)
	}

	if resp.IsError() {
		detail := resp.Status()
		if len(response.Errors) > 0 {
			detail = response.Errors[0].Message
		}
		upstream := apperrors.NewUpstreamError(fmt.Sprintf("expo push error (status %d): %s", resp.StatusCode(), detail), nil)
		if resp.StatusCode() < 500 && resp.StatusCode() != 429 {
			return retry.Permanent(upstream)
		}
		return upstream
	}

	if len(response.Data) == 0 {
		return apperrors.NewUpstreamError("no push ticket in response", nil)
	}
	ticket := response.Data[0]
	if ticket.Status != "ok" {
		upstream := apperrors.NewUpstreamError(fmt.Sprintf("expo push rejected: %s", ticket.Message), nil)
		if ticket.Details.Error == "DeviceNotRegistered" {
			return retry.Permanent(upstream)
		}
		return upstream
	}
	return nil
}
