package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/alert-engine/internal/domain"
)

const defaultGatewayTimeout = 10 * time.Second

type gatewayRequest struct {
	To       string `json:"to"`
	Channel  string `json:"channel"`
	Severity string `json:"severity"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
	AlertID  string `json:"alertId"`
}

// GatewaySender posts alert payloads to an HTTP delivery gateway. The same
// sender backs all three channels; the address resolution per channel differs.
type GatewaySender struct {
	client   *resty.Client
	endpoint string
	channel  domain.Channel
}

// NewEmailGateway builds a sender that addresses recipients by email.
func NewEmailGateway(endpoint string) (*GatewaySender, error) {
	return newGatewaySender(endpoint, domain.ChannelEmail, nil)
}

// NewSMSGateway builds a sender that addresses recipients by phone number.
func NewSMSGateway(endpoint string) (*GatewaySender, error) {
	return newGatewaySender(endpoint, domain.ChannelSMS, nil)
}

// NewPushGateway builds a sender that addresses recipients by subscriber id;
// device routing is the gateway's concern.
func NewPushGateway(endpoint string) (*GatewaySender, error) {
	return newGatewaySender(endpoint, domain.ChannelPush, nil)
}

// NewGatewaySenderWithClient is the injectable constructor used by tests.
func NewGatewaySenderWithClient(endpoint string, ch domain.Channel, client *resty.Client) (*GatewaySender, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	return newGatewaySender(endpoint, ch, client)
}

func newGatewaySender(endpoint string, ch domain.Channel, client *resty.Client) (*GatewaySender, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint: %w", err)
	}
	if !ch.IsValid() {
		return nil, fmt.Errorf("invalid channel %q", ch)
	}

	if client == nil {
		client = resty.New()
		client.SetTimeout(defaultGatewayTimeout)
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &GatewaySender{
		client:   client,
		endpoint: trimmedEndpoint,
		channel:  ch,
	}, nil
}

func (s *GatewaySender) Channel() domain.Channel {
	if s == nil {
		return ""
	}
	return s.channel
}

func (s *GatewaySender) Send(ctx context.Context, recipient domain.Recipient, payload Payload) Outcome {
	if s == nil || s.client == nil {
		return Outcome{Err: fmt.Errorf("gateway sender is not initialized")}
	}

	to, err := s.address(recipient)
	if err != nil {
		return Outcome{Err: err}
	}

	reqBody := gatewayRequest{
		To:       to,
		Channel:  strings.ToLower(s.channel.String()),
		Severity: payload.Severity.String(),
		Body:     payload.Message,
		AlertID:  payload.AlertID,
	}
	if s.channel == domain.ChannelEmail {
		reqBody.Subject = payload.Title
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(s.endpoint)
	if err != nil {
		return Outcome{Err: &GatewayError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}}
	}
	if response == nil {
		return Outcome{Err: &GatewayError{
			Message:   "gateway returned empty response",
			Transient: true,
		}}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return Outcome{
			Success:    true,
			MessageRef: messageRef(response),
		}
	}

	return Outcome{Err: &GatewayError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}}
}

// address resolves the per-channel contact address. SMS without a phone is the
// deterministic no-contact failure; no transport call is made.
func (s *GatewaySender) address(recipient domain.Recipient) (string, error) {
	switch s.channel {
	case domain.ChannelEmail:
		email := strings.TrimSpace(recipient.Email)
		if email == "" {
			return "", ErrNoContactChannel
		}
		return email, nil
	case domain.ChannelSMS:
		if !recipient.HasPhone() {
			return "", ErrNoContactChannel
		}
		return strings.TrimSpace(*recipient.Phone), nil
	case domain.ChannelPush:
		if strings.TrimSpace(recipient.ID) == "" {
			return "", ErrNoContactChannel
		}
		return recipient.ID, nil
	default:
		return "", fmt.Errorf("unsupported channel %q", s.channel)
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func messageRef(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
