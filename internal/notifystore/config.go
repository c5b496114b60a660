package notifystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type identifies the notification channel.
type Type string

const (
	TypeWebhook Type = "WEBHOOK"
	TypeSlack   Type = "SLACK"
	TypeFCM     Type = "FCM"
)

// ErrInvalidConfig marks configs whose parameter shape does not match
// their type.
var ErrInvalidConfig = errors.New("notifystore: invalid config")

// WebhookParams configures a plain HTTP POST receiver.
type WebhookParams struct {
	URL string `json:"url"`
}

// SlackParams configures an incoming-webhook style chat post.
type SlackParams struct {
	WorkspaceID string `json:"workspaceId"`
	ChannelID   string `json:"channelId"`
	Secret      string `json:"secret"`
}

// FCMParams configures a push message to a Firebase topic.
type FCMParams struct {
	ProjectID   string `json:"projectId"`
	ClientEmail string `json:"clientEmail"`
	PrivateKey  string `json:"privateKey"`
	Topic       string `json:"topic"`
}

// Config is one notification rule. Exactly one of the parameter fields is
// set, selected by Type.
type Config struct {
	ID         int64  `json:"id"`
	PipelineID int64  `json:"pipelineId"`
	Condition  string `json:"condition"`
	Type       Type   `json:"type"`

	Webhook *WebhookParams `json:"webhook,omitempty"`
	Slack   *SlackParams   `json:"slack,omitempty"`
	FCM     *FCMParams     `json:"fcm,omitempty"`
}

// Validate checks the type/parameter pairing and required fields.
func (c Config) Validate() error {
	if c.PipelineID <= 0 {
		return fmt.Errorf("%w: pipelineId must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Condition) == "" {
		return fmt.Errorf("%w: condition must not be empty", ErrInvalidConfig)
	}
	switch c.Type {
	case TypeWebhook:
		if c.Webhook == nil || strings.TrimSpace(c.Webhook.URL) == "" {
			return fmt.Errorf("%w: webhook config requires a url", ErrInvalidConfig)
		}
		if c.Slack != nil || c.FCM != nil {
			return fmt.Errorf("%w: webhook config carries foreign parameters", ErrInvalidConfig)
		}
	case TypeSlack:
		if c.Slack == nil || c.Slack.WorkspaceID == "" || c.Slack.ChannelID == "" || c.Slack.Secret == "" {
			return fmt.Errorf("%w: slack config requires workspaceId, channelId and secret", ErrInvalidConfig)
		}
		if c.Webhook != nil || c.FCM != nil {
			return fmt.Errorf("%w: slack config carries foreign parameters", ErrInvalidConfig)
		}
	case TypeFCM:
		if c.FCM == nil || c.FCM.ProjectID == "" || c.FCM.ClientEmail == "" || c.FCM.PrivateKey == "" || c.FCM.Topic == "" {
			return fmt.Errorf("%w: fcm config requires projectId, clientEmail, privateKey and topic", ErrInvalidConfig)
		}
		if c.Webhook != nil || c.Slack != nil {
			return fmt.Errorf("%w: fcm config carries foreign parameters", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, c.Type)
	}
	return nil
}

// encodeParameter serializes the active parameter variant for storage.
func (c Config) encodeParameter() ([]byte, error) {
	var parameter any
	switch c.Type {
	case TypeWebhook:
		parameter = c.Webhook
	case TypeSlack:
		parameter = c.Slack
	case TypeFCM:
		parameter = c.FCM
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, c.Type)
	}
	encoded, err := json.Marshal(parameter)
	if err != nil {
		return nil, fmt.Errorf("encode parameter: %w", err)
	}
	return encoded, nil
}

// decodeParameter hydrates the variant selected by Type.
func (c *Config) decodeParameter(raw []byte) error {
	switch c.Type {
	case TypeWebhook:
		c.Webhook = &WebhookParams{}
		return json.Unmarshal(raw, c.Webhook)
	case TypeSlack:
		c.Slack = &SlackParams{}
		return json.Unmarshal(raw, c.Slack)
	case TypeFCM:
		c.FCM = &FCMParams{}
		return json.Unmarshal(raw, c.FCM)
	default:
		return fmt.Errorf("%w: unknown stored type %q", ErrInvalidConfig, c.Type)
	}
}
