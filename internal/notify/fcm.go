package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"flowline/internal/events"
	"flowline/internal/notifystore"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// TokenFunc exchanges service-account credentials for a bearer token.
// Injectable so tests never leave the process.
type TokenFunc func(ctx context.Context, params notifystore.FCMParams) (string, error)

// FCMSender publishes a data message to a Firebase topic.
type FCMSender struct {
	baseURL string
	client  *http.Client
	token   TokenFunc
}

// NewFCMSender builds an FCM sender rooted at baseURL. A nil token
// function selects the service-account JWT exchange.
func NewFCMSender(baseURL string, timeout time.Duration, token TokenFunc) *FCMSender {
	if token == nil {
		token = serviceAccountToken
	}
	return &FCMSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		token:   token,
	}
}

func (s *FCMSender) Send(ctx context.Context, cfg notifystore.Config, event events.PipelineExecutionEvent) error {
	token, err := s.token(ctx, *cfg.FCM)
	if err != nil {
		return fmt.Errorf("fcm token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/messages:send", s.baseURL, cfg.FCM.ProjectID)
	message := map[string]any{
		"message": map[string]any{
			"topic": cfg.FCM.Topic,
			"data": map[string]string{
				"pipelineId":   strconv.FormatInt(event.PipelineID, 10),
				"pipelineName": event.PipelineName,
				"location":     event.Location(),
				"message":      executionMessage(event),
			},
		},
	}

	return postJSONAuthorized(ctx, s.client, endpoint, token, message)
}

func postJSONAuthorized(ctx context.Context, client *http.Client, endpoint, token string, payload any) error {
	return postJSONWithHeaders(ctx, client, endpoint, payload, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// serviceAccountToken performs the OAuth2 JWT grant with the config's
// service-account credentials.
func serviceAccountToken(ctx context.Context, params notifystore.FCMParams) (string, error) {
	conf := &jwt.Config{
		Email:      params.ClientEmail,
		PrivateKey: []byte(params.PrivateKey),
		Scopes:     []string{fcmScope},
		TokenURL:   google.JWTTokenURL,
	}
	token, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}
