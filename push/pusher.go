package push

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// A single MulticastMessage may contain up to 500 registration tokens.
const maxMulticastTokens = 500

type Pusher interface {
	SendPushes(ctx context.Context, owners []string, title, body string, data map[string]string) error
	SendSilentPushes(ctx context.Context, owners []string, data map[string]string) error
}

type NoOpPusher struct{}

func (n *NoOpPusher) SendPushes(_ context.Context, _ []string, _, _ string, _ map[string]string) error {
	return nil
}

func (n *NoOpPusher) SendSilentPushes(_ context.Context, _ []string, _ map[string]string) error {
	return nil
}

type FCMPusher struct {
	log    *zap.Logger
	tokens TokenStore
	client FCMClient
}

type FCMClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

func NewFCMPusher(log *zap.Logger, tokens TokenStore, client FCMClient) *FCMPusher {
	return &FCMPusher{
		log:    log,
		tokens: tokens,
		client: client,
	}
}

func (p *FCMPusher) SendPushes(ctx context.Context, owners []string, title, body string, data map[string]string) error {
	return p.sendMessage(ctx, owners, title, body, data, false)
}

func (p *FCMPusher) SendSilentPushes(ctx context.Context, owners []string, data map[string]string) error {
	return p.sendMessage(ctx, owners, "", "", data, true)
}

func (p *FCMPusher) sendMessage(ctx context.Context, owners []string, title, body string, data map[string]string, silent bool) error {
	pushTokens, err := p.tokens.GetTokensBatch(ctx, owners...)
	if err != nil {
		return err
	}

	if len(pushTokens) > maxMulticastTokens {
		p.log.Warn("Dropping push, too many tokens", zap.Int("num_tokens", len(pushTokens)))
		return nil
	}

	if len(pushTokens) == 0 {
		p.log.Debug("Dropping push, no tokens for owners", zap.Int("num_owners", len(owners)))
		return nil
	}

	tokens := extractTokens(pushTokens)
	message := buildMessage(tokens, title, body, data, silent)

	response, err := p.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return err
	}

	p.log.Debug("Sent pushes", zap.Int("success", response.SuccessCount), zap.Int("failed", response.FailureCount))
	p.processResponse(ctx, response, pushTokens)

	return nil
}

func buildMessage(tokens []string, title, body string, data map[string]string, silent bool) *messaging.MulticastMessage {
	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ThreadID: data["sku"],
				},
			},
		},
	}

	if silent {
		message.APNS.Payload.Aps.ContentAvailable = true
		return message
	}

	message.Notification = &messaging.Notification{
		Title: title,
		Body:  body,
	}
	message.APNS.Payload.Aps.Alert = &messaging.ApsAlert{
		Title: title,
		Body:  body,
	}
	return message
}

// processResponse removes the tokens FCM reports as unregistered.
func (p *FCMPusher) processResponse(ctx context.Context, response *messaging.BatchResponse, pushTokens []Token) {
	var removed int
	for i, resp := range response.Responses {
		if resp == nil || resp.Success {
			continue
		}

		if !messaging.IsUnregistered(resp.Error) {
			p.log.Warn("Failed to send push notification",
				zap.Error(resp.Error),
				zap.String("token", pushTokens[i].Token),
			)
			continue
		}

		if err := p.tokens.DeleteToken(ctx, pushTokens[i].Type, pushTokens[i].Token); err != nil {
			p.log.Warn("Failed to remove invalid token", zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		p.log.Debug("Removed invalid tokens", zap.Int("count", removed))
	}
}

func extractTokens(pushTokens []Token) []string {
	tokens := make([]string, len(pushTokens))
	for i, token := range pushTokens {
		tokens[i] = token.Token
	}
	return tokens
}
