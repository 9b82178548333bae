package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/meridian-labs/cerberus/ports"
)

// LoginEvent is published after a successful authentication
type LoginEvent struct {
	Address   string `json:"address"`
	SessionID string `json:"session_id"`
}

// LogoutEvent is published when a refresh token is invalidated
type LogoutEvent struct {
	Address string `json:"address"`
	TokenID string `json:"token_id"`
}

// SweepEvent reports one sweeper pass
type SweepEvent struct {
	AccountsDeleted  int `json:"accounts_deleted"`
	ChallengesPurged int `json:"challenges_purged"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, address string, sessionID string) error {
	return p.publish("cerberus.login", sessionID, LoginEvent{Address: address, SessionID: sessionID})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, tokenID string) error {
	return p.publish("cerberus.logout", tokenID, LogoutEvent{Address: address, TokenID: tokenID})
}

// PublishSweep publishes a sweep report event
func (p *WatermillPublisher) PublishSweep(ctx context.Context, accountsDeleted, challengesPurged int) error {
	return p.publish("cerberus.sweep", uuid.New().String(), SweepEvent{
		AccountsDeleted:  accountsDeleted,
		ChallengesPurged: challengesPurged,
	})
}

func (p *WatermillPublisher) publish(topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
