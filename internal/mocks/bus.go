package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messenger-service/internal/bus"
)

type BusMock struct {
	mock.Mock
}

func (m *BusMock) Publish(ctx context.Context, channel, eventType string, payload any) error {
	args := m.Called(ctx, channel, eventType, payload)
	return args.Error(0)
}

func (m *BusMock) Subscribe(channel string) (*bus.Subscription, error) {
	args := m.Called(channel)
	var sub *bus.Subscription
	if val := args.Get(0); val != nil {
		sub = val.(*bus.Subscription)
	}
	return sub, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ bus.Bus = (*BusMock)(nil)
var _ bus.Publisher = (*PublisherMock)(nil)
