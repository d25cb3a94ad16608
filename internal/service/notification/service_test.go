package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/wa-connector/internal/email"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/pkg/logger"
	"github.com/jwalitptl/wa-connector/pkg/worker"
)

type fakeDialer struct {
	mu   sync.Mutex
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func event(t *testing.T, n model.Notification) *model.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(n)
	require.NoError(t, err)
	return &model.OutboxEvent{EventType: model.EventNotificationEmail, Payload: payload}
}

func TestHandleSends(t *testing.T) {
	dialer := &fakeDialer{}
	svc := NewService(email.NewService(dialer, "noreply@example.com", logger.Nop()), logger.Nop())

	err := svc.Handle(context.Background(), event(t, model.Notification{
		Kind:      model.NotificationInstallCompleted,
		Recipient: "owner@example.com",
		Subject:   "Installed",
		Body:      "hello",
	}))
	require.NoError(t, err)
	require.Len(t, dialer.sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, dialer.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Installed"}, dialer.sent[0].GetHeader("Subject"))
}

func TestHandleFailures(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	svc := NewService(email.NewService(dialer, "noreply@example.com", logger.Nop()), logger.Nop())

	err := svc.Handle(context.Background(), event(t, model.Notification{Recipient: "a@example.com"}))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, worker.ErrPermanent))

	err = svc.Handle(context.Background(), &model.OutboxEvent{Payload: []byte("{")})
	assert.ErrorIs(t, err, worker.ErrPermanent)

	err = svc.Handle(context.Background(), event(t, model.Notification{}))
	assert.ErrorIs(t, err, worker.ErrPermanent)
}

func TestHandleDisabledMailer(t *testing.T) {
	svc := NewService(email.NewSMTPService(email.Config{}, logger.Nop()), logger.Nop())
	err := svc.Handle(context.Background(), event(t, model.Notification{Recipient: "a@example.com"}))
	assert.NoError(t, err)
}
