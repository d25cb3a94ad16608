package email

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/wa-connector/pkg/logger"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSend(t *testing.T) {
	d := &fakeDialer{}
	svc := NewService(d, "no-reply@connector.test", logger.Nop())

	require.NoError(t, svc.Send(context.Background(), "owner@acme.test", "Installed", "All set."))
	require.Len(t, d.sent, 1)

	m := d.sent[0]
	assert.Equal(t, []string{"owner@acme.test"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Installed"}, m.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "All set.")
}

func TestSendErrors(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	svc := NewService(d, "no-reply@connector.test", logger.Nop())
	assert.ErrorContains(t, svc.Send(context.Background(), "a@b.test", "s", "b"), "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewService(&fakeDialer{}, "x@y.test", logger.Nop()).Send(ctx, "a@b.test", "s", "b"), context.Canceled)
}

func TestDisabledWithoutHost(t *testing.T) {
	svc := NewSMTPService(Config{}, logger.Nop())
	assert.ErrorIs(t, svc.Send(context.Background(), "a@b.test", "s", "b"), ErrDisabled)
}
