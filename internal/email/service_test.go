package email

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository/memory"
)

type captureDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *captureDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestSMTPService_SendCustom(t *testing.T) {
	d := &captureDialer{}
	svc := &SMTPService{from: "noreply@peoli.app", dialer: d}

	require.NoError(t, svc.SendCustom(context.Background(), "aluno@example.com", "Acabou a moleza!", "hora da série"))
	require.Len(t, d.sent, 1)

	assert.Equal(t, []string{"aluno@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"noreply@peoli.app"}, d.sent[0].GetHeader("From"))

	var buf bytes.Buffer
	_, err := d.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "text/plain")
}

func TestSMTPService_PropagatesDialError(t *testing.T) {
	svc := &SMTPService{from: "a@b", dialer: &captureDialer{err: errors.New("refused")}}
	assert.Error(t, svc.SendCustom(context.Background(), "x@y", "s", "c"))
}

func TestFallbackNotifier(t *testing.T) {
	store := memory.NewStore()
	store.PutUser(&model.User{ID: 7, Name: "Ana", Email: "ana@example.com"})

	d := &captureDialer{}
	notifier := NewFallbackNotifier(store.Repositories().Users, &SMTPService{from: "noreply@peoli.app", dialer: d})

	addr, err := notifier.Notify(context.Background(), &model.ScheduledNotification{
		UserID:  7,
		Payload: model.Payload{Title: "t", Body: "b", Data: model.JSONMap{"url": "/treinos/3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", addr)
	require.Len(t, d.sent, 1)

	_, err = notifier.Notify(context.Background(), &model.ScheduledNotification{UserID: 99})
	assert.Error(t, err)
}
