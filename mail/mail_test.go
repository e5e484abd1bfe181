package mail

import (
	"bytes"
	"context"
	"testing"

	"github.com/meikuraledutech/flow"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	msg, err := message("works@example.com", flow.Email{
		To:      "client@example.com",
		Subject: "Update on Kitchen renovation",
		Body:    "Hello",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "<works@example.com>")
	assert.Contains(t, out, "<client@example.com>")
	assert.Contains(t, out, "Subject: Update on Kitchen renovation")
}

func TestMessageRejectsBadAddress(t *testing.T) {
	_, err := message("works@example.com", flow.Email{To: "not an address"})
	assert.Error(t, err)
}

func TestNewSMTP(t *testing.T) {
	m, err := NewSMTP(Config{Host: "localhost", Port: 2525, Username: "u", Password: "p", From: "works@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "works@example.com", m.from)

	_, err = NewSMTP(Config{})
	assert.Error(t, err)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	m := NewLog(zerolog.New(&buf))
	require.NoError(t, m.Send(context.Background(), flow.Email{To: "client@example.com", Subject: "Hi"}))
	assert.Contains(t, buf.String(), `"to":"client@example.com"`)
}
