package notify

import (
	"bytes"
	"errors"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPSender(t *testing.T) {
	t.Run("config required", func(t *testing.T) {
		_, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
		require.Error(t, err)
	})

	t.Run("message headers", func(t *testing.T) {
		s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, FromEmail: "noreply@example.com", FromName: "Gopherauth"})
		require.NoError(t, err)

		var buf bytes.Buffer
		_, err = s.message(Message{To: "a@x.com", Subject: "Hello", HTML: "<p>hi</p>"}).WriteTo(&buf)
		require.NoError(t, err)

		raw := buf.String()
		assert.Contains(t, raw, `From: "Gopherauth" <noreply@example.com>`)
		assert.Contains(t, raw, "To: a@x.com")
		assert.Contains(t, raw, "Subject: Hello")
		assert.Contains(t, raw, "Content-Type: text/html")
		assert.Contains(t, raw, "<p>hi</p>")
	})

	t.Run("reply codes", func(t *testing.T) {
		assert.NoError(t, smtpError(nil))
		assert.True(t, isTemporary(smtpError(&textproto.Error{Code: 421, Msg: "busy"})))
		assert.False(t, isTemporary(smtpError(&textproto.Error{Code: 550, Msg: "no such user"})))
		assert.True(t, isTemporary(smtpError(errors.New("connection reset"))))
	})
}
