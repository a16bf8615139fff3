package core_test

import (
	"fmt"
	"net/mail"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrolla/core"
	appfs "github.com/trezcool/enrolla/fs"
)

// errLogger records the messages logged at error level or above.
type errLogger struct{ errs []string }

func (l *errLogger) Debug(string, ...interface{}) {}
func (l *errLogger) Info(string, ...interface{})  {}
func (l *errLogger) Warn(string, ...interface{})  {}
func (l *errLogger) Error(msg string, args ...interface{}) {
	l.errs = append(l.errs, fmt.Sprint(append([]interface{}{msg}, args...)...))
}
func (l *errLogger) Fatal(msg string, args ...interface{}) { l.Error(msg, args...) }

func TestParseEmailTemplates(t *testing.T) {
	conf := core.NewTestConfig()
	logger := new(errLogger)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)
	require.Empty(t, logger.errs)

	to := mail.Address{Name: "Hero", Address: "hero@test.test"}

	t.Run("templated message", func(t *testing.T) {
		msg := core.NewEmailMessage(to, "Welcome!", "welcome", map[string]interface{}{"Name": "Hero"})
		require.NoError(t, msg.Render())
		assert.Contains(t, msg.TextContent, "Hi Hero,")
		assert.Contains(t, msg.TextContent, conf.FrontendBaseURL)
		assert.Contains(t, msg.HTMLContent, "Hero")
		assert.True(t, msg.HasContent())
	})

	t.Run("unknown template", func(t *testing.T) {
		msg := core.NewEmailMessage(to, "Lol", "lol", nil)
		err := msg.Render()
		assert.Equal(t, core.ErrTemplateNotFound, errors.Cause(err))
		assert.False(t, msg.HasContent())
	})

	t.Run("plain body", func(t *testing.T) {
		msg := &core.EmailMessage{To: []mail.Address{to}, Subject: "Hi", BodyStr: "plain"}
		require.NoError(t, msg.Render())
		assert.Equal(t, "plain", msg.TextContent)
	})
}
