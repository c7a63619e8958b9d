package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/truthguard-chat/internal/chat"
	"github.com/ashureev/truthguard-chat/internal/fallback"
)

func offlineSession() *chat.Session {
	seq := chat.NewSequencer(fallback.NewResponder(false), nil, chat.WithMaxMessageLength(10))
	return seq.NewSession("cli:test")
}

func TestHandleLineDelivers(t *testing.T) {
	sess := offlineSession()
	var out bytes.Buffer

	quit := handleLine(context.Background(), sess, "fact check", &out)
	require.False(t, quit)

	assert.Equal(t, 2, sess.Len())
	assert.Contains(t, out.String(), "TruthGuard AI (")
	assert.Contains(t, out.String(), "[fallback]")
	assert.Contains(t, out.String(), "Fake News Detection Guide:")
	assert.NotContains(t, out.String(), "<strong>")
}

func TestHandleLineCommands(t *testing.T) {
	sess := offlineSession()
	ctx := context.Background()
	var out bytes.Buffer

	handleLine(ctx, sess, "/regen", &out)
	assert.Contains(t, out.String(), "nothing to regenerate")

	handleLine(ctx, sess, "hello", &out)
	out.Reset()
	handleLine(ctx, sess, "/copy", &out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "You ("))

	handleLine(ctx, sess, "/regen", &out)
	assert.Equal(t, 3, sess.Len())

	handleLine(ctx, sess, "/clear", &out)
	assert.Zero(t, sess.Len())

	out.Reset()
	handleLine(ctx, sess, "this is far too long", &out)
	assert.Contains(t, out.String(), "message too long")

	assert.True(t, handleLine(ctx, sess, "/quit", &out))
	assert.False(t, handleLine(ctx, sess, "   ", &out))
}
