package logging

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"INFO":     zerolog.InfoLevel,
		" debug ":  zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"verbose":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), " abc ")
	assert.Equal(t, "abc", id)
	assert.Equal(t, "abc", RequestID(ctx))

	_, generated := WithRequestID(context.Background(), "")
	assert.Len(t, generated, 36)

	assert.Empty(t, RequestID(context.Background()))
}

func TestSelectWriterAuto(t *testing.T) {
	orig := isTerminalFn
	t.Cleanup(func() { isTerminalFn = orig })

	isTerminalFn = func(int) bool { return true }
	_, console := selectWriter("auto", nil).(zerolog.ConsoleWriter)
	assert.True(t, console)

	isTerminalFn = func(int) bool { return false }
	_, console = selectWriter("auto", nil).(zerolog.ConsoleWriter)
	assert.False(t, console)
}
