package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestWithContextWithoutSpanIsNoop(t *testing.T) {
	log := New("info", "test")
	assert.Same(t, log, log.WithContext(context.Background()))
}

func TestWithFeatureReturnsChildLogger(t *testing.T) {
	log := New("info", "test")
	child := log.WithFeature("ai_suggestions")
	assert.NotSame(t, log, child)
}
