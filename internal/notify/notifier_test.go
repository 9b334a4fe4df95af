package notify

import (
	"testing"
	"time"

	"market_maker/internal/modules/config"
	healthsvc "market_maker/internal/modules/health/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewFallsBackToLog(t *testing.T) {
	n := New(&config.Config{}, healthsvc.NewState(), zap.NewNop())
	_, ok := n.(*Log)
	assert.True(t, ok)
}

func TestLogNotifierWritesWarn(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLog(zap.New(core))

	n.Sendf("maintenance %s", "spot")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "maintenance spot", logs.All()[0].Message)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestStatusText(t *testing.T) {
	state := healthsvc.NewState()
	state.SetReady(true)
	state.TouchCycle(time.Now())
	tg := &Telegram{state: state, log: zap.NewNop()}

	text := tg.statusText()
	assert.Contains(t, text, "ready: true")
	assert.Contains(t, text, "cycles: 1")
	assert.NotContains(t, text, "last error")

	var nilTg *Telegram
	nilTg.Send("ignored")
}
