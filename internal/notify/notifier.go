package notify

import (
	"context"
	"fmt"
	"time"

	healthsvc "market_maker/internal/modules/health/service"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram sends alerts to one chat and answers /status from that chat.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	state  *healthsvc.State
	log    *zap.Logger
}

func NewTelegram(token string, chatID int64, state *healthsvc.State, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID, state: state, log: log.Named("telegram")}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("send", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

func (t *Telegram) statusText() string {
	if t.state == nil {
		return "no state"
	}
	last := "never"
	if lc := t.state.LastCycle(); !lc.IsZero() {
		last = time.Since(lc).Truncate(time.Second).String() + " ago"
	}
	text := fmt.Sprintf("ready: %v\nws: %v\nstalled: %v\ncycles: %d\nlast cycle: %s\nuptime: %s",
		t.state.Ready(), t.state.WSConnected(), t.state.Stalled(), t.state.Cycles(), last,
		t.state.Uptime().Truncate(time.Second))
	if e := t.state.LastError(); e != "" {
		text += "\nlast error: " + e
	}
	return text
}

// Start long-polls for commands until ctx is done.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		defer t.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message == nil || upd.Message.Chat == nil || upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				switch upd.Message.Command() {
				case "status":
					t.Send(t.statusText())
				}
			}
		}
	}()
}

// Log writes alerts to the logger when no Telegram chat is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log.Named("notify")} }

func (l *Log) Send(msg string)                  { l.log.Warn(msg) }
func (l *Log) Sendf(format string, args ...any) { l.log.Warn(fmt.Sprintf(format, args...)) }
