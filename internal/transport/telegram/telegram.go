// Package telegram delivers notifications through the Telegram Bot API.
// There is no poller and no command handling, only outbound sends.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "prijswacht/pkg/logx"
	"prijswacht/pkg/tgui"

	"prijswacht/internal/transport"
)

type Config struct {
	Token       string
	SendTimeout time.Duration
}

// Sender is a send-only Telegram adapter.
type Sender struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

// New validates the token against the Bot API and returns a ready sender.
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	log.Debug("telegram sender ready", logx.String("bot", b.Me.Username))
	return &Sender{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sender) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: to.ChatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

func (s *Sender) SendPhoto(ctx context.Context, to transport.ChatTarget, photo transport.Photo) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	p := &tele.Photo{
		File:    tele.FromURL(photo.URL),
		Caption: tgui.TruncRunes(photo.Caption, tgui.MaxCaptionLen),
	}
	opt := &tele.SendOptions{}
	if photo.ActionURL != "" {
		label := photo.ActionLabel
		if label == "" {
			label = photo.ActionURL
		}
		opt.ReplyMarkup = tgui.NewInline().Row(tgui.URLBtn(label, photo.ActionURL)).Markup()
	}
	_, err := s.bot.Send(&tele.Chat{ID: to.ChatID}, p, opt)
	return err
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}
