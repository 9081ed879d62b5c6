// Package telegram posts announcements to a Telegram chat (optionally a forum
// topic) through the Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"prayercall/internal/transport"
	logx "prayercall/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// ParseMode is passed through to Telegram ("HTML", "MarkdownV2" or empty).
	ParseMode      string
	DisablePreview bool
	// Silent sends without a notification sound.
	Silent bool
	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Offline skips the getMe call at startup.
	Offline bool
	Timeout time.Duration
}

type Sender struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: cfg.Offline,
		Poller:  &tele.LongPoller{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, bot: b, log: log.With(logx.String("comp", "telegram"))}, nil
}

func (s *Sender) Name() string { return "telegram" }

func (s *Sender) Send(ctx context.Context, a transport.Announcement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(s.cfg.ParseMode),
		DisableWebPagePreview: s.cfg.DisablePreview,
		DisableNotification:   s.cfg.Silent,
		ThreadID:              s.cfg.ThreadID,
	}

	// telebot has no context-aware send; bound the call from the outside.
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, a.Text, opt)
		done <- result{msg: msg, err: err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		if r.msg != nil {
			s.log.Debug("announcement posted", logx.String("key", a.Key), logx.Int("message_id", r.msg.ID))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) Close() error { return nil }
