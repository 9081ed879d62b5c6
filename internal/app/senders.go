package app

import (
	"context"
	"errors"

	"prayercall/internal/config"
	"prayercall/internal/transport"
	"prayercall/internal/transport/mqtt"
	"prayercall/internal/transport/telegram"
	logx "prayercall/pkg/logx"
)

// logSender writes every announcement to the service log, so a config without
// any channel still shows what would have been announced.
func logSender(log logx.Logger) transport.Sender {
	return transport.Func{ID: "log", Fn: func(_ context.Context, a transport.Announcement) error {
		log.Info("announcement",
			logx.String("key", a.Key),
			logx.String("kind", a.Kind),
			logx.String("prayer", a.Prayer),
			logx.Time("at", a.At),
			logx.String("text", a.Text),
		)
		return nil
	}}
}

// buildSenders connects every enabled channel. On error the channels opened
// so far are closed.
func buildSenders(cfg *config.Config, log logx.Logger, extra []transport.Sender) ([]transport.Sender, error) {
	out := []transport.Sender{logSender(log.With(logx.String("comp", "announce")))}
	out = append(out, extra...)

	fail := func(err error) ([]transport.Sender, error) {
		closeSenders(out[1+len(extra):])
		return nil, err
	}
	if tc, ok := mapTelegramConfig(cfg); ok {
		s, err := telegram.New(tc, log)
		if err != nil {
			return fail(err)
		}
		out = append(out, s)
	}
	mc, ok, err := mapMQTTConfig(cfg)
	if err != nil {
		return fail(err)
	}
	if ok {
		p, err := mqtt.Connect(mc, log)
		if err != nil {
			return fail(err)
		}
		out = append(out, p)
	}
	return out, nil
}

func closeSenders(senders []transport.Sender) error {
	var errs []error
	for _, s := range senders {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
