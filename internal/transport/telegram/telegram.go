// Package telegram delivers reminder messages over a Telegram bot.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"medicared/internal/transport"
	logx "medicared/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter wraps telebot. Outbound it sends reminder texts; inbound it only
// listens for "/start <code>" so users can link their chat to an account.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	link transport.LinkFunc

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, log logx.Logger, link transport.LinkFunc) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, link: link}, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	a.bot.Handle("/start", func(c tele.Context) error {
		code := strings.TrimSpace(c.Message().Payload)
		if code == "" {
			return c.Send("Hi! Link your account from the app to receive medication reminders here.")
		}
		if a.link == nil {
			return c.Send("Linking is not available right now.")
		}
		lctx, lcancel := context.WithTimeout(rctx, 5*time.Second)
		defer lcancel()
		if err := a.link(lctx, code, transport.ChatTarget{ChatID: c.Chat().ID}); err != nil {
			a.log.Warn("chat link failed", logx.Int64("chat_id", c.Chat().ID), logx.Err(err))
			return c.Send("That link code is invalid or expired.")
		}
		a.log.Info("chat linked", logx.Int64("chat_id", c.Chat().ID))
		return c.Send("Linked! Your medication reminders will arrive in this chat.")
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("telegram polling started")
		a.bot.Start() // blocks until Stop()
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Keep shutdown snappy even if the long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	msg, err := a.bot.Send(chat, text, sendOpt)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}
