package bot

import (
	"context"
	"errors"
	"fmt"

	"statusbot/internal/notify"
	"statusbot/internal/observability"
	"statusbot/internal/report"
	"statusbot/internal/storage"
	kit "statusbot/internal/transport"
	"statusbot/pkg/logx"
)

const (
	startText        = "*Let's get started*\n\nAdd me to a group and follow the instructions to get started."
	walletMissingTxt = "Wallet manager endpoint is not configured"
	subscribeAction  = "subscribe"
)

// StatusSource renders an on-demand report. report.ErrNotConfigured means
// the backend has no endpoint.
type StatusSource interface {
	Report(ctx context.Context) (string, error)
}

// Handlers implements the chat-facing flows: onboarding, the subscribe
// keyboard and membership bookkeeping.
type Handlers struct {
	store    storage.Store
	gw       kit.Gateway
	wallet   StatusSource
	log      logx.Logger
	reporter observability.Reporter
}

type HandlersOption func(*Handlers)

func WithWalletManager(s StatusSource) HandlersOption {
	return func(h *Handlers) { h.wallet = s }
}

func WithHandlersLogger(l logx.Logger) HandlersOption {
	return func(h *Handlers) { h.log = l }
}

func WithReporter(r observability.Reporter) HandlersOption {
	return func(h *Handlers) { h.reporter = r }
}

func NewHandlers(store storage.Store, gw kit.Gateway, opts ...HandlersOption) *Handlers {
	h := &Handlers{store: store, gw: gw}
	for _, o := range opts {
		o(h)
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.String("comp", "bot"))
	h.reporter = observability.OrNop(h.reporter)
	return h
}

// Install registers every handler on r.
func (h *Handlers) Install(r *Router) {
	r.Register(h.Commands(), h.Callbacks(), h.OnMember)
}

func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Handle: h.start},
		{Name: "walletmanager", Description: "Get the status of the wallet manager", Menu: true, Handle: h.walletManager},
		{Name: "subscribe", Description: "Subscribe to notifications", Menu: true, Handle: h.subscribe},
	}
}

func (h *Handlers) Callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Action: subscribeAction, Handle: h.onSubscribe},
	}
}

func (h *Handlers) start(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	if msg == nil || !msg.IsPrivate {
		return nil
	}
	_, err := h.gw.SendText(ctx, req.Chat, startText, &kit.SendOptions{ParseMode: kit.ParseModeMarkdown})
	return err
}

func (h *Handlers) walletManager(ctx context.Context, req *Request) error {
	if h.wallet == nil {
		_, err := h.gw.SendText(ctx, req.Chat, walletMissingTxt, nil)
		return err
	}
	text, err := h.wallet.Report(ctx)
	switch {
	case errors.Is(err, report.ErrNotConfigured):
		_, err = h.gw.SendText(ctx, req.Chat, walletMissingTxt, nil)
		return err
	case err != nil:
		h.reporter.Report(ctx, observability.Event{
			Kind:    observability.KindFetchError,
			Err:     err,
			Context: map[string]string{"source": notify.WalletManager.String()},
		})
		_, _ = h.gw.SendText(ctx, req.Chat, "An error occured when fetching the wallet manager report", nil)
		return err
	}
	_, err = h.gw.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: kit.ParseModeMarkdown, DisablePreview: true})
	return err
}

func (h *Handlers) subscribe(ctx context.Context, req *Request) error {
	if req.FromID == 0 {
		return nil
	}
	return h.sendKeyboard(ctx, req.Chat, req.FromID)
}

// OnMember reacts to changes of the bot's own membership. Removal clears the
// chat's subscriptions; being added posts the subscribe keyboard for the
// admin who added it.
func (h *Handlers) OnMember(ctx context.Context, req *Request, m *kit.ChatMember) error {
	if !m.IsBotTargetSelf {
		return nil
	}
	switch m.Status {
	case kit.MemberKicked, kit.MemberLeft:
		n, err := h.store.DeleteByChat(ctx, m.ChatID)
		if err != nil {
			h.reportStorage(ctx, "delete", err)
			return err
		}
		req.logger(h.log).Info("removed from chat", logx.Int64("chat_id", m.ChatID), logx.Int("subscriptions_removed", n))
		return nil
	case kit.MemberJoined:
		return h.sendKeyboard(ctx, kit.ChatTarget{ChatID: m.ChatID}, m.ActorUserID)
	default:
		return nil
	}
}

func (h *Handlers) onSubscribe(ctx context.Context, req *Request, payload string) error {
	cb := req.Update.Callback
	if cb == nil {
		return nil
	}
	fail := func(err error) error {
		_ = h.gw.AnswerCallback(ctx, cb.ID, "An error occured when subscribing: "+err.Error(), true)
		return err
	}

	category, err := notify.ParseCategory(payload)
	if err != nil {
		return fail(err)
	}
	exists, err := h.subscribed(ctx, cb.ChatID, category)
	if err != nil {
		h.reportStorage(ctx, "list", err)
		return fail(err)
	}

	answer := fmt.Sprintf("This chat is already subscribed to %s.", category.Name())
	if !exists {
		if _, err := h.store.Insert(ctx, cb.ChatID, category); err != nil {
			h.reportStorage(ctx, "insert", err)
			return fail(err)
		}
		answer = fmt.Sprintf("You have subscribed to %s.", category.Name())
	}
	if err := h.gw.AnswerCallback(ctx, cb.ID, answer, true); err != nil {
		req.logger(h.log).Warn("answer callback failed", logx.Err(err))
	}
	return h.gw.DeleteMessage(ctx, kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID})
}

func (h *Handlers) subscribed(ctx context.Context, chatID int64, c notify.Category) (bool, error) {
	subs, err := h.store.ListAll(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range subs {
		if s.ChatID == chatID && s.Category == c {
			return true, nil
		}
	}
	return false, nil
}

func (h *Handlers) sendKeyboard(ctx context.Context, to kit.ChatTarget, adminID int64) error {
	_, err := h.gw.SendButtons(ctx, to, keyboardText(adminID), SubscribeKeyboard())
	return err
}

func keyboardText(adminID int64) string {
	if adminID == 0 {
		return "*Subscribe to notifications*\n\nChoose what this chat should receive."
	}
	return fmt.Sprintf("*Subscribe to notifications*\n\n[Admin](tg://user?id=%d), choose what this chat should receive.", adminID)
}

// SubscribeKeyboard lists every category, one button per row.
func SubscribeKeyboard() [][]kit.Button {
	cats := notify.Categories()
	rows := make([][]kit.Button, 0, len(cats))
	for _, c := range cats {
		rows = append(rows, []kit.Button{{Text: c.Name(), Data: subscribeAction + ":" + c.String()}})
	}
	return rows
}

func (h *Handlers) reportStorage(ctx context.Context, op string, err error) {
	h.reporter.Report(ctx, observability.Event{
		Kind:    observability.KindStorageError,
		Err:     err,
		Context: map[string]string{"op": op},
	})
}
