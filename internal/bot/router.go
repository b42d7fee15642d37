package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"statusbot/internal/runtime/supervisor"
	kit "statusbot/internal/transport"
	"statusbot/pkg/logx"
)

type Command struct {
	Name        string // without the leading slash
	Description string
	Menu        bool // published in the platform command menu
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles button data of the form "<action>:<payload>".
type CallbackRoute struct {
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type MemberHandlerFunc func(ctx context.Context, req *Request, m *kit.ChatMember) error

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromUser string
	Command  string
	Args     []string
	ReqID    string
	Logger   logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Router turns inbound updates into handler calls on a bounded worker pool.
type Router struct {
	gw  kit.Gateway
	log logx.Logger

	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackRoute
	member    MemberHandlerFunc
	menu      []kit.BotCommand

	workers int
	jobs    chan func()
}

type RouterOption func(*Router)

// WithWorkers sets the handler pool size. Default 4.
func WithWorkers(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize caps queued handler jobs. Default 256.
func WithQueueSize(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

func NewRouter(gw kit.Gateway, log logx.Logger, opts ...RouterOption) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		gw:        gw,
		log:       log.With(logx.String("comp", "bot.router")),
		commands:  map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		workers:   4,
		jobs:      make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register replaces the routing table.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute, member MemberHandlerFunc) {
	cm := make(map[string]Command, len(cmds))
	var menu []kit.BotCommand
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cm[name] = c
		if c.Menu {
			menu = append(menu, kit.BotCommand{Command: name, Description: c.Description})
		}
	}
	cb := make(map[string]CallbackRoute, len(cbs))
	for _, c := range cbs {
		a := strings.TrimSpace(c.Action)
		if a == "" || c.Handle == nil {
			continue
		}
		cb[a] = c
	}

	r.mu.Lock()
	r.commands = cm
	r.callbacks = cb
	r.member = member
	r.menu = menu
	r.mu.Unlock()
}

// PublishMenu pushes the menu commands to gateways that support it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.gw.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := append([]kit.BotCommand(nil), r.menu...)
	r.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// Run routes updates until ctx ends or the channel closes, then drains the
// workers for up to three seconds.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	r.log.Info("router started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	jobs := r.jobs
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		sup.Cancel()
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in handler job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	case kit.UpdateChatMember:
		r.routeMember(ctx, up)
	}
}

// parseCommand splits "/name@bot arg..." into the lower-cased name and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		// Groups see every bot's commands; unknown ones are not ours.
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, msg.FromID, msg.FromUsername, name)
	req.Args = args
	final := r.chain(cmd.Handle, cmd.Timeout)
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.gw.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	action, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")
	r.mu.RLock()
	route, ok := r.callbacks[action]
	r.mu.RUnlock()
	if !ok {
		_ = r.gw.AnswerCallback(ctx, cb.ID, "", false)
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "", "cb:"+action)
	h := func(ctx context.Context, rq *Request) error { return route.Handle(ctx, rq, payload) }
	final := r.chain(h, route.Timeout)
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		_ = r.gw.AnswerCallback(ctx, cb.ID, "busy", false)
	}
}

func (r *Router) routeMember(ctx context.Context, up kit.Update) {
	m := up.ChatMember
	if m == nil {
		return
	}
	r.mu.RLock()
	h := r.member
	r.mu.RUnlock()
	if h == nil {
		return
	}
	req := r.newRequest(up, kit.ChatTarget{ChatID: m.ChatID}, m.ActorUserID, m.ActorUsername, "member:"+string(m.Status))
	final := r.chain(func(ctx context.Context, rq *Request) error { return h(ctx, rq, m) }, 0)
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		r.log.Warn("member update dropped (queue full)", logx.Int64("chat_id", m.ChatID))
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, username, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:   up,
		Chat:     chat,
		FromID:   from,
		FromUser: username,
		Command:  command,
		ReqID:    rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
}
