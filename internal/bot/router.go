package bot

import (
	"context"
	"errors"
	"strings"

	"relaybot/internal/broadcast"
	"relaybot/internal/registry"
	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

// Router classifies inbound updates and drives the registry, the admin
// broadcast flow, and the outbound replies. It is driven by a single
// dispatch goroutine, so handlers never overlap.
type Router struct {
	store    registry.Store
	adapter  kit.Adapter
	fanout   *broadcast.Service
	sessions *Sessions
	log      logx.Logger

	historySize int
}

func NewRouter(store registry.Store, adapter kit.Adapter, fanout *broadcast.Service, sessions *Sessions, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		store:       store,
		adapter:     adapter,
		fanout:      fanout,
		sessions:    sessions,
		log:         log,
		historySize: 10,
	}
}

func (r *Router) Handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		if isStartCommand(up.Message.Text) {
			r.handleStart(ctx, up.Message)
			return
		}
		r.handleFreeText(ctx, up.Message)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return
		}
		r.handleCallback(ctx, up.Callback)
	}
}

func isStartCommand(text string) bool {
	text = strings.TrimSpace(text)
	return text == "/start" || strings.HasPrefix(text, "/start ")
}

func (r *Router) handleStart(ctx context.Context, m *kit.Message) {
	if err := r.store.RegisterIfAbsent(ctx, m.FromID, m.FromUsername, m.FromName); err != nil {
		r.log.Error("registration failed", logx.Int64("user_id", m.FromID), logx.Err(err))
		r.send(ctx, m.ChatID, genericFailure())
		return
	}
	r.log.Debug("user registered", logx.Int64("user_id", m.FromID), logx.String("username", m.FromUsername))
	r.send(ctx, m.ChatID, welcomeMessage())
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	section, action, payload := tgui.SplitData(cb.Data)

	switch {
	case section == "dept" && action == "pick":
		r.handleDepartmentPick(ctx, cb, payload)
	case cb.Data == cbDeptChange:
		r.ack(ctx, cb)
		r.edit(ctx, cb, departmentPrompt())
	case cb.Data == cbBcastNew:
		r.handleBroadcastNew(ctx, cb)
	case section == "bcast" && action == "target":
		r.handleTargetPick(ctx, cb, payload)
	case cb.Data == cbBcastLog:
		r.handleBroadcastLog(ctx, cb)
	case cb.Data == cbStats:
		r.handleStats(ctx, cb)
	case cb.Data == cbMainMenu:
		r.handleMainMenu(ctx, cb)
	default:
		// Stale button from an older build; just dismiss the spinner.
		r.ack(ctx, cb)
	}
}

func (r *Router) handleDepartmentPick(ctx context.Context, cb *kit.Callback, dept string) {
	if !registry.ValidDepartment(dept) {
		r.ack(ctx, cb)
		return
	}
	if err := r.store.SetDepartment(ctx, cb.FromID, dept); err != nil {
		// ErrNotFound here means the button outlived the registration row,
		// which should not happen; treat both cases as a generic failure.
		r.log.Error("set department failed", logx.Int64("user_id", cb.FromID), logx.String("dept", dept), logx.Err(err))
		r.alert(ctx, cb, "❌ Something went wrong, try /start again")
		return
	}
	isAdmin := registry.IsAdminDepartment(dept)
	r.log.Info("department selected",
		logx.Int64("user_id", cb.FromID), logx.String("dept", dept), logx.Bool("admin", isAdmin))
	r.ack(ctx, cb)
	r.edit(ctx, cb, departmentConfirmed(dept, isAdmin))
}

func (r *Router) handleBroadcastNew(ctx context.Context, cb *kit.Callback) {
	if !r.requireAdmin(ctx, cb) {
		return
	}
	r.sessions.BeginTarget(cb.FromID)
	r.ack(ctx, cb)
	r.edit(ctx, cb, targetMenu())
}

func (r *Router) handleTargetPick(ctx context.Context, cb *kit.Callback, target string) {
	if !registry.ValidTarget(target) {
		r.ack(ctx, cb)
		return
	}
	if !r.sessions.SetTarget(cb.FromID, target) {
		// Not in the target-selection step (stale keyboard); ignore.
		r.ack(ctx, cb)
		return
	}
	r.ack(ctx, cb)
	r.edit(ctx, cb, targetPrompt(target))
}

// handleFreeText completes an admin's in-flight broadcast. Ordinary
// conversation (no pending flow) is intentionally ignored.
func (r *Router) handleFreeText(ctx context.Context, m *kit.Message) {
	state, target := r.sessions.Get(m.FromID)
	if state != StateAwaitingMessage {
		return
	}

	// Admin status may have been revoked between steps; re-check.
	u, err := r.store.GetUser(ctx, m.FromID)
	if errors.Is(err, registry.ErrNotFound) {
		r.sessions.Reset(m.FromID)
		r.send(ctx, m.ChatID, permissionFailure())
		return
	}
	if err != nil {
		r.log.Error("user lookup failed", logx.Int64("user_id", m.FromID), logx.Err(err))
		r.send(ctx, m.ChatID, genericFailure())
		return
	}
	if !u.IsAdmin {
		r.sessions.Reset(m.FromID)
		r.send(ctx, m.ChatID, permissionFailure())
		return
	}

	recipients, err := r.resolveRecipients(ctx, target)
	if err != nil {
		r.log.Error("recipient resolution failed", logx.String("target", target), logx.Err(err))
		r.send(ctx, m.ChatID, genericFailure())
		return
	}

	body := announcementBody(m.Text, target)
	rep := r.fanout.Run(ctx, recipients, body, htmlSendOptions())

	// The record captures intent, not delivery outcome, and is written once
	// regardless of how many sends succeeded.
	if err := r.store.RecordBroadcast(ctx, m.FromID, target, m.Text); err != nil {
		r.log.Error("broadcast record failed", logx.Int64("admin_id", m.FromID), logx.Err(err))
	}
	r.sessions.Reset(m.FromID)

	r.log.Info("broadcast completed",
		logx.Int64("admin_id", m.FromID), logx.String("target", target),
		logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed),
	)
	r.send(ctx, m.ChatID, broadcastReport(rep, target))
}

func (r *Router) resolveRecipients(ctx context.Context, target string) ([]int64, error) {
	if target == registry.TargetAll {
		return r.store.ListAllUserIDs(ctx)
	}
	return r.store.ListUserIDsByDepartment(ctx, target)
}

func (r *Router) handleStats(ctx context.Context, cb *kit.Callback) {
	if !r.requireAdmin(ctx, cb) {
		return
	}
	all, err := r.store.ListAllUserIDs(ctx)
	if err != nil {
		r.log.Error("stats query failed", logx.Err(err))
		r.alert(ctx, cb, "❌ Something went wrong")
		return
	}
	perDept := make(map[string]int, len(registry.Departments))
	for _, dept := range registry.Departments {
		ids, err := r.store.ListUserIDsByDepartment(ctx, dept)
		if err != nil {
			r.log.Error("stats query failed", logx.String("dept", dept), logx.Err(err))
			r.alert(ctx, cb, "❌ Something went wrong")
			return
		}
		perDept[dept] = len(ids)
	}
	r.ack(ctx, cb)
	r.edit(ctx, cb, statsView(len(all), perDept))
}

func (r *Router) handleBroadcastLog(ctx context.Context, cb *kit.Callback) {
	if !r.requireAdmin(ctx, cb) {
		return
	}
	records, err := r.store.ListBroadcasts(ctx, r.historySize)
	if err != nil {
		r.log.Error("broadcast log query failed", logx.Err(err))
		r.alert(ctx, cb, "❌ Something went wrong")
		return
	}
	r.ack(ctx, cb)
	r.edit(ctx, cb, broadcastLogView(records))
}

func (r *Router) handleMainMenu(ctx context.Context, cb *kit.Callback) {
	u, err := r.store.GetUser(ctx, cb.FromID)
	if errors.Is(err, registry.ErrNotFound) {
		r.ack(ctx, cb)
		r.edit(ctx, cb, welcomeMessage())
		return
	}
	if err != nil {
		r.log.Error("user lookup failed", logx.Int64("user_id", cb.FromID), logx.Err(err))
		r.alert(ctx, cb, "❌ Something went wrong")
		return
	}
	r.ack(ctx, cb)
	r.edit(ctx, cb, mainMenu(u))
}

// requireAdmin gates admin-only callbacks. Rejections are user-visible
// popups, not errors.
func (r *Router) requireAdmin(ctx context.Context, cb *kit.Callback) bool {
	u, err := r.store.GetUser(ctx, cb.FromID)
	if errors.Is(err, registry.ErrNotFound) {
		r.alert(ctx, cb, "❌ Admins only")
		return false
	}
	if err != nil {
		r.log.Error("user lookup failed", logx.Int64("user_id", cb.FromID), logx.Err(err))
		r.alert(ctx, cb, "❌ Something went wrong")
		return false
	}
	if !u.IsAdmin {
		r.log.Debug("admin action rejected", logx.Int64("user_id", cb.FromID), logx.String("data", cb.Data))
		r.alert(ctx, cb, "❌ Admins only")
		return false
	}
	return true
}

// ---- outbound helpers ----

func (r *Router) send(ctx context.Context, chatID int64, msg tgui.Message) {
	if _, err := msg.Send(ctx, r.adapter, kit.ChatTarget{ChatID: chatID}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (r *Router) edit(ctx context.Context, cb *kit.Callback, msg tgui.Message) {
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := msg.Edit(ctx, r.adapter, ref); err != nil {
		// Telegram rejects no-op edits; fall back to a fresh message.
		if _, err2 := msg.Send(ctx, r.adapter, kit.ChatTarget{ChatID: cb.ChatID}); err2 != nil {
			r.log.Warn("edit and send both failed", logx.Int64("chat_id", cb.ChatID), logx.Err(err2))
		}
	}
}

func (r *Router) ack(ctx context.Context, cb *kit.Callback) {
	if err := r.adapter.AnswerCallback(ctx, cb.ID, "", false); err != nil {
		r.log.Debug("callback ack failed", logx.Err(err))
	}
}

func (r *Router) alert(ctx context.Context, cb *kit.Callback, text string) {
	if err := r.adapter.AnswerCallback(ctx, cb.ID, text, true); err != nil {
		r.log.Debug("callback alert failed", logx.Err(err))
	}
}

func genericFailure() tgui.Message {
	return tgui.New().Line("❌ Something went wrong. Please try again.").Build()
}

func permissionFailure() tgui.Message {
	return tgui.New().Line("❌ Permission error").Build()
}

func htmlSendOptions() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}
