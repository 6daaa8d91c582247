package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/broadcast"
	"relaybot/internal/registry"
	"relaybot/pkg/tgui"
)

// Callback data layout is "section:action" or "section:action:payload",
// see pkg/tgui.Data.
const (
	cbDeptPick    = "dept:pick"   // payload: department name
	cbDeptChange  = "dept:change" // re-show the department menu
	cbBcastNew    = "bcast:new"
	cbBcastTarget = "bcast:target" // payload: department name or ALL
	cbBcastLog    = "bcast:log"
	cbStats       = "stats:show"
	cbMainMenu    = "menu:main"
)

func departmentMenu() *tgui.Inline {
	kb := tgui.NewInline()
	for _, dept := range registry.Departments {
		kb.Row(tgui.Btn(dept, tgui.Data("dept", "pick", dept)))
	}
	return kb
}

func mainMenuKeyboard(isAdmin bool) *tgui.Inline {
	kb := tgui.NewInline()
	if isAdmin {
		kb.Row(tgui.Btn("📢 New announcement", cbBcastNew))
		kb.Row(tgui.Btn("📊 Statistics", cbStats))
		kb.Row(tgui.Btn("🗒 Recent announcements", cbBcastLog))
	}
	kb.Row(tgui.Btn("🔄 Change department", cbDeptChange))
	return kb
}

func welcomeMessage() tgui.Message {
	return tgui.New().
		Title("🤖", "Welcome to the company notification bot!").
		Blank().
		Line("You will receive here:").
		Line("• system outage alerts").
		Line("• maintenance notices").
		Line("• important announcements").
		Blank().
		Line("Pick your department: 👇").
		Inline(departmentMenu()).
		Build()
}

func departmentPrompt() tgui.Message {
	return tgui.New().
		Line("Pick your department:").
		Inline(departmentMenu()).
		Build()
}

func departmentConfirmed(dept string, isAdmin bool) tgui.Message {
	b := tgui.New().
		RawLine("✅ Your department: " + tgui.B(dept).String())
	if isAdmin {
		b.Blank().RawLine("🎛 " + tgui.B("You are an administrator.").String() + " Admin panel unlocked.")
	}
	return b.Inline(mainMenuKeyboard(isAdmin)).Build()
}

func mainMenu(u registry.User) tgui.Message {
	dept := u.Department
	if dept == "" {
		dept = "not set"
	}
	b := tgui.New().
		Title("🏠", "Main menu").
		Blank().
		RawLine("✅ Your department: " + tgui.B(dept).String())
	if u.IsAdmin {
		b.Blank().Line("🎛 You are an administrator")
	}
	return b.Inline(mainMenuKeyboard(u.IsAdmin)).Build()
}

func targetMenu() tgui.Message {
	// Departments in a 2-wide grid, then the ALL sentinel and a back button.
	btns := make([]tele.Btn, 0, len(registry.Departments))
	for _, dept := range registry.Departments {
		btns = append(btns, tgui.Btn(dept, tgui.Data("bcast", "target", dept)))
	}
	kb := tgui.NewInline().
		Grid(2, btns...).
		Row(tgui.Btn("🎯 All employees", tgui.Data("bcast", "target", registry.TargetAll))).
		Row(tgui.Btn("🔙 Back", cbMainMenu))

	return tgui.New().
		Title("📢", "New announcement").
		Blank().
		Line("Choose the recipients:").
		Inline(kb).
		Build()
}

func targetPrompt(target string) tgui.Message {
	return tgui.New().
		RawLine("🎯 " + tgui.B("Recipients:").String() + " " + tgui.Esc(describeTarget(target)).String()).
		Blank().
		Line("📝 Now type the announcement text:").
		Build()
}

func describeTarget(target string) string {
	if target == registry.TargetAll {
		return "all employees"
	}
	return "the " + target + " department"
}

// announcementBody wraps the admin's text with the framing every recipient
// sees.
func announcementBody(text, target string) string {
	return tgui.JoinH("\n\n",
		tgui.B("📢 Important announcement"),
		tgui.Esc(text),
		tgui.I("Sent to "+describeTarget(target)),
	).String()
}

func broadcastReport(rep broadcast.Report, target string) tgui.Message {
	kb := tgui.NewInline().
		Row(tgui.Btn("📢 New announcement", cbBcastNew)).
		Row(tgui.Btn("🏠 Main menu", cbMainMenu))
	b := tgui.New().
		Title("✅", "Announcement sent!").
		Blank().
		KV("📤 Delivered", strconv.Itoa(rep.Sent)+" of "+strconv.Itoa(rep.Total)).
		KV("🎯 Recipients", describeTarget(target))
	if rep.Failed > 0 {
		b.KV("⚠️ Failed", strconv.Itoa(rep.Failed))
	}
	return b.Inline(kb).Build()
}

func statsView(total int, perDept map[string]int) tgui.Message {
	b := tgui.New().
		Title("📊", "Bot statistics").
		Blank().
		RawLine("👥 Registered users: " + tgui.B(strconv.Itoa(total)).String())

	hasAny := false
	for _, dept := range registry.Departments {
		if perDept[dept] > 0 {
			hasAny = true
			break
		}
	}
	if hasAny {
		b.Blank().RawLine(tgui.B("By department:").String())
		for _, dept := range registry.Departments {
			n := perDept[dept]
			if n == 0 {
				continue
			}
			line := fmt.Sprintf("• %s: %d", dept, n)
			if registry.IsAdminDepartment(dept) {
				line += " 👑"
			}
			b.Line(line)
		}
	}

	kb := tgui.NewInline().
		Row(tgui.Btn("📢 New announcement", cbBcastNew)).
		Row(tgui.Btn("🔙 Back", cbMainMenu))
	return b.Inline(kb).Build()
}

func broadcastLogView(records []registry.BroadcastRecord) tgui.Message {
	b := tgui.New().Title("🗒", "Recent announcements")
	if len(records) == 0 {
		b.Blank().Line("Nothing sent yet.")
	}
	for _, r := range records {
		b.Blank().
			RawLine(tgui.B(r.CreatedAt.Local().Format("2006-01-02 15:04")).String() +
				" → " + tgui.Esc(describeTarget(r.Target)).String()).
			Line(snippet(r.Message, 120))
	}
	kb := tgui.NewInline().Row(tgui.Btn("🔙 Back", cbMainMenu))
	return b.Inline(kb).Build()
}

func snippet(s string, max int) string {
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max-1]) + "…"
}
