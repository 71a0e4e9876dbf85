package bot

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"pangguai-bot/internal/bot/onebot"
)

var (
	rePhone = regexp.MustCompile(`^1\d{10}$`)
	reCode  = regexp.MustCompile(`^\d{4,6}$`)

	reLoginCode  = regexp.MustCompile(`^胖乖登录\s+(1\d{10})\s+(\d{4,6})$`)
	reLoginPhone = regexp.MustCompile(`^胖乖登录\s+(1\d{10})$`)
	reAuthorize  = regexp.MustCompile(`^胖乖授权\s+(\d+)\s+(\d+)$`)
	reDelete     = regexp.MustCompile(`^胖乖删除\s+(\d+)$`)
	reBulkAuth   = regexp.MustCompile(`^胖乖批量授权\s+(\d+)$`)
	reAdjust     = regexp.MustCompile(`^胖乖调整\s+(-?\d+)$`)
)

// command matches a fresh message against both adapters: the exact forms
// start a multi-turn session, the argument forms complete in one turn.
func (b *Bot) command(ctx context.Context, key string, ev onebot.Event, owner, text string) string {
	switch text {
	case "胖乖登录", "登录胖乖":
		b.sessions.Set(key, ConversationState{Step: StepLoginPhone})
		return msgAskPhone

	case "胖乖管理", "管理胖乖":
		views := b.core.List(owner)
		if len(views) == 0 {
			return msgNoAccounts
		}
		b.sessions.Set(key, ConversationState{Step: StepManageChoose, Accounts: accountIDs(views)})
		return renderViews(views) + "\n" + msgAskChoose

	case "胖乖查询", "查询胖乖":
		return renderQuery(b.core.Query(ctx, owner))

	case "胖乖授权":
		if !b.isAdmin(ev.UserID) {
			return msgAdminOnly
		}
		b.sessions.Set(key, ConversationState{Step: StepAdminMenu})
		return msgAdminMenu

	case "胖乖清理":
		if !b.isAdmin(ev.UserID) {
			return msgAdminOnly
		}
		b.sessions.Set(key, ConversationState{Step: StepCleanConfirm})
		return msgCleanConfirm

	case "胖乖帮助":
		return msgHelp
	}

	if m := reLoginCode.FindStringSubmatch(text); m != nil {
		sum, err := b.core.CompleteLogin(ctx, owner, m[1], m[2])
		if err != nil {
			return "登录失败：" + err.Error()
		}
		return renderLogin(sum)
	}
	if m := reLoginPhone.FindStringSubmatch(text); m != nil {
		if err := b.core.BeginLogin(ctx, owner, m[1]); err != nil {
			return "发送验证码失败：" + err.Error()
		}
		return "验证码已发送，请发送「胖乖登录 " + m[1] + " <验证码>」完成登录"
	}
	if m := reAuthorize.FindStringSubmatch(text); m != nil {
		acct, reply := b.chooseOwn(owner, m[1])
		if reply != "" {
			return reply
		}
		months, _ := strconv.Atoi(m[2])
		if months < 1 {
			return msgBadMonths
		}
		date, err := b.core.Authorize(ctx, owner, acct, months)
		if err != nil {
			return "授权失败：" + err.Error()
		}
		return "授权成功，有效期至 " + date
	}
	if m := reDelete.FindStringSubmatch(text); m != nil {
		acct, reply := b.chooseOwn(owner, m[1])
		if reply != "" {
			return reply
		}
		if err := b.core.Delete(ctx, owner, acct); err != nil {
			return "删除失败：" + err.Error()
		}
		return "账号已删除，面板变量已移除"
	}
	if m := reBulkAuth.FindStringSubmatch(text); m != nil {
		if !b.isAdmin(ev.UserID) {
			return msgAdminOnly
		}
		months, _ := strconv.Atoi(m[1])
		if months < 1 {
			return msgBadMonths
		}
		return renderBulk("批量授权", b.core.AuthorizeAll(ctx, months))
	}
	if m := reAdjust.FindStringSubmatch(text); m != nil {
		if !b.isAdmin(ev.UserID) {
			return msgAdminOnly
		}
		days, _ := strconv.Atoi(m[1])
		return renderBulk("时间调整", b.core.AdjustAllDays(ctx, days))
	}

	if strings.HasPrefix(text, "胖乖") || strings.HasSuffix(text, "胖乖") {
		return msgUsage
	}
	return ""
}

// chooseOwn resolves a 1-based index into the sender's own account list.
func (b *Bot) chooseOwn(owner, raw string) (string, string) {
	views := b.core.List(owner)
	if len(views) == 0 {
		return "", msgNoAccounts
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 1 || idx > len(views) {
		return "", "序号无效，发送「胖乖管理」查看账号列表"
	}
	return views[idx-1].AccountID, ""
}
