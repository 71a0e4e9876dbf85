package bot

import (
	"context"
	"strconv"
	"strings"

	"pangguai-bot/internal/service/account"
)

// advance feeds one message into an open session. Invalid input re-prompts
// the same step, "q" abandons the conversation.
func (b *Bot) advance(ctx context.Context, key string, state ConversationState, owner, text string) string {
	if strings.EqualFold(text, "q") {
		b.sessions.Clear(key)
		return msgCancelled
	}

	switch state.Step {
	case StepLoginPhone:
		return b.onLoginPhone(ctx, key, state, owner, text)
	case StepLoginCode:
		return b.onLoginCode(ctx, key, state, owner, text)
	case StepManageChoose:
		return b.onManageChoose(key, state, owner, text)
	case StepManageAction:
		return b.onManageAction(key, state, text)
	case StepManageMonths:
		return b.onManageMonths(ctx, key, state, owner, text)
	case StepManageConfirmDelete:
		return b.onManageConfirmDelete(ctx, key, state, owner, text)
	case StepAdminMenu:
		return b.onAdminMenu(key, state, text)
	case StepAdminBulkMonths:
		return b.onAdminBulkMonths(ctx, key, text)
	case StepAdminUserID, StepAdjustUserID:
		return b.onTargetUser(key, state, text)
	case StepAdminAccountChoice, StepAdjustAccountChoice:
		return b.onAccountChoice(key, state, text)
	case StepAdminMonths:
		return b.onAdminMonths(ctx, key, state, text)
	case StepAdjustScope:
		return b.onAdjustScope(key, state, text)
	case StepAdjustDays:
		return b.onAdjustDays(ctx, key, state, text)
	case StepCleanConfirm:
		return b.onCleanConfirm(ctx, key, text)
	}
	b.sessions.Clear(key)
	return msgCancelled
}

func (b *Bot) onLoginPhone(ctx context.Context, key string, state ConversationState, owner, text string) string {
	if !rePhone.MatchString(text) {
		return msgBadPhone
	}
	if err := b.core.BeginLogin(ctx, owner, text); err != nil {
		b.sessions.Clear(key)
		return "发送验证码失败：" + err.Error()
	}
	state.Phone = text
	state.Step = StepLoginCode
	b.sessions.Set(key, state)
	return msgAskCode
}

func (b *Bot) onLoginCode(ctx context.Context, key string, state ConversationState, owner, text string) string {
	if !reCode.MatchString(text) {
		return msgBadCode
	}
	sum, err := b.core.CompleteLogin(ctx, owner, state.Phone, text)
	if err != nil {
		// A wrong code is retryable, the session stays open.
		return "登录失败：" + err.Error() + "，请重新输入验证码（发送 q 退出）"
	}
	b.sessions.Clear(key)
	return renderLogin(sum)
}

func (b *Bot) onManageChoose(key string, state ConversationState, owner, text string) string {
	idx, err := strconv.Atoi(text)
	if err != nil || idx < 1 || idx > len(state.Accounts) {
		return msgBadChoice
	}
	state.AccountID = state.Accounts[idx-1]
	state.Step = StepManageAction
	b.sessions.Set(key, state)
	return renderDetail(idx, b.viewFor(owner, state.AccountID))
}

func (b *Bot) onManageAction(key string, state ConversationState, text string) string {
	switch text {
	case "1":
		state.Step = StepManageMonths
		b.sessions.Set(key, state)
		return msgAskMonths
	case "2":
		state.Step = StepManageConfirmDelete
		b.sessions.Set(key, state)
		return msgAskConfirm
	default:
		return msgBadChoice
	}
}

func (b *Bot) onManageMonths(ctx context.Context, key string, state ConversationState, owner, text string) string {
	months, err := strconv.Atoi(text)
	if err != nil || months < 1 {
		return msgBadMonths
	}
	b.sessions.Clear(key)
	date, err := b.core.Authorize(ctx, owner, state.AccountID, months)
	if err != nil {
		return "授权失败：" + err.Error()
	}
	return "授权成功，有效期至 " + date
}

func (b *Bot) onManageConfirmDelete(ctx context.Context, key string, state ConversationState, owner, text string) string {
	switch strings.ToLower(text) {
	case "y":
		b.sessions.Clear(key)
		if err := b.core.Delete(ctx, owner, state.AccountID); err != nil {
			return "删除失败：" + err.Error()
		}
		return "账号已删除，面板变量已移除"
	case "n":
		b.sessions.Clear(key)
		return msgCancelled
	default:
		return msgAskConfirm
	}
}

func (b *Bot) onAdminMenu(key string, state ConversationState, text string) string {
	switch text {
	case "1":
		state.Step = StepAdminBulkMonths
		b.sessions.Set(key, state)
		return msgAskMonths
	case "2":
		state.Step = StepAdminUserID
		b.sessions.Set(key, state)
		return msgAskUserID
	case "3":
		state.Step = StepAdjustScope
		b.sessions.Set(key, state)
		return msgAdjustScope
	default:
		return msgBadChoice
	}
}

func (b *Bot) onAdminBulkMonths(ctx context.Context, key, text string) string {
	months, err := strconv.Atoi(text)
	if err != nil || months < 1 {
		return msgBadMonths
	}
	b.sessions.Clear(key)
	return renderBulk("批量授权", b.core.AuthorizeAll(ctx, months))
}

// onTargetUser picks the user whose accounts the admin operates on; the next
// step differs between the authorize and adjust branches.
func (b *Bot) onTargetUser(key string, state ConversationState, text string) string {
	views := b.core.List(text)
	if len(views) == 0 {
		return msgBadUserID
	}
	state.TargetUser = text
	state.Accounts = accountIDs(views)
	if state.Step == StepAdminUserID {
		state.Step = StepAdminAccountChoice
	} else {
		state.Step = StepAdjustAccountChoice
	}
	b.sessions.Set(key, state)
	return renderViews(views) + "\n请输入账号序号（0 表示全部，发送 q 退出）"
}

func (b *Bot) onAccountChoice(key string, state ConversationState, text string) string {
	idx, err := strconv.Atoi(text)
	if err != nil || idx < 0 || idx > len(state.Accounts) {
		return msgBadChoice
	}
	if idx == 0 {
		state.AccountID = "" // whole list
	} else {
		state.AccountID = state.Accounts[idx-1]
	}
	if state.Step == StepAdminAccountChoice {
		state.Step = StepAdminMonths
		b.sessions.Set(key, state)
		return msgAskMonths
	}
	state.Step = StepAdjustDays
	b.sessions.Set(key, state)
	return msgAskDays
}

func (b *Bot) onAdminMonths(ctx context.Context, key string, state ConversationState, text string) string {
	months, err := strconv.Atoi(text)
	if err != nil || months < 1 {
		return msgBadMonths
	}
	b.sessions.Clear(key)

	targets := state.Accounts
	if state.AccountID != "" {
		targets = []string{state.AccountID}
	}
	var stats account.BulkStats
	for _, acct := range targets {
		if _, err := b.core.Authorize(ctx, state.TargetUser, acct, months); err != nil {
			b.log.Error().Err(err).Str("account", acct).Msg("authorize")
			stats.Failed++
			continue
		}
		stats.OK++
	}
	return renderBulk("授权", stats)
}

func (b *Bot) onAdjustScope(key string, state ConversationState, text string) string {
	switch text {
	case "1":
		state.TargetUser = ""
		state.Accounts = nil
		state.AccountID = ""
		state.Step = StepAdjustDays
		b.sessions.Set(key, state)
		return msgAskDays
	case "2":
		state.Step = StepAdjustUserID
		b.sessions.Set(key, state)
		return msgAskUserID
	default:
		return msgBadChoice
	}
}

func (b *Bot) onAdjustDays(ctx context.Context, key string, state ConversationState, text string) string {
	days, err := strconv.Atoi(text)
	if err != nil || days == 0 {
		return msgBadDays
	}
	b.sessions.Clear(key)

	if state.TargetUser == "" {
		return renderBulk("时间调整", b.core.AdjustAllDays(ctx, days))
	}
	targets := state.Accounts
	if state.AccountID != "" {
		targets = []string{state.AccountID}
	}
	var stats account.BulkStats
	for _, acct := range targets {
		if _, err := b.core.AdjustDays(ctx, state.TargetUser, acct, days); err != nil {
			b.log.Error().Err(err).Str("account", acct).Msg("adjust days")
			stats.Failed++
			continue
		}
		stats.OK++
	}
	return renderBulk("时间调整", stats)
}

func (b *Bot) onCleanConfirm(ctx context.Context, key, text string) string {
	switch strings.ToLower(text) {
	case "y":
		b.sessions.Clear(key)
		stats, err := b.core.CleanExpired(ctx)
		if err != nil {
			return "清理失败：" + err.Error()
		}
		return renderClean(stats)
	case "n":
		b.sessions.Clear(key)
		return msgCancelled
	default:
		return msgCleanConfirm
	}
}

func (b *Bot) viewFor(owner, accountID string) account.View {
	for _, v := range b.core.List(owner) {
		if v.AccountID == accountID {
			return v
		}
	}
	return account.View{AccountID: accountID}
}
