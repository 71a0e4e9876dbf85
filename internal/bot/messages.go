package bot

import (
	"fmt"
	"strings"

	"pangguai-bot/internal/service/account"
)

const (
	msgCancelled    = "已退出当前操作"
	msgNoAccounts   = "当前没有已登录的胖乖账号，发送「胖乖登录」开始绑定"
	msgAdminOnly    = "该指令仅管理员可用"
	msgAskPhone     = "请输入要登录的手机号（发送 q 退出）"
	msgAskCode      = "验证码已发送，请输入收到的验证码（发送 q 退出）"
	msgBadPhone     = "手机号格式不正确，请输入 11 位手机号（发送 q 退出）"
	msgBadCode      = "验证码格式不正确，请重新输入（发送 q 退出）"
	msgAskChoose    = "请输入要操作的账号序号（发送 q 退出）"
	msgBadChoice    = "序号无效，请重新输入（发送 q 退出）"
	msgAskMonths    = "请输入授权月数（每月 30 天，发送 q 退出）"
	msgBadMonths    = "月数无效，请输入正整数（发送 q 退出）"
	msgAskDays      = "请输入调整天数（可为负数，发送 q 退出）"
	msgBadDays      = "天数无效，请输入整数（发送 q 退出）"
	msgAskConfirm   = "确认删除该账号？将同时移除面板变量 (y/n)"
	msgCleanConfirm = "确认清理所有过期及未授权账号？将同时移除面板变量 (y/n)"
	msgAskUserID    = "请输入目标用户的QQ号（发送 q 退出）"
	msgBadUserID    = "用户不存在或没有账号，请重新输入（发送 q 退出）"

	msgAdminMenu = "=======胖乖授权=======\n" +
		"[1] 批量授权所有账号\n" +
		"[2] 授权指定用户账号\n" +
		"[3] 调整授权时间\n" +
		"请输入选项（发送 q 退出）"

	msgAdjustScope = "=======时间调整=======\n" +
		"[1] 调整所有账号\n" +
		"[2] 调整指定用户账号\n" +
		"请输入选项（发送 q 退出）"

	msgHelp = "=======胖乖帮助=======\n" +
		"胖乖登录：绑定胖乖账号\n" +
		"胖乖登录 <手机号>：发送验证码\n" +
		"胖乖登录 <手机号> <验证码>：完成登录\n" +
		"胖乖管理：查看并管理已绑定账号\n" +
		"胖乖查询：查询余额与积分\n" +
		"胖乖授权 <序号> <月数>：为指定账号授权\n" +
		"胖乖删除 <序号>：删除指定账号\n" +
		"管理员：胖乖授权 / 胖乖清理 / 胖乖批量授权 <月数> / 胖乖调整 <天数>"

	msgUsage = "指令格式不正确，发送「胖乖帮助」查看用法"
)

func authText(state account.AuthState, date string) string {
	switch state {
	case account.AuthActive:
		return "已授权至 " + date
	case account.AuthExpired:
		return "已过期（" + date + "）"
	case account.AuthInvalid:
		return "授权日期异常"
	default:
		return "未授权"
	}
}

func renderViews(views []account.View) string {
	var b strings.Builder
	b.WriteString("=======胖乖账号=======")
	for i, v := range views {
		fmt.Fprintf(&b, "\n[%d] %s  %s", i+1, v.MaskedPhone, authText(v.State, v.AuthDate))
	}
	return b.String()
}

func renderDetail(idx int, v account.View) string {
	return fmt.Sprintf("=======账号详情=======\n[%d] %s\n授权状态：%s\n[1] 授权\n[2] 删除\n请输入选项（发送 q 退出）",
		idx, v.MaskedPhone, authText(v.State, v.AuthDate))
}

func renderLogin(sum *account.LoginSummary) string {
	var b strings.Builder
	b.WriteString("=======登录成功=======\n")
	fmt.Fprintf(&b, "账号：%s\n", sum.MaskedPhone)
	if sum.Authorized {
		fmt.Fprintf(&b, "授权状态：已授权至 %s\n凭证已同步至面板", sum.AuthDate)
	} else {
		b.WriteString("授权状态：未授权，请联系管理员开通")
	}
	return b.String()
}

func renderQuery(results []account.QueryResult) string {
	if len(results) == 0 {
		return msgNoAccounts
	}
	var b strings.Builder
	b.WriteString("=======胖乖查询=======")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, r.MaskedPhone)
		if !r.TokenValid {
			b.WriteString("\n登录已失效，请重新登录（面板变量已移除）")
			continue
		}
		fmt.Fprintf(&b, "\n余额：%s\n积分：%s（今日 +%d）\n授权状态：%s",
			r.Balance, r.Integral, r.TodayIntegral, authText(r.State, r.AuthDate))
	}
	return b.String()
}

func renderBulk(title string, stats account.BulkStats) string {
	return fmt.Sprintf("=======%s=======\n成功：%d\n失败：%d", title, stats.OK, stats.Failed)
}

func renderClean(stats account.CleanStats) string {
	return fmt.Sprintf("=======胖乖清理=======\n移除账号：%d\n移除面板变量：%d", stats.Removed, stats.EnvsDeleted)
}
