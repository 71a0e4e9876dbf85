// Package pangguai implements the PangGuai consumer API: signed form-encoded
// POSTs with a {code, msg, data} envelope and success sentinel code == 0.
package pangguai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"pangguai-bot/internal/common/logger"
)

const (
	appSecret = "xl8v4s/5qpBLvN+8CzFx7vVjy31NgXXcedU7G0QpOMM="
	userAgent = "okhttp/3.14.9"
	version   = "1.57.0"
	channel   = "android_app"
)

type Client struct {
	http       *resty.Client
	baseURL    string
	phoneBrand string
	log        zerolog.Logger
	now        func() time.Time
}

func New(baseURL, phoneBrand string) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(15 * time.Second).
			SetHeader("User-Agent", userAgent).
			SetHeader("Connection", "Keep-Alive").
			SetHeader("Accept-Encoding", "gzip"),
		baseURL:    baseURL,
		phoneBrand: phoneBrand,
		log:        logger.With("pangguai"),
		now:        time.Now,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// UserInfo is the identity attached to a session token.
type UserInfo struct {
	Phone       string
	AccountID   string
	MaskedPhone string
}

// LoginResult is a fresh, verified session.
type LoginResult struct {
	UserInfo
	Token string
}

// AccountInfo is the balance/points snapshot rendered to the user.
type AccountInfo struct {
	Balance       string
	Integral      string
	TodayIntegral int64
}

// sign hashes the vendor's fixed concatenation. The parameter name really is
// the byte sequence "×tamp" (U+00D7 followed by "tamp"): the vendor's server
// verifies against exactly these bytes, so it must not be normalized.
func sign(timestampMS int64, token, urlPath string) string {
	payload := fmt.Sprintf("appSecret=%s&channel=%s×tamp=%d&token=%s&version=%s&%s",
		appSecret, channel, timestampMS, token, version, urlPath)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// MaskPhone renders an 11-digit phone as first 3 digits, four stars, then the
// digits from position 8 onward. Anything else is returned unchanged.
func MaskPhone(phone string) string {
	if len(phone) != 11 {
		return phone
	}
	return phone[:3] + "****" + phone[7:]
}

func (c *Client) request(ctx context.Context, endpoint, token string, body string, form map[string]string) (*envelope, error) {
	full := c.baseURL + "/" + endpoint
	parsed, err := url.Parse(full)
	if err != nil {
		return nil, fmt.Errorf("parse url %s: %w", full, err)
	}
	ts := c.now().UnixMilli()

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Authorization", token).
		SetHeader("Version", version).
		SetHeader("channel", channel).
		SetHeader("phoneBrand", c.phoneBrand).
		SetHeader("timestamp", strconv.FormatInt(ts, 10)).
		SetHeader("sign", sign(ts, token, parsed.Path))
	if form != nil {
		req.SetFormData(form)
	} else {
		req.SetBody(body)
	}

	resp, err := req.Post(full)
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
		return nil, fmt.Errorf("pangguai %s: %w", endpoint, err)
	}
	if resp.StatusCode() >= 400 {
		c.log.Error().Int("status", resp.StatusCode()).Str("endpoint", endpoint).Msg("http error")
		return nil, fmt.Errorf("pangguai %s: status %d", endpoint, resp.StatusCode())
	}

	var env envelope
	if err := sonic.Unmarshal(resp.Body(), &env); err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("non-JSON response")
		return nil, fmt.Errorf("pangguai %s: decode response: %w", endpoint, err)
	}
	if env.Code != 0 {
		c.log.Warn().Int("code", env.Code).Str("msg", env.Msg).Str("endpoint", endpoint).Msg("vendor error")
	}
	return &env, nil
}

// SendSMSCode dispatches the registration SMS template. Success requires both
// the zero code sentinel and the vendor's literal success message.
func (c *Client) SendSMSCode(ctx context.Context, phone string) error {
	env, err := c.request(ctx, "common/sms/sendCode", "", "phone="+phone+"&template=reg", nil)
	if err != nil {
		return err
	}
	if env.Code != 0 || env.Msg != "成功" {
		return fmt.Errorf("发送验证码失败: %s", orUnknown(env.Msg))
	}
	return nil
}

// VerifyToken fetches user info for a token; a nil error means the token is live.
func (c *Client) VerifyToken(ctx context.Context, token string) (*UserInfo, error) {
	env, err := c.request(ctx, "user/info", token, "token="+token, nil)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("token 校验失败: %s", orUnknown(env.Msg))
	}
	var data struct {
		Phone string      `json:"phone"`
		ID    json.Number `json:"id"`
	}
	if err := sonic.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	if data.Phone == "" || data.ID.String() == "" {
		c.log.Warn().Str("data", string(env.Data)).Msg("user info missing phone or id")
		return nil, fmt.Errorf("用户信息缺少手机号或账号ID")
	}
	return &UserInfo{
		Phone:       data.Phone,
		AccountID:   data.ID.String(),
		MaskedPhone: MaskPhone(data.Phone),
	}, nil
}

// LoginWithSMS exchanges phone+code for a token, then verifies the token
// immediately so a dead token is never reported as a successful login.
func (c *Client) LoginWithSMS(ctx context.Context, phone, code string) (*LoginResult, error) {
	env, err := c.request(ctx, "user/reg", "", "channel=h5&phone="+phone+"&verify="+code, nil)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("登录失败: %s", orUnknown(env.Msg))
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := sonic.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if data.Token == "" {
		c.log.Error().Msg("login succeeded but no token returned")
		return nil, fmt.Errorf("登录成功但未返回 token")
	}
	info, err := c.VerifyToken(ctx, data.Token)
	if err != nil {
		c.log.Error().Err(err).Msg("fresh token failed verification")
		return nil, fmt.Errorf("verify fresh token: %w", err)
	}
	return &LoginResult{UserInfo: *info, Token: data.Token}, nil
}

// AccountInfo fetches balance and points. The points-record call is best
// effort: its failure degrades today's integral to zero without failing the
// whole lookup.
func (c *Client) AccountInfo(ctx context.Context, token string) (*AccountInfo, error) {
	env, err := c.request(ctx, "user/balance", token, "token="+token, nil)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("查询余额失败: %s", orUnknown(env.Msg))
	}
	var balance struct {
		Balance  json.Number `json:"balance"`
		Integral json.Number `json:"integral"`
	}
	if err := sonic.Unmarshal(env.Data, &balance); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}

	info := &AccountInfo{
		Balance:  balance.Balance.String(),
		Integral: balance.Integral.String(),
	}
	info.TodayIntegral = c.todayIntegral(ctx, token)
	return info, nil
}

func (c *Client) todayIntegral(ctx context.Context, token string) int64 {
	env, err := c.request(ctx, "integralRecord/pageList", token, "", map[string]string{
		"page":           "1",
		"pageSize":       "100",
		"type":           "100",
		"receivedStatus": "1",
		"token":          token,
	})
	if err != nil || env.Code != 0 {
		c.log.Warn().Err(err).Msg("integral record lookup failed, today integral degrades to 0")
		return 0
	}
	var data struct {
		Items []struct {
			ReceivedTime string      `json:"receivedTime"`
			Amount       json.Number `json:"amount"`
		} `json:"items"`
	}
	if err := sonic.Unmarshal(env.Data, &data); err != nil {
		c.log.Warn().Err(err).Msg("decode integral records failed")
		return 0
	}

	today := c.now().Format("2006-01-02")
	var total int64
	for _, item := range data.Items {
		if len(item.ReceivedTime) < len(today) || item.ReceivedTime[:len(today)] != today {
			continue
		}
		if n, err := item.Amount.Int64(); err == nil {
			total += n
		}
	}
	return total
}

func orUnknown(msg string) string {
	if msg == "" {
		return "未知错误"
	}
	return msg
}
