// Package qinglong implements the Qinglong panel OpenAPI used to hand vendor
// tokens to other automation: bearer-token JSON API, success sentinel
// code == 200, with the env remark field doubling as a pseudo-index of
// account id, phone, owner and authorization date.
package qinglong

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"pangguai-bot/internal/common/logger"
)

// ErrDuplicateValue reports the panel's duplicate-value conflict, signalled
// only by a message substring; callers treat it as "likely already exists".
var ErrDuplicateValue = errors.New("env value must be unique")

// remarkTag prefixes the phone number inside the remark pseudo-index.
const remarkTag = "胖乖:"

type Client struct {
	http         *resty.Client
	baseURL      string
	clientID     string
	clientSecret string
	log          zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func New(host, clientID, clientSecret string) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("accept", "application/json"),
		baseURL:      strings.TrimRight(host, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		log:          logger.With("qinglong"),
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Env is a panel environment variable. Older panels expose a Mongo-style
// string id under "_id" instead of the numeric "id".
type Env struct {
	ID      int64  `json:"id,omitempty"`
	MongoID string `json:"_id,omitempty"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Remarks string `json:"remarks"`
}

// Identifier returns the env's id, preferring the numeric one.
func (e Env) Identifier() string {
	if e.ID != 0 {
		return strconv.FormatInt(e.ID, 10)
	}
	return e.MongoID
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// getToken returns a cached panel token, refreshing five minutes before the
// reported expiry (24h assumed when unreported). Fails closed on any error.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && c.tokenExpiry.After(now.Add(5*time.Minute)) {
		return c.token, nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client_id":     c.clientID,
			"client_secret": c.clientSecret,
		}).
		Get(c.baseURL + "/open/auth/token")
	if err != nil {
		c.log.Error().Err(err).Msg("token request failed")
		return "", fmt.Errorf("qinglong token: %w", err)
	}
	if resp.StatusCode() != 200 {
		c.log.Error().Int("status", resp.StatusCode()).Msg("token request rejected")
		return "", fmt.Errorf("qinglong token: status %d", resp.StatusCode())
	}

	var env envelope
	if err := sonic.Unmarshal(resp.Body(), &env); err != nil {
		return "", fmt.Errorf("qinglong token: decode: %w", err)
	}
	var data struct {
		Token      string `json:"token"`
		Expiration int64  `json:"expiration"`
	}
	if env.Code != 200 || sonic.Unmarshal(env.Data, &data) != nil || data.Token == "" {
		c.log.Error().Str("message", env.Message).Msg("token exchange failed")
		return "", fmt.Errorf("qinglong token: %s", env.Message)
	}

	expiration := data.Expiration
	if expiration <= 0 {
		expiration = 86400
	}
	c.token = data.Token
	c.tokenExpiry = now.Add(time.Duration(expiration) * time.Second)
	c.log.Info().Msg("panel token refreshed")
	return c.token, nil
}

// Ping verifies the panel is reachable and the credentials work.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.getToken(ctx)
	return err
}

func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, body any) (*envelope, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, c.baseURL+"/open/"+endpoint)
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
		return nil, fmt.Errorf("qinglong %s: %w", endpoint, err)
	}
	if resp.StatusCode() == 204 || len(resp.Body()) == 0 {
		return &envelope{Code: 200}, nil
	}

	var env envelope
	if err := sonic.Unmarshal(resp.Body(), &env); err != nil {
		c.log.Error().Str("endpoint", endpoint).Msg("non-JSON response")
		return nil, fmt.Errorf("qinglong %s: decode response: %w", endpoint, err)
	}
	if env.Code != 200 {
		c.log.Warn().Int("code", env.Code).Str("message", env.Message).Str("endpoint", endpoint).Msg("panel error")
	}
	return &env, nil
}

// ListEnvs lists panel variables, optionally filtered server-side.
func (c *Client) ListEnvs(ctx context.Context, search string) ([]Env, error) {
	query := url.Values{}
	if search != "" {
		query.Set("searchValue", search)
	}
	env, err := c.request(ctx, "GET", "envs", query, nil)
	if err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return nil, fmt.Errorf("list envs: %s", env.Message)
	}
	var envs []Env
	if err := sonic.Unmarshal(env.Data, &envs); err != nil {
		return nil, fmt.Errorf("decode envs: %w", err)
	}
	return envs, nil
}

func (c *Client) AddEnv(ctx context.Context, name, value, remarks string) error {
	body := []map[string]string{{"name": name, "value": value, "remarks": remarks}}
	env, err := c.request(ctx, "POST", "envs", nil, body)
	if err != nil {
		return err
	}
	if env.Code != 200 {
		if strings.Contains(env.Message, "value must be unique") {
			return ErrDuplicateValue
		}
		return fmt.Errorf("add env: %s", env.Message)
	}
	return nil
}

func (c *Client) UpdateEnv(ctx context.Context, id, name, value, remarks string) error {
	body := map[string]any{"name": name, "value": value, "remarks": remarks}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		body["id"] = n
	} else {
		body["id"] = id
	}
	env, err := c.request(ctx, "PUT", "envs", nil, body)
	if err != nil {
		return err
	}
	if env.Code != 200 {
		return fmt.Errorf("update env %s: %s", id, env.Message)
	}
	return nil
}

// DeleteEnvs removes the given envs. The OpenAPI wants numeric ids; legacy
// string ids are skipped with a warning.
func (c *Client) DeleteEnvs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	numeric := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			c.log.Warn().Str("id", id).Msg("skip non-numeric env id on delete")
			continue
		}
		numeric = append(numeric, n)
	}
	if len(numeric) == 0 {
		return fmt.Errorf("delete envs: no usable ids")
	}
	env, err := c.request(ctx, "DELETE", "envs", nil, numeric)
	if err != nil {
		return err
	}
	if env.Code != 200 {
		return fmt.Errorf("delete envs: %s", env.Message)
	}
	return nil
}

// FindEnv scans the full variable list for one named name whose remark
// references accountID, falling back to the first remark that carries
// "胖乖:<phone>". The account-id match always wins: account ids are unique
// while phone numbers may have been recycled across re-registrations.
func (c *Client) FindEnv(ctx context.Context, name, accountID, phone string) (*Env, error) {
	envs, err := c.ListEnvs(ctx, "")
	if err != nil {
		return nil, err
	}

	var phoneMatch *Env
	for i := range envs {
		e := envs[i]
		if e.Name != name || e.Remarks == "" {
			continue
		}
		if strings.Contains(e.Remarks, accountID) {
			return &e, nil
		}
		if phoneMatch == nil && phone != "" && strings.Contains(e.Remarks, remarkTag+phone) {
			phoneMatch = &e
		}
	}
	return phoneMatch, nil
}

// Remark builds the 丨-delimited pseudo-index carried on every managed env.
func Remark(accountID, phone, owner, authDate string) string {
	return fmt.Sprintf("%s%s丨账号:%s丨用户:%s丨授权时间:%s丨胖乖管理", remarkTag, phone, accountID, owner, authDate)
}

// UpsertEnv stores the vendor token (URL-encoded) under name, keyed through
// the remark by account id and phone. A failed add is retried once through a
// short sleep and re-query so a concurrent add of the same record counts as
// success.
func (c *Client) UpsertEnv(ctx context.Context, name, token, accountID, phone, owner, authDate string) error {
	value := url.QueryEscape(token)
	remarks := Remark(accountID, phone, owner, authDate)

	existing, err := c.FindEnv(ctx, name, accountID, phone)
	if err != nil {
		return err
	}
	if existing != nil {
		id := existing.Identifier()
		if id == "" {
			return fmt.Errorf("found env for account %s without id", accountID)
		}
		if err := c.UpdateEnv(ctx, id, name, value, remarks); err != nil {
			return err
		}
		c.log.Info().Str("account", accountID).Str("id", id).Msg("panel env updated")
		return nil
	}

	addErr := c.AddEnv(ctx, name, value, remarks)
	if addErr == nil {
		c.log.Info().Str("account", accountID).Msg("panel env added")
		return nil
	}

	// A duplicate-value conflict, or any other add failure, may mean a
	// concurrent writer already created the record: re-query to converge.
	c.sleep(time.Second)
	check, err := c.FindEnv(ctx, name, accountID, phone)
	if err == nil && check != nil {
		c.log.Warn().Str("account", accountID).Msg("env add failed but record exists, treating as success")
		return nil
	}
	return fmt.Errorf("add env for account %s: %w", accountID, addErr)
}

// MatchAccount collects ids of envs named name whose remark references the
// account id or the tagged phone.
func MatchAccount(envs []Env, name, accountID, phone string) []string {
	var ids []string
	for _, e := range envs {
		if e.Name != name {
			continue
		}
		if !strings.Contains(e.Remarks, accountID) && !(phone != "" && strings.Contains(e.Remarks, remarkTag+phone)) {
			continue
		}
		if id := e.Identifier(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// DeleteAccountEnvs removes every panel variable belonging to the account,
// returning how many were deleted.
func (c *Client) DeleteAccountEnvs(ctx context.Context, name, accountID, phone string) (int, error) {
	envs, err := c.ListEnvs(ctx, "")
	if err != nil {
		return 0, err
	}
	ids := MatchAccount(envs, name, accountID, phone)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.DeleteEnvs(ctx, ids); err != nil {
		return 0, err
	}
	c.log.Info().Str("account", accountID).Strs("ids", ids).Msg("panel envs deleted")
	return len(ids), nil
}
