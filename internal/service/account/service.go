package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pangguai-bot/internal/common/logger"
	"pangguai-bot/internal/platform/pangguai"
	"pangguai-bot/internal/platform/qinglong"
	"pangguai-bot/internal/store"
)

const dateLayout = "2006-01-02"

// AuthState classifies a stored authorization date.
type AuthState int

const (
	AuthNone    AuthState = iota // no date on record
	AuthActive                   // date is today or later
	AuthExpired                  // date has passed
	AuthInvalid                  // date on record but unparseable
)

// View is one account as shown in lists and menus.
type View struct {
	AccountID   string
	MaskedPhone string
	AuthDate    string
	State       AuthState
}

// LoginSummary reports the outcome of a completed login.
type LoginSummary struct {
	AccountID   string
	MaskedPhone string
	AuthDate    string
	Authorized  bool
}

// QueryResult is one account's balance report.
type QueryResult struct {
	AccountID     string
	MaskedPhone   string
	Balance       string
	Integral      string
	TodayIntegral int64
	TokenValid    bool
	AuthDate      string
	State         AuthState
}

// CleanStats summarizes an expired-account cleanup run.
type CleanStats struct {
	Removed     int
	EnvsDeleted int
}

// BulkStats counts per-account outcomes of a bulk operation.
type BulkStats struct {
	OK     int
	Failed int
}

// pendingLogin remembers the account being replaced while a login is in
// flight, so its authorization carries over to the new account id.
type pendingLogin struct {
	phone        string
	oldAccountID string
	authDate     string
}

// Service is the consolidated account core shared by every chat adapter and
// the scheduled sweep.
type Service struct {
	store   *store.Store
	vendor  VendorClient
	panel   PanelClient
	envName string
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]pendingLogin // chat-user id -> in-flight login
}

func New(st *store.Store, vendor VendorClient, panel PanelClient, envName string) *Service {
	return &Service{
		store:   st,
		vendor:  vendor,
		panel:   panel,
		envName: envName,
		log:     logger.With("account"),
		now:     time.Now,
		pending: make(map[string]pendingLogin),
	}
}

func (s *Service) today() time.Time {
	n := s.now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.Local)
}

func (s *Service) authState(date string) AuthState {
	if date == "" {
		return AuthNone
	}
	t, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return AuthInvalid
	}
	if t.Before(s.today()) {
		return AuthExpired
	}
	return AuthActive
}

// extend computes a new authorization date: an active date gains 30 days per
// month on top of itself, anything else restarts from today.
func (s *Service) extend(current string, months int) string {
	base := s.today()
	if t, err := time.ParseInLocation(dateLayout, current, time.Local); err == nil && t.After(base) {
		base = t
	}
	return base.AddDate(0, 0, 30*months).Format(dateLayout)
}

// adjust moves the stored date by a signed number of days. An absent or
// unparseable date counts from today.
func (s *Service) adjust(current string, days int) string {
	base := s.today()
	if t, err := time.ParseInLocation(dateLayout, current, time.Local); err == nil {
		base = t
	}
	return base.AddDate(0, 0, days).Format(dateLayout)
}

// BeginLogin dispatches an SMS code to phone. When the phone already belongs
// to one of the user's accounts, that account's authorization is remembered
// for transfer and its session records and panel envs are removed first.
func (s *Service) BeginLogin(ctx context.Context, userID, phone string) error {
	for _, acct := range s.store.Accounts(userID) {
		mobile, ok := s.store.Mobile(acct)
		if !ok || mobile != phone {
			continue
		}
		auth, _ := s.store.Auth(acct)
		s.mu.Lock()
		s.pending[userID] = pendingLogin{phone: phone, oldAccountID: acct, authDate: auth}
		s.mu.Unlock()

		if err := s.store.DeleteToken(acct); err != nil {
			return fmt.Errorf("clear old token: %w", err)
		}
		if err := s.store.DeleteMobile(acct); err != nil {
			return fmt.Errorf("clear old mobile: %w", err)
		}
		if _, err := s.panel.DeleteAccountEnvs(ctx, s.envName, acct, phone); err != nil {
			s.log.Warn().Err(err).Str("account", acct).Msg("delete stale panel envs")
		}
		break
	}
	return s.vendor.SendSMSCode(ctx, phone)
}

// CompleteLogin exchanges the SMS code for a session, persists the account
// and mirrors the token into the panel when the account is authorized.
func (s *Service) CompleteLogin(ctx context.Context, userID, phone, code string) (*LoginSummary, error) {
	res, err := s.vendor.LoginWithSMS(ctx, phone, code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	p, hadPending := s.pending[userID]
	delete(s.pending, userID)
	s.mu.Unlock()

	if err := s.store.SetMobile(res.AccountID, res.Phone); err != nil {
		return nil, fmt.Errorf("store mobile: %w", err)
	}
	if err := s.store.SetToken(res.AccountID, res.Token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	accounts := s.store.Accounts(userID)
	if hadPending && p.phone == phone && p.oldAccountID != res.AccountID {
		// The phone was re-registered under a new account id: move the
		// authorization over and drop the old id.
		if p.authDate != "" {
			if err := s.store.SetAuth(res.AccountID, p.authDate); err != nil {
				return nil, fmt.Errorf("transfer auth: %w", err)
			}
		}
		if err := s.store.DeleteAuth(p.oldAccountID); err != nil {
			return nil, fmt.Errorf("drop old auth: %w", err)
		}
		accounts = remove(accounts, p.oldAccountID)
	}
	accounts = append(accounts, res.AccountID)
	if err := s.store.SetAccounts(userID, accounts); err != nil {
		return nil, fmt.Errorf("store accounts: %w", err)
	}

	auth, _ := s.store.Auth(res.AccountID)
	authorized := s.authState(auth) == AuthActive
	if authorized {
		if err := s.panel.UpsertEnv(ctx, s.envName, res.Token, res.AccountID, res.Phone, userID, auth); err != nil {
			return nil, fmt.Errorf("mirror token to panel: %w", err)
		}
	}

	s.log.Info().Str("user", userID).Str("account", res.AccountID).
		Str("phone", res.MaskedPhone).Bool("authorized", authorized).Msg("login complete")
	return &LoginSummary{
		AccountID:   res.AccountID,
		MaskedPhone: res.MaskedPhone,
		AuthDate:    auth,
		Authorized:  authorized,
	}, nil
}

// List returns the user's accounts in stored order.
func (s *Service) List(userID string) []View {
	accounts := s.store.Accounts(userID)
	views := make([]View, 0, len(accounts))
	for _, acct := range accounts {
		views = append(views, s.view(acct))
	}
	return views
}

func (s *Service) view(accountID string) View {
	phone, _ := s.store.Mobile(accountID)
	auth, _ := s.store.Auth(accountID)
	return View{
		AccountID:   accountID,
		MaskedPhone: pangguai.MaskPhone(phone),
		AuthDate:    auth,
		State:       s.authState(auth),
	}
}

// Authorize grants months*30 days on top of an active authorization, or from
// today otherwise, and refreshes the panel env with the new date.
func (s *Service) Authorize(ctx context.Context, owner, accountID string, months int) (string, error) {
	current, _ := s.store.Auth(accountID)
	date := s.extend(current, months)
	if err := s.store.SetAuth(accountID, date); err != nil {
		return "", fmt.Errorf("store auth: %w", err)
	}
	if err := s.refreshEnv(ctx, owner, accountID, date); err != nil {
		return "", err
	}
	s.log.Info().Str("account", accountID).Str("until", date).Msg("account authorized")
	return date, nil
}

// AdjustDays shifts the authorization by a signed day count.
func (s *Service) AdjustDays(ctx context.Context, owner, accountID string, days int) (string, error) {
	current, _ := s.store.Auth(accountID)
	date := s.adjust(current, days)
	if err := s.store.SetAuth(accountID, date); err != nil {
		return "", fmt.Errorf("store auth: %w", err)
	}
	if err := s.refreshEnv(ctx, owner, accountID, date); err != nil {
		return "", err
	}
	s.log.Info().Str("account", accountID).Str("until", date).Int("days", days).Msg("authorization adjusted")
	return date, nil
}

// refreshEnv mirrors the stored token into the panel with the given auth
// date. Accounts without a live token or phone have nothing to mirror.
func (s *Service) refreshEnv(ctx context.Context, owner, accountID, date string) error {
	token, hasToken := s.store.Token(accountID)
	phone, hasPhone := s.store.Mobile(accountID)
	if !hasToken || !hasPhone {
		s.log.Debug().Str("account", accountID).Msg("no session to mirror, skipping panel update")
		return nil
	}
	if err := s.panel.UpsertEnv(ctx, s.envName, token, accountID, phone, owner, date); err != nil {
		return fmt.Errorf("refresh panel env: %w", err)
	}
	return nil
}

// Delete removes the account from the user's list, drops its records and
// deletes its panel envs.
func (s *Service) Delete(ctx context.Context, userID, accountID string) error {
	phone, _ := s.store.Mobile(accountID)

	accounts := remove(s.store.Accounts(userID), accountID)
	if err := s.store.SetAccounts(userID, accounts); err != nil {
		return fmt.Errorf("update account list: %w", err)
	}
	if err := s.store.DeleteToken(accountID); err != nil {
		return fmt.Errorf("drop token: %w", err)
	}
	if err := s.store.DeleteMobile(accountID); err != nil {
		return fmt.Errorf("drop mobile: %w", err)
	}
	if err := s.store.DeleteAuth(accountID); err != nil {
		return fmt.Errorf("drop auth: %w", err)
	}
	if _, err := s.panel.DeleteAccountEnvs(ctx, s.envName, accountID, phone); err != nil {
		s.log.Warn().Err(err).Str("account", accountID).Msg("delete panel envs")
	}
	s.log.Info().Str("user", userID).Str("account", accountID).Msg("account removed")
	return nil
}

// Query reports balances for every account of the user. A failed balance call
// marks the token invalid and removes the account's panel envs.
func (s *Service) Query(ctx context.Context, userID string) []QueryResult {
	accounts := s.store.Accounts(userID)
	results := make([]QueryResult, 0, len(accounts))
	for _, acct := range accounts {
		v := s.view(acct)
		r := QueryResult{
			AccountID:   acct,
			MaskedPhone: v.MaskedPhone,
			AuthDate:    v.AuthDate,
			State:       v.State,
		}
		token, ok := s.store.Token(acct)
		if ok {
			info, err := s.vendor.AccountInfo(ctx, token)
			if err == nil {
				r.TokenValid = true
				r.Balance = info.Balance
				r.Integral = info.Integral
				r.TodayIntegral = info.TodayIntegral
				results = append(results, r)
				continue
			}
			s.log.Warn().Err(err).Str("account", acct).Msg("balance query failed")
		}
		// Dead or missing session: the mirrored env is useless, drop it.
		phone, _ := s.store.Mobile(acct)
		if _, err := s.panel.DeleteAccountEnvs(ctx, s.envName, acct, phone); err != nil {
			s.log.Warn().Err(err).Str("account", acct).Msg("delete panel envs")
		}
		results = append(results, r)
	}
	return results
}

// allAccounts walks every user and yields each account id once, paired with
// the first user that owns it.
func (s *Service) allAccounts() []ownedAccount {
	var out []ownedAccount
	seen := make(map[string]bool)
	for _, userID := range s.store.UserIDs() {
		for _, acct := range s.store.Accounts(userID) {
			if seen[acct] {
				continue
			}
			seen[acct] = true
			out = append(out, ownedAccount{owner: userID, accountID: acct})
		}
	}
	return out
}

type ownedAccount struct {
	owner     string
	accountID string
}

// AuthorizeAll extends every known account. Per-account failures are counted
// and do not stop the walk.
func (s *Service) AuthorizeAll(ctx context.Context, months int) BulkStats {
	var stats BulkStats
	for _, oa := range s.allAccounts() {
		if _, err := s.Authorize(ctx, oa.owner, oa.accountID, months); err != nil {
			s.log.Error().Err(err).Str("account", oa.accountID).Msg("bulk authorize")
			stats.Failed++
			continue
		}
		stats.OK++
	}
	return stats
}

// AdjustAllDays shifts every known account's authorization by days.
func (s *Service) AdjustAllDays(ctx context.Context, days int) BulkStats {
	var stats BulkStats
	for _, oa := range s.allAccounts() {
		if _, err := s.AdjustDays(ctx, oa.owner, oa.accountID, days); err != nil {
			s.log.Error().Err(err).Str("account", oa.accountID).Msg("bulk adjust")
			stats.Failed++
			continue
		}
		stats.OK++
	}
	return stats
}

// CleanExpired removes every account whose authorization is not active, then
// batch-deletes their panel envs in a single list/delete round trip.
func (s *Service) CleanExpired(ctx context.Context) (CleanStats, error) {
	var stats CleanStats
	type removed struct {
		accountID string
		phone     string
	}
	var gone []removed

	for _, userID := range s.store.UserIDs() {
		kept := make([]string, 0)
		for _, acct := range s.store.Accounts(userID) {
			auth, _ := s.store.Auth(acct)
			if s.authState(auth) == AuthActive {
				kept = append(kept, acct)
				continue
			}
			phone, _ := s.store.Mobile(acct)
			gone = append(gone, removed{accountID: acct, phone: phone})
			if err := s.store.DeleteToken(acct); err != nil {
				return stats, fmt.Errorf("drop token: %w", err)
			}
			if err := s.store.DeleteMobile(acct); err != nil {
				return stats, fmt.Errorf("drop mobile: %w", err)
			}
			if err := s.store.DeleteAuth(acct); err != nil {
				return stats, fmt.Errorf("drop auth: %w", err)
			}
			stats.Removed++
		}
		if err := s.store.SetAccounts(userID, kept); err != nil {
			return stats, fmt.Errorf("update account list: %w", err)
		}
	}

	if len(gone) == 0 {
		return stats, nil
	}
	envs, err := s.panel.ListEnvs(ctx, "")
	if err != nil {
		return stats, fmt.Errorf("list panel envs: %w", err)
	}
	var ids []string
	for _, r := range gone {
		ids = append(ids, qinglong.MatchAccount(envs, s.envName, r.accountID, r.phone)...)
	}
	ids = dedupIDs(ids)
	if len(ids) > 0 {
		if err := s.panel.DeleteEnvs(ctx, ids); err != nil {
			return stats, fmt.Errorf("delete panel envs: %w", err)
		}
		stats.EnvsDeleted = len(ids)
	}
	s.log.Info().Int("removed", stats.Removed).Int("envs", stats.EnvsDeleted).Msg("expired accounts cleaned")
	return stats, nil
}

func remove(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}

func dedupIDs(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
