package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pangguai-bot/internal/common/logger"
	"pangguai-bot/internal/platform/pangguai"
	"pangguai-bot/internal/platform/qinglong"
	"pangguai-bot/internal/store"
)

const dateLayout = "2006-01-02"

// Notifier delivers sweep results to the account owner's chat.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, message string) error
}

// VendorClient is the slice of the PangGuai API the sweep depends on.
type VendorClient interface {
	VerifyToken(ctx context.Context, token string) (*pangguai.UserInfo, error)
}

// PanelClient is the slice of the Qinglong API the sweep depends on.
type PanelClient interface {
	ListEnvs(ctx context.Context, search string) ([]qinglong.Env, error)
	DeleteEnvs(ctx context.Context, ids []string) error
}

// Service re-verifies every stored session on a cron schedule, notifying
// owners and pruning panel variables for sessions that died or whose
// authorization ran out.
type Service struct {
	store    *store.Store
	vendor   VendorClient
	panel    PanelClient
	notifier Notifier
	envName  string
	spec     string
	cron     *cron.Cron
	log      zerolog.Logger
	now      func() time.Time
}

func New(st *store.Store, vendor VendorClient, panel PanelClient, notifier Notifier, envName, spec string) *Service {
	return &Service{
		store:    st,
		vendor:   vendor,
		panel:    panel,
		notifier: notifier,
		envName:  envName,
		spec:     spec,
		log:      logger.With("sweep"),
		now:      time.Now,
	}
}

// Start registers the cron job and begins scheduling.
func (s *Service) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("token sweep scheduled")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce sweeps every known account exactly once. The panel env list is
// fetched a single time up front; every per-account failure is logged and the
// walk continues.
func (s *Service) RunOnce(ctx context.Context) {
	envs, err := s.panel.ListEnvs(ctx, "")
	if err != nil {
		s.log.Error().Err(err).Msg("list panel envs, sweep will skip env deletion")
		envs = nil
	}

	seen := make(map[string]bool)
	checked, flagged := 0, 0
	for _, userID := range s.store.UserIDs() {
		for _, acct := range s.store.Accounts(userID) {
			if seen[acct] {
				continue
			}
			seen[acct] = true
			checked++
			if s.checkAccount(ctx, envs, userID, acct) {
				flagged++
			}
		}
	}
	s.log.Info().Int("checked", checked).Int("flagged", flagged).Msg("token sweep finished")
}

// checkAccount verifies one account, reporting true when it was flagged.
func (s *Service) checkAccount(ctx context.Context, envs []qinglong.Env, userID, accountID string) bool {
	phone, _ := s.store.Mobile(accountID)
	masked := pangguai.MaskPhone(phone)

	token, ok := s.store.Token(accountID)
	if !ok {
		s.notify(ctx, userID, fmt.Sprintf("【胖乖】账号 %s 未找到登录凭证，请重新登录", masked))
		return true
	}

	if _, err := s.vendor.VerifyToken(ctx, token); err != nil {
		s.log.Warn().Err(err).Str("account", accountID).Msg("token no longer valid")
		s.dropEnvs(ctx, envs, accountID, phone)
		s.notify(ctx, userID, fmt.Sprintf("【胖乖】账号 %s 登录已失效，已移除面板变量，请重新登录", masked))
		return true
	}

	auth, _ := s.store.Auth(accountID)
	if expired, date := authPassed(auth, s.now()); expired {
		s.dropEnvs(ctx, envs, accountID, phone)
		s.notify(ctx, userID, fmt.Sprintf("【胖乖】账号 %s 授权已于 %s 到期，已移除面板变量", masked, date))
		return true
	}
	return false
}

// authPassed reports whether the stored date is parseable and strictly before
// today. Accounts without a usable date are left to the cleanup command.
func authPassed(date string, now time.Time) (bool, string) {
	if date == "" {
		return false, ""
	}
	t, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return false, ""
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	return t.Before(today), date
}

func (s *Service) dropEnvs(ctx context.Context, envs []qinglong.Env, accountID, phone string) {
	ids := qinglong.MatchAccount(envs, s.envName, accountID, phone)
	if len(ids) == 0 {
		return
	}
	if err := s.panel.DeleteEnvs(ctx, ids); err != nil {
		s.log.Error().Err(err).Str("account", accountID).Msg("delete panel envs")
		return
	}
	s.log.Info().Str("account", accountID).Strs("ids", ids).Msg("stale panel envs removed")
}

func (s *Service) notify(ctx context.Context, userID, message string) {
	if err := s.notifier.NotifyUser(ctx, userID, message); err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("notify owner")
	}
}
