package account

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pangguai-bot/internal/platform/pangguai"
	"pangguai-bot/internal/platform/qinglong"
	"pangguai-bot/internal/store"
)

type fakeVendor struct {
	smsSent     []string
	smsErr      error
	loginResult *pangguai.LoginResult
	loginErr    error
	info        *pangguai.AccountInfo
	infoErr     error
}

func (f *fakeVendor) SendSMSCode(_ context.Context, phone string) error {
	f.smsSent = append(f.smsSent, phone)
	return f.smsErr
}

func (f *fakeVendor) LoginWithSMS(context.Context, string, string) (*pangguai.LoginResult, error) {
	return f.loginResult, f.loginErr
}

func (f *fakeVendor) VerifyToken(context.Context, string) (*pangguai.UserInfo, error) {
	return nil, errors.New("not used")
}

func (f *fakeVendor) AccountInfo(context.Context, string) (*pangguai.AccountInfo, error) {
	return f.info, f.infoErr
}

type upsertCall struct {
	token, accountID, phone, owner, authDate string
}

type fakePanel struct {
	envs            []qinglong.Env
	upserts         []upsertCall
	deletedAccounts []string
	deletedIDs      []string
}

func (f *fakePanel) ListEnvs(context.Context, string) ([]qinglong.Env, error) {
	return f.envs, nil
}

func (f *fakePanel) DeleteEnvs(_ context.Context, ids []string) error {
	f.deletedIDs = append(f.deletedIDs, ids...)
	return nil
}

func (f *fakePanel) UpsertEnv(_ context.Context, _, token, accountID, phone, owner, authDate string) error {
	f.upserts = append(f.upserts, upsertCall{token, accountID, phone, owner, authDate})
	return nil
}

func (f *fakePanel) DeleteAccountEnvs(_ context.Context, _, accountID, _ string) (int, error) {
	f.deletedAccounts = append(f.deletedAccounts, accountID)
	return 1, nil
}

func newTestService(t *testing.T) (*Service, *fakeVendor, *fakePanel, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data.json"))
	require.NoError(t, err)
	vendor := &fakeVendor{}
	panel := &fakePanel{}
	svc := New(st, vendor, panel, "pangguai")
	svc.now = func() time.Time { return time.Date(2026, 8, 27, 10, 0, 0, 0, time.Local) }
	return svc, vendor, panel, st
}

func TestExtendRules(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	cases := []struct {
		name    string
		current string
		months  int
		want    string
	}{
		{"absent restarts from today", "", 1, "2026-09-26"},
		{"today restarts from today", "2026-08-27", 1, "2026-09-26"},
		{"expired restarts from today", "2020-01-01", 2, "2026-10-26"},
		{"active extends in place", "2026-09-10", 1, "2026-10-10"},
		{"garbage behaves as absent", "not-a-date", 1, "2026-09-26"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, svc.extend(tc.current, tc.months))
		})
	}
}

func TestAdjustRules(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	assert.Equal(t, "2026-09-05", svc.adjust("2026-09-10", -5))
	assert.Equal(t, "2026-08-30", svc.adjust("", 3))
	assert.Equal(t, "2026-08-24", svc.adjust("bad", -3))
}

func TestLoginThenAuthorize(t *testing.T) {
	svc, vendor, panel, st := newTestService(t)
	ctx := context.Background()
	vendor.loginResult = &pangguai.LoginResult{
		UserInfo: pangguai.UserInfo{Phone: "13800138000", AccountID: "A1", MaskedPhone: "138****8000"},
		Token:    "T1",
	}

	require.NoError(t, svc.BeginLogin(ctx, "10001", "13800138000"))
	assert.Equal(t, []string{"13800138000"}, vendor.smsSent)

	sum, err := svc.CompleteLogin(ctx, "10001", "13800138000", "1234")
	require.NoError(t, err)
	assert.Equal(t, "A1", sum.AccountID)
	assert.Equal(t, "138****8000", sum.MaskedPhone)
	assert.False(t, sum.Authorized)
	assert.Empty(t, panel.upserts, "unauthorized login must not touch the panel")

	token, ok := st.Token("A1")
	require.True(t, ok)
	assert.Equal(t, "T1", token)
	assert.Equal(t, []string{"A1"}, st.Accounts("10001"))

	date, err := svc.Authorize(ctx, "10001", "A1", 1)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-26", date)
	require.Len(t, panel.upserts, 1)
	up := panel.upserts[0]
	assert.Equal(t, upsertCall{"T1", "A1", "13800138000", "10001", "2026-09-26"}, up)
}

func TestRepeatLoginTransfersAuthorization(t *testing.T) {
	svc, vendor, panel, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.SetAccounts("10001", []string{"A1"}))
	require.NoError(t, st.SetMobile("A1", "13800138000"))
	require.NoError(t, st.SetToken("A1", "T1"))
	require.NoError(t, st.SetAuth("A1", "2026-12-31"))

	// The phone was re-registered upstream: logging in again yields a fresh
	// account id carrying the same phone.
	vendor.loginResult = &pangguai.LoginResult{
		UserInfo: pangguai.UserInfo{Phone: "13800138000", AccountID: "A2", MaskedPhone: "138****8000"},
		Token:    "T2",
	}

	require.NoError(t, svc.BeginLogin(ctx, "10001", "13800138000"))
	assert.Equal(t, []string{"A1"}, panel.deletedAccounts)
	_, hasToken := st.Token("A1")
	assert.False(t, hasToken)

	sum, err := svc.CompleteLogin(ctx, "10001", "13800138000", "1234")
	require.NoError(t, err)
	assert.True(t, sum.Authorized)
	assert.Equal(t, "2026-12-31", sum.AuthDate)

	assert.Equal(t, []string{"A2"}, st.Accounts("10001"))
	_, hasOldAuth := st.Auth("A1")
	assert.False(t, hasOldAuth)
	require.Len(t, panel.upserts, 1)
	assert.Equal(t, upsertCall{"T2", "A2", "13800138000", "10001", "2026-12-31"}, panel.upserts[0])
}

func TestAuthorizeWithoutSessionSkipsPanel(t *testing.T) {
	svc, _, panel, st := newTestService(t)

	require.NoError(t, st.SetAccounts("10001", []string{"A1"}))
	date, err := svc.Authorize(context.Background(), "10001", "A1", 2)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-26", date)
	assert.Empty(t, panel.upserts)

	auth, ok := st.Auth("A1")
	require.True(t, ok)
	assert.Equal(t, "2026-10-26", auth)
}

func TestDeleteRemovesEverything(t *testing.T) {
	svc, _, panel, st := newTestService(t)

	require.NoError(t, st.SetAccounts("10001", []string{"A1", "A2"}))
	require.NoError(t, st.SetMobile("A1", "13800138000"))
	require.NoError(t, st.SetToken("A1", "T1"))
	require.NoError(t, st.SetAuth("A1", "2026-12-31"))

	require.NoError(t, svc.Delete(context.Background(), "10001", "A1"))
	assert.Equal(t, []string{"A2"}, st.Accounts("10001"))
	_, hasToken := st.Token("A1")
	_, hasMobile := st.Mobile("A1")
	_, hasAuth := st.Auth("A1")
	assert.False(t, hasToken)
	assert.False(t, hasMobile)
	assert.False(t, hasAuth)
	assert.Equal(t, []string{"A1"}, panel.deletedAccounts)
}

func TestQueryInvalidTokenDropsPanelEnvs(t *testing.T) {
	svc, vendor, panel, st := newTestService(t)

	require.NoError(t, st.SetAccounts("10001", []string{"A1"}))
	require.NoError(t, st.SetMobile("A1", "13800138000"))
	require.NoError(t, st.SetToken("A1", "TBAD"))
	vendor.infoErr = errors.New("登录失效")

	results := svc.Query(context.Background(), "10001")
	require.Len(t, results, 1)
	assert.False(t, results[0].TokenValid)
	assert.Equal(t, []string{"A1"}, panel.deletedAccounts)
}

func TestQueryReportsBalances(t *testing.T) {
	svc, vendor, panel, st := newTestService(t)

	require.NoError(t, st.SetAccounts("10001", []string{"A1"}))
	require.NoError(t, st.SetMobile("A1", "13800138000"))
	require.NoError(t, st.SetToken("A1", "T1"))
	require.NoError(t, st.SetAuth("A1", "2026-12-31"))
	vendor.info = &pangguai.AccountInfo{Balance: "12.5", Integral: "300", TodayIntegral: 12}

	results := svc.Query(context.Background(), "10001")
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.TokenValid)
	assert.Equal(t, "12.5", r.Balance)
	assert.Equal(t, "300", r.Integral)
	assert.EqualValues(t, 12, r.TodayIntegral)
	assert.Equal(t, AuthActive, r.State)
	assert.Empty(t, panel.deletedAccounts)
}

func TestCleanExpired(t *testing.T) {
	svc, _, panel, st := newTestService(t)

	require.NoError(t, st.SetAccounts("10001", []string{"A1", "A2"}))
	require.NoError(t, st.SetMobile("A1", "13800138000"))
	require.NoError(t, st.SetAuth("A1", "2026-12-31")) // stays
	require.NoError(t, st.SetMobile("A2", "13900139000"))
	require.NoError(t, st.SetToken("A2", "T2"))
	require.NoError(t, st.SetAuth("A2", "2026-01-01")) // expired
	panel.envs = []qinglong.Env{
		{ID: 7, Name: "pangguai", Remarks: qinglong.Remark("A2", "13900139000", "10001", "2026-01-01")},
		{ID: 8, Name: "pangguai", Remarks: qinglong.Remark("A1", "13800138000", "10001", "2026-12-31")},
	}

	stats, err := svc.CleanExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.EnvsDeleted)
	assert.Equal(t, []string{"7"}, panel.deletedIDs)
	assert.Equal(t, []string{"A1"}, st.Accounts("10001"))
	_, hasToken := st.Token("A2")
	assert.False(t, hasToken)
}

func TestBulkAuthorizeDeduplicatesAcrossUsers(t *testing.T) {
	svc, _, panel, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.SetAccounts("10001", []string{"A1"}))
	require.NoError(t, st.SetAccounts("10002", []string{"A1", "A2"}))
	require.NoError(t, st.SetMobile("A1", "13800138000"))
	require.NoError(t, st.SetToken("A1", "T1"))

	stats := svc.AuthorizeAll(ctx, 1)
	assert.Equal(t, 2, stats.OK)
	assert.Equal(t, 0, stats.Failed)
	// A1 has a session so it is mirrored once; A2 has none.
	require.Len(t, panel.upserts, 1)
	assert.Equal(t, "A1", panel.upserts[0].accountID)

	a1, _ := st.Auth("A1")
	a2, _ := st.Auth("A2")
	assert.Equal(t, "2026-09-26", a1)
	assert.Equal(t, "2026-09-26", a2)
}
