package account

import (
	"context"

	"pangguai-bot/internal/platform/pangguai"
	"pangguai-bot/internal/platform/qinglong"
)

// VendorClient is the slice of the PangGuai API the service depends on.
type VendorClient interface {
	SendSMSCode(ctx context.Context, phone string) error
	LoginWithSMS(ctx context.Context, phone, code string) (*pangguai.LoginResult, error)
	VerifyToken(ctx context.Context, token string) (*pangguai.UserInfo, error)
	AccountInfo(ctx context.Context, token string) (*pangguai.AccountInfo, error)
}

// PanelClient is the slice of the Qinglong API the service depends on.
type PanelClient interface {
	ListEnvs(ctx context.Context, search string) ([]qinglong.Env, error)
	DeleteEnvs(ctx context.Context, ids []string) error
	UpsertEnv(ctx context.Context, name, token, accountID, phone, owner, authDate string) error
	DeleteAccountEnvs(ctx context.Context, name, accountID, phone string) (int, error)
}
