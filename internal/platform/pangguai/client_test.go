package pangguai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignMatchesVendorScheme(t *testing.T) {
	// Golden digests for the exact vendor concatenation, including the
	// "×tamp" byte sequence.
	assert.Equal(t,
		"37bab10ac3bf1a3383d47ff0d00ed6695e1d2c98c5cc0e1afe2227af589663ab",
		sign(1700000000000, "tok123", "/user/info"))
	assert.Equal(t,
		"02516f9d96e69aadc0499063faf8e00b348ea15b49a3e987393e11ad242dd5fc",
		sign(1700000000000, "", "/common/sms/sendCode"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "138****8000", MaskPhone("13800138000"))
	assert.Equal(t, "159****4321", MaskPhone("15987654321"))
	// Not an 11-digit phone: rendered unchanged.
	assert.Equal(t, "12345", MaskPhone("12345"))
	assert.Equal(t, "", MaskPhone(""))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "onebot")
	c.now = func() time.Time { return time.Date(2026, 8, 27, 12, 0, 0, 0, time.Local) }
	return c
}

func TestSendSMSCode(t *testing.T) {
	var gotSign, gotTimestamp string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/common/sms/sendCode", r.URL.Path)
		gotSign = r.Header.Get("sign")
		gotTimestamp = r.Header.Get("timestamp")
		w.Write([]byte(`{"code":0,"msg":"成功","data":true}`))
	}))

	require.NoError(t, c.SendSMSCode(context.Background(), "13800138000"))
	// The request must carry the signature of exactly the signed fields.
	ts := time.Date(2026, 8, 27, 12, 0, 0, 0, time.Local).UnixMilli()
	assert.Equal(t, sign(ts, "", "/common/sms/sendCode"), gotSign)
	assert.NotEmpty(t, gotTimestamp)
}

func TestSendSMSCodeVendorRefusal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1,"msg":"发送过于频繁"}`))
	}))
	err := c.SendSMSCode(context.Background(), "13800138000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "发送过于频繁")
}

func TestSendSMSCodeRequiresLiteralSuccessMessage(t *testing.T) {
	// code==0 alone is not enough; the message must be the literal "成功".
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}))
	assert.Error(t, c.SendSMSCode(context.Background(), "13800138000"))
}

func TestLoginWithSMSVerifiesFreshToken(t *testing.T) {
	var infoAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/reg":
			w.Write([]byte(`{"code":0,"msg":"成功","data":{"token":"T1"}}`))
		case "/user/info":
			infoAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{"code":0,"msg":"成功","data":{"phone":"13800138000","id":900001}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	res, err := c.LoginWithSMS(context.Background(), "13800138000", "1234")
	require.NoError(t, err)
	assert.Equal(t, "T1", res.Token)
	assert.Equal(t, "900001", res.AccountID)
	assert.Equal(t, "138****8000", res.MaskedPhone)
	assert.Equal(t, "T1", infoAuth)
}

func TestLoginWithSMSFailsWhenVerifyFails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/reg":
			w.Write([]byte(`{"code":0,"msg":"成功","data":{"token":"T-dead"}}`))
		case "/user/info":
			w.Write([]byte(`{"code":401,"msg":"token 无效"}`))
		}
	}))
	_, err := c.LoginWithSMS(context.Background(), "13800138000", "1234")
	assert.Error(t, err)
}

func TestAccountInfoSumsTodayIntegral(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/balance":
			w.Write([]byte(`{"code":0,"msg":"成功","data":{"balance":12.5,"integral":320}}`))
		case "/integralRecord/pageList":
			w.Write([]byte(`{"code":0,"msg":"成功","data":{"items":[
				{"receivedTime":"2026-08-27 08:18:00","amount":5},
				{"receivedTime":"2026-08-27 12:18:00","amount":7},
				{"receivedTime":"2026-08-26 16:18:00","amount":100}
			]}}`))
		}
	}))

	info, err := c.AccountInfo(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "12.5", info.Balance)
	assert.Equal(t, "320", info.Integral)
	assert.EqualValues(t, 12, info.TodayIntegral)
}

func TestAccountInfoDegradesWhenRecordsFail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/balance":
			w.Write([]byte(`{"code":0,"msg":"成功","data":{"balance":3,"integral":10}}`))
		case "/integralRecord/pageList":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))

	info, err := c.AccountInfo(context.Background(), "T1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.TodayIntegral)
}

func TestAccountInfoFailsWhenBalanceFails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":401,"msg":"token 无效"}`))
	}))
	_, err := c.AccountInfo(context.Background(), "T-dead")
	assert.Error(t, err)
}
