package funds

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/pkg/types"
)

var applicant = common.HexToAddress("0x00000000000000000000000000000000000000b2")

type staticBalance struct {
	whole int64
	err   error
}

func (s staticBalance) FetchBalance(ctx context.Context, owner common.Address) (*types.BalanceSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	raw := new(big.Int).Mul(big.NewInt(s.whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return &types.BalanceSnapshot{Owner: owner, RawAmount: raw, Decimals: 18, FetchedAt: time.Now()}, nil
}

type recordingMessenger struct {
	chatID string
	text   string
	err    error
	calls  int
}

func (m *recordingMessenger) SendMessage(ctx context.Context, chatID, text string) error {
	m.calls++
	m.chatID, m.text = chatID, text
	return m.err
}

func validApplication() types.FundApplication {
	return types.FundApplication{
		Fund: types.FundDetails{
			Manager:        "Rabbi Schlomo",
			Blockchain:     "Base",
			BaseCurrency:   "ETH",
			Duration:       "6 months",
			StartDate:      "2026-01-15",
			RiskLevel:      "Medium",
			Allocation:     map[string]float64{"ETH": 60, "USDC": 40},
			Description:    "Blue chip basket",
			PerformanceFee: 5,
			FeeWallet:      "0xfee",
		},
		Applicant: types.ApplicantDetails{
			Name:           "Moshe",
			Email:          "moshe@example.com",
			TelegramHandle: "@moshe",
			StakedAmount:   "2,000,000",
			Credentials:    "Ran a fund",
		},
	}
}

func TestApplySendsFormattedMessage(t *testing.T) {
	m := &recordingMessenger{}
	s := NewService(staticBalance{whole: 1_000_000}, m, "-100123")
	s.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	r, err := s.Apply(context.Background(), applicant, validApplication())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r.ID == "" || !r.SubmittedAt.Equal(s.now()) {
		t.Errorf("receipt = %+v", r)
	}
	if m.chatID != "-100123" {
		t.Errorf("chat id = %q", m.chatID)
	}
	for _, want := range []string{
		"New Fund Application",
		"Fund Manager: Rabbi Schlomo",
		"- ETH: 60%",
		"- USDC: 40%",
		"- Additional Performance Fee: 5%",
		"- Connected Wallet Balance: 1000000.00 SHEKEL",
		"- Application ID: " + r.ID,
		"- Wallet: 0x00000000000000000000000000000000000000b2",
	} {
		if !strings.Contains(m.text, want) {
			t.Errorf("message missing %q:\n%s", want, m.text)
		}
	}
}

func TestApplyRequiresGoldPartner(t *testing.T) {
	tests := []struct {
		name    string
		balance staticBalance
	}{
		{"holder", staticBalance{whole: 999_999}},
		{"balance read failed", staticBalance{err: &types.NetworkError{Op: "balanceOf", Err: errors.New("down")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingMessenger{}
			s := NewService(tt.balance, m, "chan")
			_, err := s.Apply(context.Background(), applicant, validApplication())
			if !errors.Is(err, types.ErrInsufficientTier) {
				t.Fatalf("err = %v, want ErrInsufficientTier", err)
			}
			if !strings.Contains(err.Error(), "1000000") {
				t.Errorf("err %q does not name the threshold", err)
			}
			if m.calls != 0 {
				t.Error("message sent for an ineligible wallet")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*types.FundApplication)
		field string
	}{
		{"missing manager", func(a *types.FundApplication) { a.Fund.Manager = " " }, "fund.manager"},
		{"bad email", func(a *types.FundApplication) { a.Applicant.Email = "nope" }, "applicant.email"},
		{"no handles", func(a *types.FundApplication) { a.Applicant.TelegramHandle = "" }, "applicant"},
		{"bad start date", func(a *types.FundApplication) { a.Fund.StartDate = "15/01/2026" }, "fund.start_date"},
		{"empty allocation", func(a *types.FundApplication) { a.Fund.Allocation = nil }, "fund.allocation"},
		{"allocation sum", func(a *types.FundApplication) { a.Fund.Allocation["ETH"] = 50 }, "fund.allocation"},
		{"allocation range", func(a *types.FundApplication) { a.Fund.Allocation = map[string]float64{"ETH": 140, "USDC": -40} }, "fund.allocation."},
		{"fee range", func(a *types.FundApplication) { a.Fund.PerformanceFee = 101 }, "fund.performance_fee"},
		{"fee wallet", func(a *types.FundApplication) { a.Fund.FeeWallet = "" }, "fund.fee_wallet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := validApplication()
			tt.edit(&app)
			var ve *types.ValidationError
			if err := Validate(app); !errors.As(err, &ve) || !strings.HasPrefix(ve.Field, tt.field) {
				t.Errorf("Validate = %v, want field %s", err, tt.field)
			}
		})
	}
	if err := Validate(validApplication()); err != nil {
		t.Errorf("valid application rejected: %v", err)
	}
}

func TestBotSendMessage(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123456:token/sendMessage" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	bot := NewBot(srv.URL, "123456:token", srv.Client())
	if err := bot.SendMessage(context.Background(), "-100", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.ChatID != "-100" || got.Text != "hello" {
		t.Errorf("payload = %+v", got)
	}
}

func TestBotSendMessageErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := NewBot(srv.URL, "t", srv.Client()).SendMessage(context.Background(), "x", "y")
	var ne *types.NetworkError
	if !errors.As(err, &ne) || ne.Status != 400 || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v, want NetworkError carrying the description", err)
	}

	if err := NewBot(srv.URL, "", nil).SendMessage(context.Background(), "x", "y"); err == nil {
		t.Error("SendMessage without a token succeeded")
	}
}

func TestApplyDeliveryFailure(t *testing.T) {
	m := &recordingMessenger{err: &types.NetworkError{Op: "telegram sendMessage", Status: 502, Err: errors.New("bad gateway")}}
	s := NewService(staticBalance{whole: 20_000_000}, m, "chan")
	if _, err := s.Apply(context.Background(), applicant, validApplication()); !types.IsNetworkError(err) {
		t.Errorf("err = %v, want NetworkError", err)
	}
}
