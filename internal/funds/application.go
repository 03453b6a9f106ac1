// Package funds accepts fund-creation applications from Gold Partners and
// forwards them to the team's Telegram channel.
package funds

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

// RequiredTier is the minimum tier allowed to apply.
const RequiredTier = types.TierGoldPartner

// Messenger delivers a formatted application.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Service validates, gates and sends applications.
type Service struct {
	balances  access.BalanceSource
	messenger Messenger
	channelID string
	now       func() time.Time
}

func NewService(balances access.BalanceSource, messenger Messenger, channelID string) *Service {
	return &Service{
		balances:  balances,
		messenger: messenger,
		channelID: channelID,
		now:       time.Now,
	}
}

// Receipt is returned for an accepted application.
type Receipt struct {
	ID          string    `json:"id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Message     string    `json:"message"`
}

// Apply checks the applicant's balance, validates the form and sends it.
// A failed balance read is treated as zero rather than letting the
// application through.
func (s *Service) Apply(ctx context.Context, wallet common.Address, app types.FundApplication) (*Receipt, error) {
	if err := Validate(app); err != nil {
		return nil, err
	}

	snap, err := s.balances.FetchBalance(ctx, wallet)
	if err != nil {
		logging.Warn("fund application balance check failed", logging.Component("funds"), logging.Wallet(wallet.Hex()), logging.Err(err))
		snap = nil
	}
	if tier := access.ResolveSnapshot(snap); !tier.Meets(RequiredTier) {
		return nil, fmt.Errorf("%w: need at least %s SHEKEL to apply", types.ErrInsufficientTier, access.MinBalance(RequiredTier).StringFixed(0))
	}

	app.ID = uuid.NewString()
	app.Wallet = types.WalletKey(wallet)
	app.SubmittedAt = s.now().UTC()

	balance := decimal.Zero
	if snap != nil {
		balance = snap.Formatted()
	}
	text := FormatMessage(app, balance)
	if len(text) > maxMessageLen {
		return nil, &types.ValidationError{Field: "application", Reason: "too long to deliver"}
	}

	err = s.messenger.SendMessage(ctx, s.channelID, text)
	result := "success"
	if err != nil {
		result = "failure"
	}
	logging.Audit(logging.AuditEvent{
		Operation: "fund_application_sent",
		Actor:     app.Wallet,
		Target:    s.channelID,
		Result:    result,
		Details:   app.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("deliver application: %w", err)
	}

	return &Receipt{
		ID:          app.ID,
		SubmittedAt: app.SubmittedAt,
		Message:     "Thank you for your application! We will review it and get back to you shortly.",
	}, nil
}

// Validate rejects incomplete or inconsistent applications.
func Validate(app types.FundApplication) error {
	f, a := app.Fund, app.Applicant
	required := []struct {
		field, value string
	}{
		{"fund.manager", f.Manager},
		{"fund.blockchain", f.Blockchain},
		{"fund.base_currency", f.BaseCurrency},
		{"fund.duration", f.Duration},
		{"fund.risk_level", f.RiskLevel},
		{"fund.description", f.Description},
		{"applicant.name", a.Name},
		{"applicant.email", a.Email},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &types.ValidationError{Field: r.field, Reason: "required"}
		}
	}

	if _, err := mail.ParseAddress(a.Email); err != nil {
		return &types.ValidationError{Field: "applicant.email", Reason: "not a valid address"}
	}
	if strings.TrimSpace(a.XHandle) == "" && strings.TrimSpace(a.TelegramHandle) == "" {
		return &types.ValidationError{Field: "applicant", Reason: "an X or Telegram handle is required"}
	}
	if f.StartDate != "" {
		if _, err := time.Parse("2006-01-02", f.StartDate); err != nil {
			return &types.ValidationError{Field: "fund.start_date", Reason: "must be YYYY-MM-DD"}
		}
	}

	if len(f.Allocation) == 0 {
		return &types.ValidationError{Field: "fund.allocation", Reason: "required"}
	}
	total := 0.0
	for asset, pct := range f.Allocation {
		if pct < 0 || pct > 100 {
			return &types.ValidationError{Field: "fund.allocation." + asset, Reason: "must be between 0 and 100"}
		}
		total += pct
	}
	if total < 99.99 || total > 100.01 {
		return &types.ValidationError{Field: "fund.allocation", Reason: fmt.Sprintf("must total 100%%, got %.2f%%", total)}
	}

	if f.PerformanceFee < 0 || f.PerformanceFee > 100 {
		return &types.ValidationError{Field: "fund.performance_fee", Reason: "must be between 0 and 100"}
	}
	if f.PerformanceFee > 0 && strings.TrimSpace(f.FeeWallet) == "" {
		return &types.ValidationError{Field: "fund.fee_wallet", Reason: "required when a performance fee is set"}
	}
	return nil
}

// FormatMessage renders the application as the channel post.
func FormatMessage(app types.FundApplication, balance decimal.Decimal) string {
	f, a := app.Fund, app.Applicant
	var b strings.Builder

	b.WriteString("New Fund Application\n\n")
	fmt.Fprintf(&b, "Fund Manager: %s\n", f.Manager)
	fmt.Fprintf(&b, "Blockchain: %s\n", f.Blockchain)
	fmt.Fprintf(&b, "Base Currency: %s\n", f.BaseCurrency)
	fmt.Fprintf(&b, "Duration: %s\n", f.Duration)
	fmt.Fprintf(&b, "Start Date: %s\n", f.StartDate)
	fmt.Fprintf(&b, "Risk Level: %s\n\n", f.RiskLevel)

	b.WriteString("Allocation:\n")
	assets := make([]string, 0, len(f.Allocation))
	for asset := range f.Allocation {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		fmt.Fprintf(&b, "- %s: %s%%\n", asset, decimal.NewFromFloat(f.Allocation[asset]).String())
	}

	fmt.Fprintf(&b, "\nFund Description:\n%s\n\n", f.Description)
	b.WriteString("Fees:\n")
	fmt.Fprintf(&b, "- Additional Performance Fee: %s%%\n", decimal.NewFromFloat(f.PerformanceFee).String())
	fmt.Fprintf(&b, "- Performance Fee Wallet: %s\n\n", f.FeeWallet)

	b.WriteString("Applicant Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", a.Name)
	fmt.Fprintf(&b, "- Email: %s\n", a.Email)
	fmt.Fprintf(&b, "- X Handle: %s\n", a.XHandle)
	fmt.Fprintf(&b, "- Telegram: %s\n", a.TelegramHandle)
	fmt.Fprintf(&b, "- Staked SHEKEL Amount: %s\n", a.StakedAmount)
	fmt.Fprintf(&b, "- Connected Wallet Balance: %s SHEKEL\n", balance.StringFixed(2))
	fmt.Fprintf(&b, "- Wallet: %s\n", app.Wallet)
	fmt.Fprintf(&b, "- Application ID: %s\n\n", app.ID)

	fmt.Fprintf(&b, "Credentials:\n%s\n\n", a.Credentials)
	fmt.Fprintf(&b, "Further Considerations:\n%s", a.FurtherConsiderations)
	return b.String()
}
