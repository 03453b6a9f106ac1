package types

import "time"

// ChatMessage is one entry in a gated room.
type ChatMessage struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// FundDetails describes the fund being proposed.
type FundDetails struct {
	Manager        string             `json:"manager"`
	Blockchain     string             `json:"blockchain"`
	BaseCurrency   string             `json:"base_currency"`
	Duration       string             `json:"duration"`
	StartDate      string             `json:"start_date"`
	RiskLevel      string             `json:"risk_level"`
	Allocation     map[string]float64 `json:"allocation"`
	Description    string             `json:"description"`
	PerformanceFee float64            `json:"performance_fee"`
	FeeWallet      string             `json:"fee_wallet"`
}

// ApplicantDetails describes who is applying.
type ApplicantDetails struct {
	Name                  string `json:"name"`
	Email                 string `json:"email"`
	XHandle               string `json:"x_handle"`
	TelegramHandle        string `json:"telegram_handle"`
	StakedAmount          string `json:"staked_amount"`
	Credentials           string `json:"credentials"`
	FurtherConsiderations string `json:"further_considerations,omitempty"`
}

// FundApplication is a fund-creation request from a Gold Partner or above.
type FundApplication struct {
	ID          string           `json:"id"`
	Wallet      string           `json:"wallet"`
	Fund        FundDetails      `json:"fund"`
	Applicant   ApplicantDetails `json:"applicant"`
	SubmittedAt time.Time        `json:"submitted_at"`
}
