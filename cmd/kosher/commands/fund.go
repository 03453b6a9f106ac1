package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/koshercapital/kosher/internal/funds"
	"github.com/koshercapital/kosher/pkg/types"
)

func NewFundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Fund creation applications",
	}
	cmd.AddCommand(newFundApplyCmd())
	return cmd
}

func newFundApplyCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply to launch a fund",
		Long: `Submits a fund application to the Kosher Capital team.

Provide the application as a YAML or JSON file with --file, or fill it in
interactively. Only wallets holding enough tokens may apply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				app types.FundApplication
				err error
			)
			switch {
			case file != "":
				app, err = loadApplication(file)
			case isTTY():
				app, err = promptApplication()
			default:
				return errors.New("--file is required on a non-interactive terminal")
			}
			if err != nil {
				return err
			}
			if err := funds.Validate(app); err != nil {
				return err
			}

			c, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			receipt, err := c.ApplyForFund(ctx, app)
			if err != nil {
				return explain(err)
			}
			if jsonOutput() {
				return printJSON(receipt)
			}
			fmt.Println(StyleSuccess.Render(receipt.Message))
			fmt.Println(StyleMuted.Render("Reference: " + receipt.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Application file (YAML or JSON)")
	return cmd
}

// loadApplication reads YAML or JSON keyed by the API's field names.
func loadApplication(path string) (types.FundApplication, error) {
	var app types.FundApplication
	data, err := os.ReadFile(path)
	if err != nil {
		return app, err
	}
	// Decode through a generic tree so the json tags define the keys for both
	// formats.
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return app, fmt.Errorf("parse %s: %w", path, err)
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return app, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &app); err != nil {
		return app, fmt.Errorf("parse %s: %w", path, err)
	}
	return app, nil
}

// parseAllocation reads "BTC=60, ETH=40" into percentages.
func parseAllocation(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		asset, pct, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("allocation %q: want ASSET=PERCENT", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(pct, "%")), 64)
		if err != nil {
			return nil, fmt.Errorf("allocation %q: %w", part, err)
		}
		out[strings.ToUpper(strings.TrimSpace(asset))] = v
	}
	return out, nil
}

func notBlank(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func promptApplication() (types.FundApplication, error) {
	var (
		app        types.FundApplication
		allocation string
		fee        string
	)
	f, a := &app.Fund, &app.Applicant

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Your name").Value(&a.Name).Validate(notBlank("name")),
			huh.NewInput().Title("Email").Value(&a.Email).Validate(notBlank("email")),
			huh.NewInput().Title("X handle").Value(&a.XHandle),
			huh.NewInput().Title("Telegram handle").Value(&a.TelegramHandle),
			huh.NewText().Title("Credentials").Description("Track record and relevant experience").Value(&a.Credentials),
		),
		huh.NewGroup(
			huh.NewInput().Title("Fund manager").Value(&f.Manager).Validate(notBlank("manager")),
			huh.NewSelect[string]().
				Title("Blockchain").
				Options(huh.NewOptions("Base", "Solana", "Ethereum")...).
				Value(&f.Blockchain),
			huh.NewInput().Title("Base currency").Placeholder("USDC").Value(&f.BaseCurrency).Validate(notBlank("base currency")),
			huh.NewInput().Title("Duration").Placeholder("6 months").Value(&f.Duration).Validate(notBlank("duration")),
			huh.NewInput().Title("Start date").Placeholder("YYYY-MM-DD").Value(&f.StartDate),
			huh.NewSelect[string]().
				Title("Risk level").
				Options(huh.NewOptions("Low", "Medium", "High")...).
				Value(&f.RiskLevel),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Allocation").
				Description("Comma separated ASSET=PERCENT, totalling 100").
				Placeholder("BTC=60, ETH=40").
				Value(&allocation).
				Validate(func(s string) error {
					_, err := parseAllocation(s)
					return err
				}),
			huh.NewInput().Title("Performance fee %").Placeholder("0").Value(&fee),
			huh.NewInput().Title("Fee wallet").Value(&f.FeeWallet),
			huh.NewText().Title("Fund description").Value(&f.Description).Validate(notBlank("description")),
			huh.NewText().Title("Anything else?").Value(&a.FurtherConsiderations),
		),
	)
	if err := form.Run(); err != nil {
		return app, err
	}

	alloc, err := parseAllocation(allocation)
	if err != nil {
		return app, err
	}
	f.Allocation = alloc
	if strings.TrimSpace(fee) != "" {
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(fee), "%"), 64)
		if err != nil {
			return app, fmt.Errorf("performance fee: %w", err)
		}
		f.PerformanceFee = v
	}
	return app, nil
}
