package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/models"
)

// AddCostOptions holds flags for the add-cost command.
type AddCostOptions struct {
	*RootOptions
	Payer       string
	Splits      []string
	Category    string
	Description string
}

// NewAddCostCommand creates the add-cost command.
func NewAddCostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddCostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add-cost GROUP_ID AMOUNT",
		Short: "Record a shared cost",
		Long: `Record a cost paid for the group.

Without --split the cost is divided evenly across everyone in the group,
including people who join later. With --split each participant owes a fixed
amount. Participants are member ids, guest names, guest:<token>, or "me".
Use --payer none for a purchase nobody in the group paid for.`,
		Example: `  tripledger add-cost 7f3c 120.50 -m "Dinner"
  tripledger add-cost 7f3c 90 --payer Sam --split me=30 --split bob=60`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAddCost(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Payer, "payer", selfAlias, "who paid, or 'none'")
	cmd.Flags().StringArrayVar(&opts.Splits, "split", nil, "fixed share as participant=amount (repeatable)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "cost category")
	cmd.Flags().StringVarP(&opts.Description, "description", "m", "", "what the cost was for")

	return cmd
}

func runAddCost(cmd *cobra.Command, opts *AddCostOptions, groupID, amountArg string) error {
	ctx := cmd.Context()
	amount, err := parseAmount(amountArg)
	if err != nil {
		return err
	}

	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := s.ctrl.Group(ctx, groupID)
	if err != nil {
		return err
	}

	rec := models.CostRecord{
		GroupID:     g.ID,
		Kind:        models.KindCost,
		Amount:      amount,
		Category:    opts.Category,
		Description: opts.Description,
	}
	if opts.Payer != "none" {
		payer, err := resolveParticipant(g, s.member, opts.Payer)
		if err != nil {
			return err
		}
		rec.Payer = &payer
	}
	if len(opts.Splits) == 0 {
		rec.AutoSplit = true
	} else {
		rec.SplitAmong, err = parseShares(g, s.member, opts.Splits)
		if err != nil {
			return err
		}
	}

	saved, err := s.ctrl.AddCost(ctx, rec)
	if err != nil {
		return err
	}
	return printRecord(cmd, opts.RootOptions, saved)
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "settle GROUP_ID FROM TO AMOUNT",
		Short:   "Record a payment between two participants",
		Example: `  tripledger settle 7f3c me bob 45`,
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := parseAmount(args[3])
			if err != nil {
				return err
			}

			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			g, err := s.ctrl.Group(ctx, args[0])
			if err != nil {
				return err
			}
			from, err := resolveParticipant(g, s.member, args[1])
			if err != nil {
				return err
			}
			to, err := resolveParticipant(g, s.member, args[2])
			if err != nil {
				return err
			}

			saved, err := s.ctrl.RecordSettlement(ctx, g.ID, from, to, amount)
			if err != nil {
				return err
			}
			return printRecord(cmd, opts, saved)
		},
	}
}

func printRecord(cmd *cobra.Command, opts *RootOptions, rec models.CostRecord) error {
	if opts.Format == "json" {
		return writeJSON(cmd, rec)
	}
	what := "Cost"
	if rec.Kind == models.KindSettlement {
		what = "Settlement"
	}
	printf(cmd, "%s of %s recorded %s\n", what, rec.Amount.StringFixed(2), mutedStyle.Render(rec.ID.String()))
	if rec.ID.IsLocal() {
		printf(cmd, "%s\n", warnStyle.Render("Queued until the server is reachable."))
	}
	return nil
}

// NewCostsCommand creates the costs command.
func NewCostsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "costs GROUP_ID",
		Short: "List the costs and settlements of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.ctrl.Costs(ctx, args[0])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				if recs == nil {
					recs = []models.CostRecord{}
				}
				return writeJSON(cmd, recs)
			}
			if len(recs) == 0 {
				printf(cmd, "%s\n", mutedStyle.Render("No costs recorded."))
				return nil
			}

			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				payer := mutedStyle.Render("none")
				if r.Payer != nil {
					payer = r.Payer.Label()
				}
				split := "even"
				if !r.AutoSplit {
					split = fmt.Sprintf("%d fixed", len(r.SplitAmong))
				}
				date := r.CreatedAt.Local().Format(time.DateOnly)
				if r.ID.IsLocal() {
					date += " " + warnStyle.Render("*")
				}
				rows = append(rows, []string{date, string(r.Kind), r.Amount.StringFixed(2), payer, split, r.Description})
			}
			printf(cmd, "%s\n", renderTable([]string{"Date", "Kind", "Amount", "Paid by", "Split", "Description"}, rows))
			return nil
		},
	}
}

type balanceRow struct {
	Participant models.Participant `json:"participant"`
	Paid        decimal.Decimal    `json:"paid"`
	Owed        decimal.Decimal    `json:"owed"`
	Net         decimal.Decimal    `json:"net"`
}

type transferRow struct {
	From   models.Participant `json:"from"`
	To     models.Participant `json:"to"`
	Amount decimal.Decimal    `json:"amount"`
}

type summaryOutput struct {
	GroupID    string          `json:"group_id"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	Records    int             `json:"records"`
	Balances   []balanceRow    `json:"balances"`
	Transfers  []transferRow   `json:"transfers"`
	Pending    int             `json:"pending"`
}

func newSummaryOutput(sum ledger.Summary, pending int) summaryOutput {
	out := summaryOutput{
		GroupID:    sum.GroupID,
		TotalSpent: sum.TotalSpent,
		Records:    sum.Records,
		Balances:   make([]balanceRow, 0, len(sum.Balances)),
		Transfers:  make([]transferRow, 0, len(sum.Transfers)),
		Pending:    pending,
	}
	for _, b := range sum.Balances {
		out.Balances = append(out.Balances, balanceRow{Participant: b.Participant, Paid: b.Paid, Owed: b.Owed, Net: b.Net})
	}
	for _, t := range sum.Transfers {
		out.Transfers = append(out.Transfers, transferRow{From: t.From, To: t.To, Amount: t.Amount})
	}
	return out
}

// NewBalancesCommand creates the balances command.
func NewBalancesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balances GROUP_ID",
		Short: "Show who owes whom",
		Long: `Show each participant's net balance and a short list of payments that
would settle the group. Balances are computed from the local cache, so they
include changes not yet synced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			sum, err := s.ctrl.GetSummary(ctx, args[0])
			if err != nil {
				return err
			}
			pending, err := s.ctrl.Pending(ctx)
			if err != nil {
				return err
			}
			out := newSummaryOutput(sum, len(pending))
			if opts.Format == "json" {
				return writeJSON(cmd, out)
			}
			printSummary(cmd, out)
			return nil
		},
	}
}

func printSummary(cmd *cobra.Command, out summaryOutput) {
	printf(cmd, "%s %s across %d records\n", titleStyle.Render("Total spent"), out.TotalSpent.StringFixed(2), out.Records)

	rows := make([][]string, 0, len(out.Balances))
	for _, b := range out.Balances {
		rows = append(rows, []string{b.Participant.Label(), b.Paid.StringFixed(2), b.Owed.StringFixed(2), signed(b.Net)})
	}
	printf(cmd, "%s\n", renderTable([]string{"Participant", "Paid", "Owed", "Net"}, rows))

	if len(out.Transfers) == 0 {
		printf(cmd, "%s\n", mutedStyle.Render("All settled."))
	} else {
		printf(cmd, "%s\n", titleStyle.Render("To settle up"))
		for _, t := range out.Transfers {
			printf(cmd, "  %s pays %s %s\n", t.From.Label(), t.To.Label(), t.Amount.StringFixed(2))
		}
	}
	if out.Pending > 0 {
		printf(cmd, "%s\n", warnStyle.Render(fmt.Sprintf("%d change(s) not yet synced.", out.Pending)))
	}
}
