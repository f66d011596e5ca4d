package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"papertrade/pkg/papertrade"
)

var submitCmd = &cobra.Command{
	Use:   "submit SYMBOL SIDE QUANTITY",
	Short: "Submit a market order",
	Long: `Submit a market order at the current price. While the market is
closed the order is accepted as PENDING and filled by the next sweep.

Example:
  papertrade-cli submit AAPL buy 10 --stop-loss 140 --user alice`,
	Args: cobra.ExactArgs(3),
	RunE: runSubmit,
}

var sellCmd = &cobra.Command{
	Use:   "sell SYMBOL [QUANTITY]",
	Short: "Sell shares of a position; without a quantity the whole position",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSell,
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show cash, equity and total value",
	Args:  cobra.NoArgs,
	RunE:  runAccount,
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Show positions valued at the latest price",
	Args:  cobra.NoArgs,
	RunE:  runPortfolio,
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders, newest first",
	Args:  cobra.NoArgs,
	RunE:  runOrders,
}

var (
	stopLoss   string
	takeProfit string
)

func init() {
	rootCmd.AddCommand(submitCmd, sellCmd, accountCmd, portfolioCmd, ordersCmd)

	submitCmd.Flags().StringVar(&stopLoss, "stop-loss", "", "stop-loss price recorded with the order")
	submitCmd.Flags().StringVar(&takeProfit, "take-profit", "", "take-profit price recorded with the order")
}

func newClient() (*papertrade.Client, error) {
	if userID == "" {
		return nil, errors.New("--user (or PAPERTRADE_USER) is required")
	}
	return papertrade.NewClient(serverURL, userID), nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	qty, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("quantity %q: %w", args[2], err)
	}
	req := papertrade.OrderRequest{
		Symbol:   args[0],
		Side:     strings.ToUpper(args[1]),
		Quantity: qty,
	}
	if req.StopLossPrice, err = optionalPrice(stopLoss); err != nil {
		return fmt.Errorf("--stop-loss: %w", err)
	}
	if req.TakeProfitPrice, err = optionalPrice(takeProfit); err != nil {
		return fmt.Errorf("--take-profit: %w", err)
	}
	res, err := c.SubmitOrder(cmd.Context(), req)
	return printResult(cmd.OutOrStdout(), res, err)
}

func runSell(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var qty int64
	if len(args) == 2 {
		if qty, err = strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("quantity %q: %w", args[1], err)
		}
	}
	res, err := c.Sell(cmd.Context(), args[0], qty)
	return printResult(cmd.OutOrStdout(), res, err)
}

func runAccount(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	acct, err := c.GetAccount(cmd.Context())
	if err != nil {
		return err
	}
	printAccount(cmd.OutOrStdout(), *acct)
	return nil
}

func runPortfolio(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	holdings, err := c.GetPortfolio(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tAVG\tLAST\tP&L\t")
	for _, h := range holdings {
		last := formatUSD(h.LastPrice)
		if h.Stale {
			last += " (stale)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t\n", h.Symbol, h.Quantity, formatUSD(h.AvgPrice), last, formatUSD(h.UnrealizedPnL))
	}
	return tw.Flush()
}

func runOrders(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	orders, err := c.GetOrders(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tID\tSYMBOL\tSIDE\tQTY\tPRICE\tSTATUS\tDETAIL\t")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t\n",
			o.CreatedAt.Local().Format("2006-01-02 15:04:05"), o.ID, o.Symbol, o.Side,
			o.Quantity, o.Price.String(), o.Status, o.StatusText)
	}
	return tw.Flush()
}

func printResult(w io.Writer, res *papertrade.Result, err error) error {
	if res == nil {
		return err
	}
	o := res.Order
	fmt.Fprintf(w, "%s %s %d %s @ %s: %s", o.ID, o.Side, o.Quantity, o.Symbol, o.Price.String(), o.Status)
	if o.StatusText != "" {
		fmt.Fprintf(w, " (%s)", o.StatusText)
	}
	fmt.Fprintln(w)
	printAccount(w, res.Account)
	return err
}

func printAccount(w io.Writer, a papertrade.Account) {
	fmt.Fprintf(w, "cash %s  equity %s  total %s\n",
		formatUSD(a.CashBalance), formatUSD(a.EquityValue), formatUSD(a.TotalValue))
}

// formatUSD renders d as dollars rounded to the cent, e.g. $98,500.00.
func formatUSD(d decimal.Decimal) string {
	cents := d.Shift(2).Round(0).IntPart()
	return money.New(cents, "USD").Display()
}

func optionalPrice(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
