// Package report renders cycle results for the terminal.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"arbscout/internal/model"
)

const NoOpportunities = "no opportunities found"

// Print writes opps as a ranked table, or NoOpportunities when there are none.
func Print(w io.Writer, opps []model.Opportunity) error {
	if len(opps) == 0 {
		_, err := fmt.Fprintln(w, NoOpportunities)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSYMBOL\tBUY\tSELL\tVOLUME\tCOST (USDT)\tREVENUE (USDT)\tPROFIT (USDT)\tPROFIT %\tR/R\tDEPTH")
	for i, o := range opps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f%%\t%s\t%s\n",
			i+1, o.Symbol, o.BuyExchange, o.SellExchange,
			o.Volume.StringFixed(8), o.Cost.StringFixed(8), o.Revenue.StringFixed(8), o.Profit.StringFixed(8),
			o.ProfitPercentage, ratio(o.RiskRewardRatio), o.MarketDepth.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var links strings.Builder
	for i, o := range opps {
		if o.BuyTradeURL == "" && o.SellTradeURL == "" {
			continue
		}
		fmt.Fprintf(&links, "%d  buy: %s  sell: %s\n", i+1, orNone(o.BuyTradeURL), orNone(o.SellTradeURL))
	}
	if links.Len() > 0 {
		if _, err := fmt.Fprintf(w, "\n%s", links.String()); err != nil {
			return err
		}
	}
	return nil
}

// PrintRisk writes a one-line summary of the risk manager state.
func PrintRisk(w io.Writer, r model.RiskReport) error {
	_, err := fmt.Fprintf(w, "risk: balance=%s daily_pnl=%s drawdown=%s trades=%d win_rate=%.2f profit_factor=%.2f sharpe=%.2f paused=%t\n",
		r.AccountBalance.StringFixed(2), r.DailyPnL.StringFixed(2), r.CurrentDrawdown.StringFixed(4),
		r.TradeCount, r.WinRate, r.ProfitFactor, r.SharpeRatio, r.TradingPaused)
	return err
}

func ratio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
