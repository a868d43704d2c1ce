package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent trade results.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show trade results")
	}
	if closeStore != nil {
		defer closeStore()
	}

	results, err := store.ListRecentResults(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stdout, "no trade results found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Executed (UTC)\tType\tPair\tOK\tScore\tEst. Profit\tProfit\tFee\tReason")

	for _, res := range results {
		ok := "no"
		if res.Success {
			ok = "yes"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%.3f\t%s\t%s\t%s\t%s\n",
			res.ExecutedAt.UTC().Format(time.RFC3339),
			res.OpportunityType,
			res.Pair,
			ok,
			res.Score,
			formatDecimal(res.EstimatedProfit, 6),
			formatDecimal(res.Profit, 6),
			formatDecimal(res.FeePaid, 6),
			sanitizeInline(res.Reason),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
