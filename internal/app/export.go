package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"mev-sentinel/internal/storage"
)

// Default export window when --from is not given.
const defaultExportWindow = 7 * 24 * time.Hour

// Export renders trade history as CSV and/or a cumulative PnL chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	results, err := store.ListResultsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		a.Logger.Info().Msg("no trade results found for export window")
		return nil
	}

	downsampled := downsampleResults(results, opts.MaxPoints)
	a.Logger.Info().Int("total", len(results)).Int("exported", len(downsampled)).Msg("exporting trade results")

	if opts.CSVPath != "" {
		if err := writeResultsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeResultsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleResults(results []storage.TradeResult, max int) []storage.TradeResult {
	if max <= 0 || len(results) <= max {
		return results
	}

	out := make([]storage.TradeResult, 0, max)
	step := float64(len(results)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(results) {
			idx = len(results) - 1
		}
		out = append(out, results[idx])
	}
	return out
}

func writeResultsCSV(path string, results []storage.TradeResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"executed_at", "opportunity_id", "type", "pair", "source_tx", "tx_hash", "success", "score", "estimated_profit", "profit", "fee_paid", "reason"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		record := []string{
			res.ExecutedAt.UTC().Format(time.RFC3339),
			res.OpportunityID,
			res.OpportunityType,
			res.Pair,
			res.SourceTx,
			res.TxHash,
			strconv.FormatBool(res.Success),
			strconv.FormatFloat(res.Score, 'f', 6, 64),
			res.EstimatedProfit.String(),
			res.Profit.String(),
			res.FeePaid.String(),
			res.Reason,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeResultsPNG(path string, results []storage.TradeResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(results))
	netPnL := make([]float64, len(results))
	fees := make([]float64, len(results))

	runningNet := decimal.Zero
	runningFees := decimal.Zero
	for i, res := range results {
		x[i] = res.ExecutedAt
		runningNet = runningNet.Add(res.Profit).Sub(res.FeePaid)
		runningFees = runningFees.Add(res.FeePaid)
		netPnL[i] = runningNet.InexactFloat64()
		fees[i] = runningFees.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cumulative PnL (ETH)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Cumulative fees (ETH)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Net PnL",
				XValues: x,
				YValues: netPnL,
			},
			chart.TimeSeries{
				Name:    "Fees",
				XValues: x,
				YValues: fees,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
