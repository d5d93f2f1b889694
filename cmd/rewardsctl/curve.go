package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"poolrewards/native/stakingrewards"
)

const maxCurveRows = 100_000

type curveRow struct {
	At        uint64
	Released  *uint256.Int
	Remaining *uint256.Int
}

func simulateCurve(kind stakingrewards.DistributionType, total *uint256.Int, duration, step uint64) ([]curveRow, error) {
	curve, err := stakingrewards.CurveFor(kind)
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, errors.New("step must be positive")
	}
	if kind == stakingrewards.Flat && duration == 0 {
		return nil, errors.New("flat curves need a duration")
	}
	program := &stakingrewards.Program{
		DistributionType: kind,
		TotalRewards:     new(uint256.Int).Set(total),
		RemainingRewards: new(uint256.Int).Set(total),
		IsEnabled:        true,
	}
	horizon := duration
	if duration != 0 {
		program.EndTime = duration
	} else {
		horizon = stakingrewards.ExpDecayHorizon
	}
	if horizon/step > maxCurveRows {
		return nil, fmt.Errorf("schedule would print more than %d rows, raise --step", maxCurveRows)
	}
	var rows []curveRow
	for offset := step; ; offset += step {
		if offset > horizon {
			offset = horizon
		}
		amount, _ := curve.Released(program, offset)
		program.RemainingRewards.Sub(program.RemainingRewards, amount)
		program.PrevDistributionTimestamp = offset
		rows = append(rows, curveRow{
			At:        offset,
			Released:  amount,
			Remaining: new(uint256.Int).Set(program.RemainingRewards),
		})
		if offset >= horizon || program.RemainingRewards.IsZero() {
			return rows, nil
		}
	}
}

func newCurveCommand() *cobra.Command {
	var (
		kindName string
		totalRaw string
		duration time.Duration
		step     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print the release schedule of a program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := stakingrewards.ParseDistributionType(kindName)
			if err != nil {
				return err
			}
			total, err := parseAmountFlag("total", totalRaw)
			if err != nil {
				return err
			}
			rows, err := simulateCurve(kind, total, uint64(duration/time.Second), uint64(step/time.Second))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ELAPSED\tRELEASED\tREMAINING")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", time.Duration(row.At)*time.Second, row.Released.Dec(), row.Remaining.Dec())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&kindName, "type", "flat", "distribution type (flat|exp)")
	cmd.Flags().StringVar(&totalRaw, "total", "", "total rewards in base units")
	cmd.Flags().DurationVar(&duration, "duration", 0, "program duration; optional hard stop for exp")
	cmd.Flags().DurationVar(&step, "step", 24*time.Hour, "interval between distributions")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}
