// costcalc calibrates channel prices from a history file and prices
// delivery scenarios without running the server.
//
// Usage:
//
//	costcalc calibrate --history history.xlsx
//	costcalc estimate --program MP --households 350 --miles 30
//	costcalc profiles
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/Simplici0/foodcost/internal/calibration"
	"github.com/Simplici0/foodcost/internal/config"
	"github.com/Simplici0/foodcost/internal/history"
	"github.com/Simplici0/foodcost/internal/pricing"
	"github.com/Simplici0/foodcost/internal/program"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Error().Err(err).Msg("costcalc failed")
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "costcalc",
		Usage:  "Calibrate channel prices and estimate delivery costs",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "profile",
				Value:   config.ProfileStandard,
				Usage:   "Cost profile name",
				EnvVars: []string{"COST_PROFILE"},
			},
			&cli.StringFlag{
				Name:    "profiles-file",
				Usage:   "YAML file with profile overrides",
				EnvVars: []string{"PROFILES_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := zerolog.ParseLevel(c.String("log-level"))
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", c.String("log-level"), err)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			calibrateCommand(),
			estimateCommand(),
			profilesCommand(),
		},
	}
}

func historyFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "history",
		Usage:    "Path to a CSV or XLSX history file with PROGRAM, Cost and Weight columns",
		EnvVars:  []string{"HISTORY_FILE"},
		Required: required,
	}
}

func calibrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "calibrate",
		Usage: "Infer per-channel prices from historical deliveries",
		Flags: []cli.Flag{
			historyFlag(true),
			&cli.StringFlag{
				Name:  "format",
				Value: "table",
				Usage: "Output format (table, json)",
			},
		},
		Action: runCalibrate,
	}
}

func estimateCommand() *cli.Command {
	return &cli.Command{
		Name:  "estimate",
		Usage: "Price one delivery scenario",
		Flags: []cli.Flag{
			historyFlag(false),
			&cli.StringFlag{Name: "program", Usage: "Program code", Required: true},
			&cli.IntFlag{Name: "households", Usage: "Households served per delivery", Required: true},
			&cli.IntFlag{Name: "deliveries", Usage: "Deliveries per year; 0 skips annual totals"},
			&cli.Float64Flag{Name: "produce", Usage: "Produce lbs per household (default: program composition)"},
			&cli.Float64Flag{Name: "purchased", Usage: "Purchased lbs per household (default: program composition)"},
			&cli.Float64Flag{Name: "donated", Usage: "Donated lbs per household (default: program composition)"},
			&cli.Float64Flag{Name: "miles", Usage: "Miles per delivery"},
		},
		Action: runEstimate,
	}
}

func profilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "List the available cost profiles",
		Action: func(c *cli.Context) error {
			profiles, err := config.LoadProfiles(c.String("profiles-file"))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROFILE\tFIXED/LB\tTRANSPORT/LB/MILE\tFIXED MODE\tFIXED-PRICE FALLBACK")
			for _, name := range profiles.Names() {
				p := profiles[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					name,
					decimal.NewFromFloat(p.FixedCostPerLb).StringFixed(4),
					decimal.NewFromFloat(p.TransportCostPerLbMile).StringFixed(4),
					p.FixedCostMode,
					p.FixedProduceFallback,
				)
			}
			return tw.Flush()
		},
	}
}

func selectProfile(c *cli.Context) (config.Profile, error) {
	profiles, err := config.LoadProfiles(c.String("profiles-file"))
	if err != nil {
		return config.Profile{}, err
	}
	return profiles.Lookup(c.String("profile"))
}

// calibrate runs the pipeline over the history file, or over no records
// when path is empty, which yields the guardrail defaults.
func calibrate(path string, profile config.Profile) (*calibration.Snapshot, error) {
	var records []history.Record
	if path != "" {
		var err error
		if records, err = history.LoadFile(path); err != nil {
			return nil, err
		}
		log.Debug().Int("records", len(records)).Str("file", path).Msg("history loaded")
	}
	return calibration.NewCalibrator(program.DefaultModel(), profile.Calibration(), profile.Name).Run(records), nil
}

func runCalibrate(c *cli.Context) error {
	profile, err := selectProfile(c)
	if err != nil {
		return err
	}
	snap, err := calibrate(c.String("history"), profile)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	if c.String("format") == "json" {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"snapshot": snap,
			"prices":   snap.Table.Rows(),
		})
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROGRAM\tPRODUCE\tSOURCE\tPURCHASED\tSOURCE\tDONATED")
	for _, row := range snap.Table.Rows() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Program,
			decimal.NewFromFloat(row.Produce).StringFixed(4),
			row.ProduceSource,
			decimal.NewFromFloat(row.Purchased).StringFixed(4),
			row.PurchasedSource,
			decimal.NewFromFloat(row.Donated).StringFixed(4),
		)
	}
	return tw.Flush()
}

func runEstimate(c *cli.Context) error {
	profile, err := selectProfile(c)
	if err != nil {
		return err
	}

	model := program.DefaultModel()
	id := program.ID(c.String("program"))
	composition := model.CompositionFor(id)
	lbs := func(flag string, fallback *float64) float64 {
		if c.IsSet(flag) || fallback == nil {
			return c.Float64(flag)
		}
		return *fallback
	}

	scenario := pricing.Scenario{
		Program:           id,
		Households:        c.Int("households"),
		DeliveriesPerYear: c.Int("deliveries"),
		ProduceLbPerHH:    lbs("produce", composition.Produce),
		PurchasedLbPerHH:  lbs("purchased", composition.Purchased),
		DonatedLbPerHH:    lbs("donated", composition.Donated),
		MilesPerDelivery:  c.Float64("miles"),
	}
	if err := scenario.Validate(); err != nil {
		return err
	}

	snap, err := calibrate(c.String("history"), profile)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	row := snap.Table.Lookup(id)
	result := pricing.Calculate(scenario, pricing.Prices{
		Produce:   row.Produce,
		Purchased: row.Purchased,
		Donated:   row.Donated,
	}, profile.Rates())

	b := result.Breakdown
	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "program\t%s\n", id)
	fmt.Fprintf(tw, "profile\t%s\n", profile.Name)
	fmt.Fprintf(tw, "prices\tproduce %s (%s), purchased %s (%s), donated %s\n",
		decimal.NewFromFloat(row.Produce).StringFixed(4), row.ProduceSource,
		decimal.NewFromFloat(row.Purchased).StringFixed(4), row.PurchasedSource,
		decimal.NewFromFloat(row.Donated).StringFixed(4))
	fmt.Fprintf(tw, "total lbs\t%s\n", decimal.NewFromFloat(b.TotalLbs).StringFixed(2))
	fmt.Fprintf(tw, "base food cost\t%s\n", decimal.NewFromFloat(b.BaseFoodCost).StringFixed(2))
	fmt.Fprintf(tw, "fixed cost\t%s\n", decimal.NewFromFloat(b.FixedCost).StringFixed(2))
	fmt.Fprintf(tw, "transport cost\t%s\n", decimal.NewFromFloat(b.TransportCost).StringFixed(2))
	fmt.Fprintf(tw, "delivery cost\t%s\n", decimal.NewFromFloat(b.DeliveryCost).StringFixed(2))
	if a := result.Annual; a != nil {
		fmt.Fprintf(tw, "annual cost\t%s\n", decimal.NewFromFloat(a.TotalCost).StringFixed(2))
		fmt.Fprintf(tw, "annual lbs\t%s\n", decimal.NewFromFloat(a.TotalLbs).StringFixed(2))
		fmt.Fprintf(tw, "blended cost/lb\t%s\n", decimal.NewFromFloat(a.BlendedCostPerLb).StringFixed(4))
	}
	return tw.Flush()
}
