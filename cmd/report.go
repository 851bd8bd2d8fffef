package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"example.com/backstage/services/shortage/internal/analytics"
	"example.com/backstage/services/shortage/internal/clock"
	"example.com/backstage/services/shortage/internal/database"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/repositories"
	"example.com/backstage/services/shortage/internal/services"
	"example.com/backstage/services/shortage/internal/store"
)

var (
	reportWindow string
	reportFile   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a dashboard to the terminal",
	Long: `Compute the dashboard for one window and print it.

Cases are read from the database unless --file points at a JSON export
(either an array of cases or an object keyed by case id).

Examples:
  shortage-service report --window week
  shortage-service report --window year --file cases.json`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportWindow, "window", "w", "", "window: week, month, quarter or year")
	reportCmd.Flags().StringVarP(&reportFile, "file", "f", "", "read cases from a JSON export instead of the database")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var st store.Store
	if reportFile != "" {
		cases, err := readExport(reportFile)
		if err != nil {
			return err
		}
		st = store.NewMemoryStore(clock.System{}, cases...)
	} else {
		db, readOnlyDB, err := database.Connect(cfg.DB, debug)
		if err != nil {
			return err
		}
		defer func() {
			if readOnlyDB != db {
				_ = database.Close(readOnlyDB)
			}
			_ = database.Close(db)
		}()
		st = repositories.NewCaseRepository(db, readOnlyDB, clock.System{})
	}

	svc := services.NewShortageService(services.Dependencies{Store: st}, cfg.Engine)
	window := reportWindow
	if window == "" {
		window = cfg.Engine.DefaultWindow
	}

	dashboard, err := svc.Dashboard(ctx, window)
	if err != nil {
		return err
	}
	printDashboard(cmd.OutOrStdout(), dashboard)
	return nil
}

// readExport accepts an array of cases or a snapshot object keyed by id
func readExport(path string) ([]models.ShortageCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var cases []models.ShortageCase
	if err := json.Unmarshal(data, &cases); err == nil {
		return cases, nil
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	cases = make([]models.ShortageCase, 0, len(snapshot))
	for id, c := range snapshot {
		if c.ID == "" {
			c.ID = id
		}
		cases = append(cases, c)
	}
	return cases, nil
}

func printDashboard(out io.Writer, d analytics.Dashboard) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(out, "%s %s (since %s, %d cases)\n\n", bold("Shortage dashboard:"), d.Window,
		d.WindowStart.Format("2006-01-02"), d.CaseCount)

	k := d.KPIs
	delta := fmt.Sprintf("%+d", k.NetOpenDelta)
	if k.NetOpenDelta > 0 {
		delta = red(delta)
	} else {
		delta = green(delta)
	}
	fmt.Fprintln(out, bold("KPIs"))
	fmt.Fprintf(out, "  New: %d  Resolved: %d  Open: %d  Net: %s\n", k.NewCases, k.ResolvedCases, k.CurrentOpen, delta)
	fmt.Fprintf(out, "  Received within 7 days: %s  within 14 days: %s\n\n", slaColor(k.SLA7, green, yellow, red), slaColor(k.SLA14, green, yellow, red))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(out, bold("Weekly trend"))
	fmt.Fprintln(w, "  WEEK\tCREATED\tRESOLVED IN 7 DAYS")
	for _, p := range d.WeeklyTrend {
		fmt.Fprintf(w, "  %s\t%d\t%d\n", p.Week, p.Created, p.ResolvedIn7Days)
	}
	w.Flush()
	fmt.Fprintln(out)

	printSlices(out, bold("Sources"), d.SourceDistribution)
	printSlices(out, bold("Open case age"), d.OpenAgeDistribution)

	fmt.Fprintln(out, bold("Team performance"))
	if len(d.TeamPerformance) == 0 {
		fmt.Fprintln(out, "  (no assigned cases)")
	} else {
		fmt.Fprintln(w, "  TEAM\tAVG DAYS\tCASES\tRESOLVED\tOPEN")
		for _, r := range d.TeamPerformance {
			fmt.Fprintf(w, "  %s\t%.1f\t%d\t%d\t%d\n", r.Team, r.AvgTime, r.Count, r.ResolvedCount, r.OpenCount)
		}
		w.Flush()
	}
	fmt.Fprintln(out)

	if len(d.TeamTrend) > 0 {
		fmt.Fprintln(out, bold("Team trend (avg days to receive)"))
		teams := d.TeamTrend[0].Teams
		fmt.Fprintf(w, "  WEEK\t%s\n", strings.ToUpper(strings.Join(teams, "\t")))
		for _, p := range d.TeamTrend {
			cells := make([]string, len(teams))
			for i, team := range teams {
				cells[i] = "-"
				if v := p.Values[team]; v != nil {
					cells[i] = fmt.Sprintf("%.1f", *v)
				}
			}
			fmt.Fprintf(w, "  %s\t%s\n", p.Week, strings.Join(cells, "\t"))
		}
		w.Flush()
		fmt.Fprintln(out)
	}

	rc := d.RootCauses
	fmt.Fprintln(out, bold("Root causes"))
	fmt.Fprintf(out, "  %d of %d solved (%s)\n", rc.Completed, rc.Total, slaColor(rc.Percentage, green, yellow, red))
}

func printSlices(out io.Writer, title string, slices []analytics.DistributionSlice) {
	fmt.Fprintln(out, title)
	if len(slices) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, s := range slices {
		fmt.Fprintf(out, "  %-14s %4d  %s\n", s.Name, s.Value, strings.Repeat("#", min(s.Value, 40)))
	}
	fmt.Fprintln(out)
}

func slaColor(pct int, good, warn, bad func(a ...interface{}) string) string {
	text := fmt.Sprintf("%d%%", pct)
	switch {
	case pct >= 80:
		return good(text)
	case pct >= 50:
		return warn(text)
	default:
		return bad(text)
	}
}
