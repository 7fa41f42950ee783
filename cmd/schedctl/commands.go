package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recurrence"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/pkg/client"
)

// ruleFlags collects a recurrence rule from command line flags
type ruleFlags struct {
	frequency string
	at        string
	timezone  string
	days      []string
	day       int
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.frequency, "frequency", "f", "daily", "daily, weekly or monthly")
	cmd.Flags().StringVarP(&f.at, "time", "t", "09:00", "time of day (HH:MM, 24-hour)")
	cmd.Flags().StringVarP(&f.timezone, "timezone", "z", "UTC", "IANA zone or UTC offset, e.g. Europe/London or +05:30")
	cmd.Flags().StringSliceVarP(&f.days, "days", "d", nil, "weekdays for weekly rules, e.g. mon,fri or 1,5")
	cmd.Flags().IntVar(&f.day, "day", 0, "day of month for monthly rules (1-31)")
}

func (f *ruleFlags) rule() (recurrence.Rule, error) {
	spec := recurrence.Spec{
		Frequency: recurrence.Frequency(f.frequency),
		Time:      f.at,
		Timezone:  f.timezone,
	}
	for _, d := range f.days {
		wd, err := parseWeekday(d)
		if err != nil {
			return nil, err
		}
		spec.DaysOfWeek = append(spec.DaysOfWeek, wd)
	}
	if f.day != 0 {
		day := f.day
		spec.DayOfMonth = &day
	}
	return spec.Rule()
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

func parseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if len(s) >= 3 {
		if n, ok := weekdayNames[s[:3]]; ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "schedctl",
		Short:        "Inspect report schedules and request report runs",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newDescribeCmd(),
		newNextCmd(),
		newCronCmd(),
		newRunCmd(),
	)
	return cmd
}

func newDescribeCmd() *cobra.Command {
	var flags ruleFlags
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print a rule in words",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := flags.rule()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), recurrence.Describe(rule))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newNextCmd() *cobra.Command {
	var (
		flags ruleFlags
		count int
		from  string
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "List the next firing instants of a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := flags.rule()
			if err != nil {
				return err
			}
			if count < 1 || count > 50 {
				return fmt.Errorf("count must be between 1 and 50")
			}
			now := time.Now()
			if from != "" {
				if now, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}

			loc := rule.Zone().Location()
			for _, next := range recurrence.NextN(rule, now, count) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n",
					next.Format(time.RFC3339), next.In(loc).Format("Mon 2006-01-02 15:04 MST"))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of instants to list")
	cmd.Flags().StringVar(&from, "from", "", "start instant (RFC 3339), defaults to now")
	return cmd
}

func newCronCmd() *cobra.Command {
	var flags ruleFlags
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Export a rule as a cron expression",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := flags.rule()
			if err != nil {
				return err
			}
			expr, err := recurrence.CronExpression(rule)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), expr)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		redisURL string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <report-config-id>",
		Short: "Request an immediate run of a report configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient(redisURL)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if wait <= 0 {
				id, err := c.RunReport(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "requested %s\n", id)
				return nil
			}

			id, result, err := c.RunReportAndWait(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			if result == nil {
				fmt.Fprintf(out, "requested %s, still running after %s\n", id, wait)
				return nil
			}
			fmt.Fprintf(out, "%s %s in %s\n", id, result.Status, result.Duration)
			if result.Error != "" {
				fmt.Fprintf(out, "error: %s\n", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis-url", "redis://localhost:6379", "Redis connection URL")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the result")
	return cmd
}
