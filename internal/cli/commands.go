package cli

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/nightscout-autotune/internal/app"
	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/notifications"
	"github.com/mrcode/nightscout-autotune/internal/report"
)

// testNotifier is what `notify test` needs from the notification manager
type testNotifier interface {
	SendTestNotification() error
}

// newTestNotifier is replaced in tests
var newTestNotifier = func(settings *models.Settings) testNotifier {
	return notifications.NewManager(settings)
}

func newInitCmd(state *rootState) *cobra.Command {
	var (
		url   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := state.configPath
			if path == "" {
				p, err := models.GetConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite it", path)
			}

			settings := models.DefaultSettings()
			settings.NightscoutURL = url
			if url != "" {
				if err := settings.Validate(); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("creating config dir: %w", err)
			}
			if err := settings.Save(path); err != nil {
				return fmt.Errorf("writing settings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Nightscout URL (https)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	return cmd
}

func newNotifyCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Desktop notifications",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := newTestNotifier(state.settings).SendTestNotification(); err != nil {
				return fmt.Errorf("sending notification: %w", err)
			}
			if !state.settings.EnableNotifications {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Notifications are disabled for tuning runs; set enableNotifications to receive them."))
			}
			return nil
		},
	})
	return cmd
}

func newStatusCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the connection to Nightscout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := state.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			w := cmd.OutOrStdout()
			heading(w, status.Name)
			fmt.Fprintf(w, "Status: %s   Version: %s   Units: %s   API enabled: %t\n",
				status.Status, status.Version, status.Settings.Units, status.APIEnabled)
			return nil
		},
	}
}

func newProfileCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect Nightscout profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Show a profile (default: the active one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := state.settings.ProfileName
			if len(args) == 1 {
				name = args[0]
			}

			a, err := state.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			profile, resolved, err := a.Profile(cmd.Context(), name)
			if err != nil {
				return err
			}
			printProfile(cmd.OutOrStdout(), resolved, profile)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the profile names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := state.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			names, def, err := a.ProfileNames(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), joinNames(names, def))
			return nil
		},
	})
	return cmd
}

func newHistoryCmd(state *rootState) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Summarize the glucose and treatment history autotune would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = state.settings.Days
			}

			a, err := state.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.History(cmd.Context(), days)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printSummary(w, data, time.Now())

			entries := slices.Clone(data.Entries)
			slices.SortFunc(entries, func(x, y models.GlucoseEntry) int {
				return cmp.Compare(x.Date, y.Date)
			})
			values := make([]float64, len(entries))
			for i, e := range entries {
				values[i] = float64(e.SGV)
			}
			if chart := report.Sparkline(report.Downsample(values, 72), 8); chart != "" {
				fmt.Fprintln(w, chart)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to load")
	return cmd
}

type tuneFlags struct {
	days    int
	profile string
	apply   bool
	dryRun  bool
	report  string
}

func newTuneCmd(state *rootState) *cobra.Command {
	var flags tuneFlags
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Run autotune and show or apply its recommendations",
		Long: `Runs oref0-autotune over the last days of history and reconciles its
recommendation with the selected profile.

Without --apply the tuned profile is only shown. With --apply it is written
back to Nightscout; the profile it replaces is saved locally first when
backups are enabled. --dry-run always wins over --apply.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				flags.days = state.settings.Days
			}
			if !cmd.Flags().Changed("profile") {
				flags.profile = state.settings.ProfileName
			}
			return runTune(cmd, state, flags)
		},
	}
	cmd.Flags().IntVarP(&flags.days, "days", "d", 7, "number of days to analyse")
	cmd.Flags().StringVarP(&flags.profile, "profile", "p", "", "profile name (default: the document default)")
	cmd.Flags().BoolVar(&flags.apply, "apply", false, "write the tuned profile back to Nightscout")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "never write to Nightscout")
	cmd.Flags().StringVar(&flags.report, "report", "", "write a PNG chart of the basal change to this file")
	return cmd
}

func runTune(cmd *cobra.Command, state *rootState, flags tuneFlags) error {
	a, err := state.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Pipeline().Run(cmd.Context(), app.Options{
		ProfileName: flags.profile,
		Days:        flags.days,
		Apply:       flags.apply,
		DryRun:      flags.dryRun,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	printRecommendation(w, out.Recommendation)
	heading(w, "Changes")
	printChanges(w, out.Changes)

	reportPath := flags.report
	if reportPath == "" && state.settings.ReportDir != "" {
		reportPath = filepath.Join(state.settings.ReportDir,
			fmt.Sprintf("autotune-%s-%s.png", out.ProfileName, time.Now().Format("20060102-150405")))
	}
	if reportPath != "" {
		if err := writeReport(reportPath, out); err != nil {
			return err
		}
		fmt.Fprintf(w, "Chart written to %s\n", reportPath)
	}

	switch {
	case out.Synced:
		fmt.Fprintf(w, "Profile %s updated in Nightscout.\n", out.ProfileName)
	case flags.apply:
		fmt.Fprintln(w, mutedStyle.Render("Dry run: Nightscout was not changed."))
	default:
		fmt.Fprintln(w, mutedStyle.Render("Run again with --apply to write these changes to Nightscout."))
	}
	return nil
}

func writeReport(path string, out *app.Outcome) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	f, err := os.Create(path) //nolint:gosec // path is chosen by the user running the CLI
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	opts := report.DefaultOptions()
	opts.Title = fmt.Sprintf("Basal %s: %d days", out.ProfileName, out.Recommendation.DaysAnalyzed)
	if err := report.RenderBasal(f, out.Before, out.After, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newBackupsCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage profiles saved before each write",
	}

	var profile string
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved profiles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := state.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.Backups(cmd.Context(), profile)
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), snaps, time.Now())
			return nil
		},
	}
	list.Flags().StringVarP(&profile, "profile", "p", "", "only this profile")

	restore := &cobra.Command{
		Use:   "restore <id>",
		Short: "Write a saved profile back to Nightscout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s.\n",
				snap.ProfileName, snap.CreatedAt.Local().Format(time.DateTime))
			return nil
		},
	}

	cmd.AddCommand(list, restore)
	return cmd
}
