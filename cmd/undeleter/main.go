package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"imessage-undeleter/internal/app"
	"imessage-undeleter/internal/config"
	"imessage-undeleter/internal/diagnostics"
	"imessage-undeleter/internal/tracker"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an UndeleterApp. The caller must defer app.Close().
// operation identifies the CLI command being run (see the app.Op constants).
func newApp(operation string) (*app.UndeleterApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on a terminal without echo, or reads one line from
// a piped stdin.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "undeleter",
	Short:        "Track silently deleted iMessages",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Source:      %s\n", cfg.Source.Path)
		fmt.Printf("State:       %s (retention %d days)\n", cfg.State.Type, cfg.State.RetentionDays)
		fmt.Printf("Detection:   %s\n", strings.Join(cfg.Detection.Types, ", "))
		for _, s := range cfg.Sinks {
			state := "disabled"
			if s.Enabled {
				state = "enabled"
			}
			fmt.Printf("Sink:        %-10s %-8s %s\n", s.SinkName(), s.Type, state)
		}

		if err := config.Validate(cfg); err != nil {
			fmt.Printf("\nConfiguration problems:\n%v\n", err)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.OpKeysInit)
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if term.IsTerminal(int(os.Stdin.Fd())) {
			confirm, err := readPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if confirm != pass {
				return errors.New("passphrases do not match")
			}
		}

		recipient, err := a.KeysInit(pass)
		if err != nil {
			return err
		}
		fmt.Println("Encryption keys created.")
		if recipient != "" {
			fmt.Printf("Public key: %s\n", recipient)
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track the message store until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.OpRun)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stats, err := a.Run(ctx)
		fmt.Fprintf(os.Stderr, "Processed %d event(s), detected %d deletion(s) in %d tick(s)\n",
			stats.EventsProcessed, stats.DeletionsDetected, stats.Ticks)
		if err != nil {
			return fmt.Errorf("tracker stopped: %w", err)
		}
		return nil
	},
}

// deletions command
var deletionsCmd = &cobra.Command{
	Use:   "deletions",
	Short: "List journaled deletions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceArg, _ := cmd.Flags().GetString("since")
		untilArg, _ := cmd.Flags().GetString("until")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		now := time.Now()
		since, err := diagnostics.ParseTimeArg(sinceArg, now)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		until, err := diagnostics.ParseTimeArg(untilArg, now)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}

		a, err := newApp(app.OpDeletions)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.Deletions(cmd.Context(), since, until, limit)
		if err != nil {
			return err
		}

		if asJSON {
			if recs == nil {
				recs = []*tracker.DeletionRecord{}
			}
			return printJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No deletions recorded.")
			return nil
		}
		for _, r := range recs {
			printDeletion(r)
		}
		return nil
	},
}

func printDeletion(r *tracker.DeletionRecord) {
	content := "[no content]"
	if r.RecoveredContent != nil && *r.RecoveredContent != "" {
		content = *r.RecoveredContent
	}
	if len(r.RecoveredAttachments) > 0 {
		content += fmt.Sprintf(" (+%d attachment(s))", len(r.RecoveredAttachments))
	}
	from := r.Origin.SenderIdentity
	if from == "" {
		from = "me"
	}
	fmt.Printf("#%d  %s  %-15s  item %-8d %s: %s\n",
		r.JournalID,
		r.DeletedAt.Local().Format("2006-01-02 15:04:05"),
		r.Classification,
		r.ItemID,
		from,
		truncate(content, 80),
	)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(app.OpHistory)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, run := range runs {
			started := time.Unix(0, run.StartedAt)
			duration := ""
			if run.FinishedAt.Valid {
				d := time.Unix(0, run.FinishedAt.Int64).Sub(started)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-18s  events:%-6d deletions:%-4d %s\n",
				run.ID,
				run.Operation,
				started.Format("2006-01-02 15:04:05"),
				statusColor(run.Status).Sprint(run.Status),
				run.EventsProcessed,
				run.DeletionsDetected,
				duration,
			)
		}
		return nil
	},
}

func statusColor(status string) *color.Color {
	switch status {
	case app.StatusSuccess:
		return color.New(color.FgGreen)
	case app.StatusRunning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove state older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.OpPurge)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Purge(cmd.Context())
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}
		fmt.Printf("Purged %d fingerprint(s) and %d deletion record(s)\n", res.Fingerprints, res.Deletions)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show state and message store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.OpStatus)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Message store: %s\n", report.SourcePath)
		if report.SourceError != nil {
			fmt.Printf("  %s\n", color.RedString("unavailable: %v", report.SourceError))
		} else {
			fmt.Printf("  messages: %d, log size: %d bytes\n", report.MessageCount, report.LogSize)
		}
		fmt.Printf("Tracked fingerprints: %d\n", report.State.Fingerprints)
		fmt.Printf("Journaled deletions:  %d\n", report.State.Deletions)
		if report.LastRun != nil {
			fmt.Printf("Last run: #%d %s at %s (%s)\n",
				report.LastRun.ID,
				report.LastRun.Operation,
				time.Unix(0, report.LastRun.StartedAt).Format("2006-01-02 15:04:05"),
				statusColor(report.LastRun.Status).Sprint(report.LastRun.Status),
			)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a snapshot of the state store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.OpBackup)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupState(args[0]); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("State written to %s\n", args[0])
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect archive sinks",
}

var archiveListCmd = &cobra.Command{
	Use:   "list SINK",
	Short: "List archived deletion records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.OpDecrypt)
		if err != nil {
			return err
		}
		defer a.Close()

		keys, err := a.ArchivedKeys(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("Archive is empty.")
			return nil
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

// decrypt command
var decryptCmd = &cobra.Command{
	Use:   "decrypt FILE",
	Short: "Print an archived deletion record",
	Long: "Print an archived deletion record. FILE is a local path, or with --sink\n" +
		"a key listed by 'undeleter archive list'. Encrypted (.age) records prompt\n" +
		"for the key passphrase.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sinkName, _ := cmd.Flags().GetString("sink")

		a, err := newApp(app.OpDecrypt)
		if err != nil {
			return err
		}
		defer a.Close()

		var pass string
		if strings.HasSuffix(args[0], ".age") {
			if pass, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		var rec *tracker.DeletionRecord
		if sinkName != "" {
			rec, err = a.DecryptArchived(cmd.Context(), sinkName, args[0], pass)
		} else {
			rec, err = a.Decrypt(args[0], pass)
		}
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)
	archiveCmd.AddCommand(archiveListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(deletionsCmd)
	deletionsCmd.Flags().String("since", "", "Earliest deletion time (RFC3339, YYYY-MM-DD, or a duration like 24h)")
	deletionsCmd.Flags().String("until", "", "Latest deletion time, exclusive")
	deletionsCmd.Flags().IntP("limit", "n", 0, "Maximum number of records (0 for all)")
	deletionsCmd.Flags().Bool("json", false, "Print records as JSON")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().String("sink", "", "Read the record from this archive sink's vault")
}
