package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bkp-go/internal/app"
	"bkp-go/internal/bkp"
	"bkp-go/internal/config"
	"bkp-go/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Backup", "Restore").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	a, err := app.NewApp(ctx, defaults["config_path"], operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readSecret prompts for a secret on the terminal without echoing it.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(secret), nil
}

// confirm asks a yes/no question on stdin and returns true only for an
// explicit yes.
func confirm(question string) (bool, error) {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// formatTime renders a timestamp for display, with "never" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

var rootCmd = &cobra.Command{
	Use:   "bkp",
	Short: "Personal backup tool for projects across secondary devices",
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

		// Generate a new host ID
		hostID := uuid.New().String()

		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		fmt.Printf("Host ID:  %s\n", cfg.HostID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Catalog:  %s (%s)\n", cfg.Catalog.Type, cfg.Catalog.DataDir)
		return nil
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage tracked projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add [PATH]",
	Short: "Track a project directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		class, _ := cmd.Flags().GetString("class")

		a, err := newApp(cmd.Context(), "AddProject")
		if err != nil {
			return err
		}
		defer a.Close()

		target := "."
		if len(args) > 0 {
			target = args[0]
		}

		p, err := a.AddProject(name, target, class)
		if err != nil {
			return fmt.Errorf("tracking project: %w", err)
		}

		fmt.Printf("Tracking project %s at %s (class %s)\n", p.Name, p.Root, p.Tracking.Class)
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Stop tracking a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RemoveProject")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveProject(args[0]); err != nil {
			return err
		}

		fmt.Printf("No longer tracking %s. Backed up data stays on the devices.\n", args[0])
		return nil
	},
}

var projectSetClassCmd = &cobra.Command{
	Use:   "set-class PROJECT CLASS",
	Short: "Move a project to another requirement class",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetProjectClass")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetProjectClass(args[0], args[1]); err != nil {
			return err
		}

		fmt.Printf("Project %s now requires class %s\n", args[0], args[1])
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListProjects")
		if err != nil {
			return err
		}
		defer a.Close()

		projects, err := a.Projects()
		if err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("No projects tracked.")
			return nil
		}

		for _, p := range projects {
			fmt.Printf("%-20s  %-8s  class:%-10s  copies:%d  %s\n",
				p.Name,
				p.Tracking.Status,
				p.Tracking.Class,
				len(p.Tracking.Copies),
				p.Root,
			)
		}
		return nil
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status [NAME]",
	Short: "View backup compliance of projects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ProjectStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		var statuses []bkp.ProjectStatus
		if len(args) > 0 {
			st, err := a.ProjectStatus(args[0])
			if err != nil {
				return err
			}
			statuses = append(statuses, *st)
		} else {
			statuses, err = a.ProjectStatuses()
			if err != nil {
				return err
			}
		}

		if len(statuses) == 0 {
			fmt.Println("No projects tracked.")
			return nil
		}

		for _, st := range statuses {
			printProjectStatus(st)
		}
		return nil
	},
}

// printProjectStatus renders one project's compliance evaluation.
func printProjectStatus(st bkp.ProjectStatus) {
	ev := st.Evaluation
	fmt.Printf("%s  [%s]\n", st.Project.Name, ev.Verdict)
	fmt.Printf("  class %s: %d/%d copies, %d/%d locations, min security %s\n",
		ev.Class.Name,
		ev.Copies, ev.Class.TargetCopies,
		ev.Locations, ev.Class.TargetLocations,
		ev.Class.MinSecurityLevel,
	)
	if st.Unsatisfiable {
		fmt.Printf("  warning: targets cannot be met with the registered devices\n")
	}
	for _, cs := range ev.CopyStates {
		var marks []string
		if cs.Current {
			marks = append(marks, "current")
		} else {
			marks = append(marks, "stale")
		}
		if !cs.Qualifying {
			marks = append(marks, "below min security")
		}
		fmt.Printf("  copy on %-15s (%s)  %s  %s\n",
			cs.Device, cs.Location, formatTime(cs.LastBackup), strings.Join(marks, ", "))
	}
	for _, cand := range ev.Candidates {
		fmt.Printf("  candidate %-10s (%s, %s)\n", cand.Name, cand.Location, cand.SecurityLevel)
	}
}

// device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage secondary devices",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a secondary device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		devType, _ := cmd.Flags().GetString("type")
		location, _ := cmd.Flags().GetString("location")
		security, _ := cmd.Flags().GetString("security")

		level, err := model.ParseSecurityLevel(security)
		if err != nil {
			return err
		}

		params := map[string]string{}
		for flag, key := range map[string]string{
			"path":       "path",
			"bucket":     "bucket",
			"prefix":     "prefix",
			"region":     "region",
			"endpoint":   "endpoint",
			"access-key": "access_key",
			"secret-key": "secret_key",
		} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				params[key] = v
			}
		}

		// An access key without a secret means the secret should not land
		// in shell history: prompt for it instead.
		if params["access_key"] != "" && params["secret_key"] == "" {
			secret, err := readSecret("S3 secret key: ")
			if err != nil {
				return err
			}
			params["secret_key"] = secret
		}

		a, err := newApp(cmd.Context(), "AddDevice")
		if err != nil {
			return err
		}
		defer a.Close()

		info := model.DeviceInfo{
			Name:          args[0],
			Location:      location,
			SecurityLevel: level,
			DeviceType:    devType,
		}

		if err := a.AddDevice(info, params); err != nil {
			return fmt.Errorf("registering device: %w", err)
		}

		fmt.Printf("Registered device %s (%s at %s, %s)\n", info.Name, devType, location, level)
		return nil
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a device from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RemoveDevice")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveDevice(args[0]); err != nil {
			return err
		}

		fmt.Printf("Removed device %s. Data on the device is left in place.\n", args[0])
		return nil
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListDevices")
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := a.Devices()
		if err != nil {
			return err
		}

		if len(devices) == 0 {
			fmt.Println("No devices registered.")
			return nil
		}

		for _, d := range devices {
			fmt.Printf("%-15s  %-8s  %-10s  %-28s  last seen %s\n",
				d.Name,
				d.DeviceType,
				d.Location,
				d.SecurityLevel,
				formatTime(d.LastConnection),
			)
		}
		return nil
	},
}

// class command
var classCmd = &cobra.Command{
	Use:   "class",
	Short: "Manage backup requirement classes",
}

var classAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Define a requirement class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		copies, _ := cmd.Flags().GetUint32("copies")
		locations, _ := cmd.Flags().GetUint32("locations")
		minSecurity, _ := cmd.Flags().GetString("min-security")

		level, err := model.ParseSecurityLevel(minSecurity)
		if err != nil {
			return err
		}

		class, err := model.NewRequirementClass(args[0], copies, locations, level)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "AddClass")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddClass(class); err != nil {
			return err
		}

		fmt.Printf("Added class %s: %d copies across %d locations, min security %s\n",
			class.Name, class.TargetCopies, class.TargetLocations, class.MinSecurityLevel)
		return nil
	},
}

var classListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requirement classes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListClasses")
		if err != nil {
			return err
		}
		defer a.Close()

		classes, err := a.Classes()
		if err != nil {
			return err
		}

		for _, c := range classes {
			fmt.Printf("%-15s  copies:%d  locations:%d  min security:%s\n",
				c.Name, c.TargetCopies, c.TargetLocations, c.MinSecurityLevel)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup PROJECT [DEVICE]",
	Short: "Back up a project",
	Long: `Back up a project to a secondary device.

With a DEVICE argument the backup goes to that device. Without one, the
project's requirement class picks the devices: enough eligible candidates
are used to reach the class targets.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 2 {
			report, err := a.Backup(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			printBackupReport(report)
			return nil
		}

		runs, err := a.BackupProject(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("Backup requirement already satisfied, nothing to do.")
			return nil
		}

		failed := 0
		for _, run := range runs {
			if run.Err != nil {
				failed++
				fmt.Printf("%s: failed: %v\n", run.Device, run.Err)
				continue
			}
			printBackupReport(run.Report)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d device run(s) failed", failed, len(runs))
		}
		return nil
	},
}

func printBackupReport(r *bkp.BackupReport) {
	if r.UpToDate {
		fmt.Printf("%s: %s already up to date\n", r.Device, r.Project)
		return
	}
	fmt.Printf("%s: backed up %s: %d file(s) uploaded (%d bytes), %d removed\n",
		r.Device, r.Project, r.Uploaded, r.Bytes, r.Removed)
	if !r.LogPushed {
		fmt.Printf("%s: index log not pushed, run 'bkp sync %s' later\n", r.Device, r.Device)
	}
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore PROJECT DEVICE [DEST]",
	Short: "Restore a project from a device",
	Long: `Restore the latest backup of PROJECT from DEVICE into DEST.

DEST defaults to ./PROJECT. Only the device needs to be registered, so a
fresh host can pull projects it has never seen.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		dest := args[0]
		if len(args) == 3 {
			dest = args[2]
		}

		report, err := a.Restore(cmd.Context(), args[0], args[1], dest)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored %d file(s) (%d bytes) of %s into %s\n",
			report.Restored, report.Bytes, report.Project, report.Dest)
		for _, f := range report.Failed {
			fmt.Printf("  failed: %s\n", f)
		}
		return nil
	},
}

// explore command
var exploreCmd = &cobra.Command{
	Use:   "explore DEVICE",
	Short: "List projects stored on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ExploreDevice")
		if err != nil {
			return err
		}
		defer a.Close()

		found := 0
		err = a.ExploreDevice(cmd.Context(), args[0], func(s bkp.ProjectSummary) error {
			found++
			registered := ""
			if !s.Registered {
				registered = "  [not tracked here]"
			}
			fmt.Printf("%-20s  %4d file(s)  %12d bytes  %s%s\n",
				s.Project, s.Files, s.Bytes, formatTime(s.LastBackup), registered)
			return nil
		})
		if err != nil {
			return err
		}

		if found == 0 {
			fmt.Println("No projects on this device.")
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync [DEVICE]",
	Short: "Reconcile index logs with devices",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SyncIndexes")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			report, err := a.SyncIndexes(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			printSyncReport(report)
			return nil
		}

		runs, err := a.SyncAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		failed := 0
		for _, run := range runs {
			if run.Err != nil {
				failed++
				fmt.Printf("%s: failed: %v\n", run.Device, run.Err)
				continue
			}
			printSyncReport(run.Report)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d device(s) failed to sync", failed, len(runs))
		}
		return nil
	},
}

func printSyncReport(r *bkp.SyncReport) {
	fmt.Printf("%s: %d new entries pulled (%d already known), %d pushed\n",
		r.Device, r.Added, r.Duplicates, r.Pushed)
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge PROJECT DEVICE",
	Short: "Delete files a project's latest backup no longer references",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			ok, err := confirm(fmt.Sprintf(
				"Permanently delete files of %s on %s that the latest backup no longer references?",
				args[0], args[1]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp(cmd.Context(), "PurgeRemoved")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.PurgeRemoved(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}

		fmt.Printf("Deleted %d file(s) of %s on %s\n", len(report.Deleted), report.Project, report.Device)
		for _, f := range report.Failed {
			fmt.Printf("  failed: %s\n", f)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// project subcommands
	projectCmd.AddCommand(projectAddCmd)
	projectAddCmd.Flags().String("name", "", "Project name (default: directory name)")
	projectAddCmd.Flags().String("class", "", "Requirement class (default: standard)")
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectSetClassCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectStatusCmd)

	// device subcommands
	deviceCmd.AddCommand(deviceAddCmd)
	deviceAddCmd.Flags().String("type", "localdir", "Device type (localdir, s3)")
	deviceAddCmd.Flags().String("location", "", "Physical location label (home, work, aws, ...)")
	deviceAddCmd.Flags().String("security", "network_untrusted_restricted", "Security level of the device")
	deviceAddCmd.Flags().String("path", "", "Root directory (localdir)")
	deviceAddCmd.Flags().String("bucket", "", "Bucket name (s3)")
	deviceAddCmd.Flags().String("prefix", "", "Key prefix (s3)")
	deviceAddCmd.Flags().String("region", "", "Region (s3)")
	deviceAddCmd.Flags().String("endpoint", "", "Custom endpoint URL (s3)")
	deviceAddCmd.Flags().String("access-key", "", "Access key ID (s3)")
	deviceAddCmd.Flags().String("secret-key", "", "Secret access key (s3, prompted if omitted)")
	deviceCmd.AddCommand(deviceRemoveCmd)
	deviceCmd.AddCommand(deviceListCmd)

	// class subcommands
	classCmd.AddCommand(classAddCmd)
	classAddCmd.Flags().Uint32("copies", 2, "Target number of distinct copies")
	classAddCmd.Flags().Uint32("locations", 1, "Target number of distinct locations")
	classAddCmd.Flags().String("min-security", "network_untrusted_restricted", "Minimum device security level")
	classCmd.AddCommand(classListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(classCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
}
