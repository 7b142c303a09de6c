// Command antctl is the operator CLI: it talks directly to the metadata
// store antcode-master and antcode-gateway share, the same way those
// composition roots do, rather than through a network API. There is no
// admin RPC surface on the Gateway — PollTask/AckTask/... are Worker-facing
// only — so antctl is a thin, trusted client of pkg/store.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/antcode/antcode/pkg/store"
	"github.com/antcode/antcode/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"

	flagDatabaseURL string
	flagDataDir     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "antctl",
	Short:   "Operator CLI for tasks, workers and install keys",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("antctl %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().StringVar(&flagDatabaseURL, "database-url", os.Getenv("ANTCODE_DATABASE_URL"), "Postgres DSN; empty uses the local BoltDB store")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "/var/lib/antcode/master", "BoltDB data directory when --database-url is empty")

	rootCmd.AddCommand(taskCmd, workerCmd, installKeyCmd)
	taskCmd.AddCommand(taskListCmd, taskGetCmd, taskCreateCmd, taskRunsCmd)
	workerCmd.AddCommand(workerListCmd, workerGetCmd)
	installKeyCmd.AddCommand(installKeyCreateCmd, installKeyListCmd)
}

func openStore() (store.Store, error) {
	return store.Open(flagDatabaseURL, flagDataDir)
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and create tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := st.ListTasks()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTRATEGY\tACTIVE\tNEXT RUN")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", t.ID, t.Name, t.ProjectType, t.Strategy, t.Active, t.NextRunTime.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Print one task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		task, err := st.GetTask(args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var taskRunsCmd = &cobra.Command{
	Use:   "runs <task-id>",
	Short: "List the runs recorded for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListTaskRunsByTask(args[0])
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN ID\tWORKER\tDISPATCH\tRUNTIME\tEXIT\tERROR")
		for _, r := range runs {
			exit := "-"
			if r.ExitCode != nil {
				exit = fmt.Sprintf("%d", *r.ExitCode)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.WorkerID, r.DispatchStatus, r.RuntimeStatus, exit, r.Error)
		}
		return tw.Flush()
	},
}

var (
	taskCreateName        string
	taskCreateProjectID   string
	taskCreateProjectType string
	taskCreateEntryPoint  string
	taskCreateStrategy    string
	taskCreateBoundWorker string
	taskCreateDownloadURL string
	taskCreateFileHash    string
	taskCreatePriority    int
	taskCreateTimeout     time.Duration
)

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new task",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		now := time.Now().UTC()
		task := &types.Task{
			ID:            uuid.NewString(),
			Name:          taskCreateName,
			ProjectID:     taskCreateProjectID,
			ProjectType:   types.ProjectType(taskCreateProjectType),
			EntryPoint:    taskCreateEntryPoint,
			Strategy:      types.DispatchStrategy(taskCreateStrategy),
			BoundWorkerID: taskCreateBoundWorker,
			Priority:      taskCreatePriority,
			Timeout:       taskCreateTimeout,
			DownloadURL:   taskCreateDownloadURL,
			FileHash:      taskCreateFileHash,
			NextRunTime:   now,
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := st.CreateTask(task); err != nil {
			return err
		}
		fmt.Println(task.ID)
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskCreateName, "name", "", "task name")
	taskCreateCmd.Flags().StringVar(&taskCreateProjectID, "project-id", "", "project identifier")
	taskCreateCmd.Flags().StringVar(&taskCreateProjectType, "project-type", string(types.ProjectTypeCode), "code|file|rule|render")
	taskCreateCmd.Flags().StringVar(&taskCreateEntryPoint, "entry-point", "main.py", "entry point within the project artifact")
	taskCreateCmd.Flags().StringVar(&taskCreateStrategy, "strategy", string(types.DispatchAnyCapable), "fixed|any_capable|prefer_bound_with_fallback")
	taskCreateCmd.Flags().StringVar(&taskCreateBoundWorker, "bound-worker-id", "", "worker ID for fixed/prefer_bound_with_fallback strategies")
	taskCreateCmd.Flags().StringVar(&taskCreateDownloadURL, "download-url", "", "artifact download URL")
	taskCreateCmd.Flags().StringVar(&taskCreateFileHash, "file-hash", "", "expected artifact hash")
	taskCreateCmd.Flags().IntVar(&taskCreatePriority, "priority", 0, "dispatch priority, higher runs first")
	taskCreateCmd.Flags().DurationVar(&taskCreateTimeout, "timeout", time.Hour, "execution timeout")
	taskCreateCmd.MarkFlagRequired("name")
	taskCreateCmd.MarkFlagRequired("project-id")
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect registered workers",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		workers, err := st.ListWorkers()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tZONE\tRUNNING\tMAX\tLAST HEARTBEAT")
		for _, w := range workers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", w.ID, w.Status, w.Zone, w.RunningTasks, w.MaxConcurrent, w.LastHeartbeat.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var workerGetCmd = &cobra.Command{
	Use:   "get <worker-id>",
	Short: "Print one worker as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		w, err := st.GetWorker(args[0])
		if err != nil {
			return err
		}
		return printJSON(w)
	},
}

var installKeyCmd = &cobra.Command{
	Use:   "install-key",
	Short: "Mint and inspect one-time Worker registration keys",
}

var (
	installKeyOSBinding  string
	installKeySourceCIDR string
	installKeySourceHost string
	installKeyTTL        time.Duration
)

var installKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new one-time install key",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ik := &types.InstallKey{
			Key:        uuid.NewString(),
			OSBinding:  installKeyOSBinding,
			SourceCIDR: installKeySourceCIDR,
			SourceHost: installKeySourceHost,
			ExpiresAt:  time.Now().Add(installKeyTTL),
			CreatedAt:  time.Now().UTC(),
		}
		if err := st.CreateInstallKey(ik); err != nil {
			return err
		}
		fmt.Println(ik.Key)
		return nil
	},
}

func init() {
	installKeyCreateCmd.Flags().StringVar(&installKeyOSBinding, "os", "", "restrict registration to this GOOS/GOARCH, e.g. linux/amd64")
	installKeyCreateCmd.Flags().StringVar(&installKeySourceCIDR, "source-cidr", "", "restrict registration to this source CIDR")
	installKeyCreateCmd.Flags().StringVar(&installKeySourceHost, "source-host", "", "restrict registration to this source hostname")
	installKeyCreateCmd.Flags().DurationVar(&installKeyTTL, "ttl", 24*time.Hour, "time until the key expires if unused")
}

var installKeyListCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one install key as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ik, err := st.GetInstallKey(args[0])
		if err != nil {
			return err
		}
		return printJSON(ik)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
