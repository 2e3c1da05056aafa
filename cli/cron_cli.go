package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/smallnest/clawgate/agent"
	"github.com/smallnest/clawgate/channels"
	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/cron"
	"github.com/smallnest/clawgate/gateway"
	"github.com/smallnest/clawgate/internal/logger"
	"github.com/smallnest/clawgate/session"
	"github.com/spf13/cobra"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Scheduled jobs management",
}

var cronStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status",
	Run:   runCronStatus,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Run:   runCronList,
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new scheduled job",
	Run:   runCronAdd,
}

var cronRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	Run:   runCronRm,
}

var cronEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	Run:   runCronEnable,
}

var cronDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	Run:   runCronDisable,
}

var cronRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a job immediately",
	Args:  cobra.ExactArgs(1),
	Run:   runCronRun,
}

var cronRunsCmd = &cobra.Command{
	Use:   "runs <id>",
	Short: "View job run history",
	Args:  cobra.ExactArgs(1),
	Run:   runCronRuns,
}

var (
	cronListJSON bool

	cronAddName         string
	cronAddAt           string
	cronAddEvery        string
	cronAddCron         string
	cronAddMessage      string
	cronAddNotify       bool
	cronAddSession      string
	cronAddChannel      string
	cronAddTarget       string
	cronAddWebhook      string
	cronAddWebhookToken string
	cronAddBestEffort   bool

	cronRunsLimit int
)

func init() {
	rootCmd.AddCommand(cronCmd)
	cronCmd.AddCommand(cronStatusCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRmCmd)
	cronCmd.AddCommand(cronEnableCmd)
	cronCmd.AddCommand(cronDisableCmd)
	cronCmd.AddCommand(cronRunCmd)
	cronCmd.AddCommand(cronRunsCmd)

	cronAddCmd.Aliases = []string{"create"}

	cronListCmd.Flags().BoolVar(&cronListJSON, "json", false, "Output in JSON format")

	cronAddCmd.Flags().StringVar(&cronAddName, "name", "", "Job name (required)")
	cronAddCmd.Flags().StringVar(&cronAddAt, "at", "", "Time to run once (RFC 3339)")
	cronAddCmd.Flags().StringVar(&cronAddEvery, "every", "", "Interval (e.g. 30s, 5m, 2h, 1d)")
	cronAddCmd.Flags().StringVar(&cronAddCron, "cron", "", "Cron expression (5 fields)")
	cronAddCmd.Flags().StringVar(&cronAddMessage, "message", "", "Message to send (required)")
	cronAddCmd.Flags().BoolVar(&cronAddNotify, "notify", false, "Deliver the message text directly instead of running the agent")
	cronAddCmd.Flags().StringVar(&cronAddSession, "session", "", "Pin agent runs to an existing session key")
	cronAddCmd.Flags().StringVar(&cronAddChannel, "channel", "", "Notification channel (telegram, discord)")
	cronAddCmd.Flags().StringVar(&cronAddTarget, "target", "", "Channel target (chat or channel ID)")
	cronAddCmd.Flags().StringVar(&cronAddWebhook, "webhook", "", "Webhook URL for result delivery")
	cronAddCmd.Flags().StringVar(&cronAddWebhookToken, "webhook-token", "", "Webhook bearer token")
	cronAddCmd.Flags().BoolVar(&cronAddBestEffort, "best-effort", false, "Do not fail the job on delivery failure")
	_ = cronAddCmd.MarkFlagRequired("name")
	_ = cronAddCmd.MarkFlagRequired("message")

	cronRunsCmd.Flags().IntVar(&cronRunsLimit, "limit", 10, "Limit number of results")
}

// openCronService builds a service over the on-disk stores without an
// executor. Enough for everything except actually running a job.
func openCronService() *cron.Service {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := cron.NewStore(cfg.Cron.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job store: %v\n", err)
		os.Exit(1)
	}
	runs, err := cron.NewRunStore(cfg.Cron.RunLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run log: %v\n", err)
		os.Exit(1)
	}

	svc, err := cron.NewService(store, runs, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load jobs: %v\n", err)
		os.Exit(1)
	}
	return svc
}

func runCronStatus(cmd *cobra.Command, args []string) {
	svc := openCronService()
	status := svc.Status()

	data, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(data))
}

func runCronList(cmd *cobra.Command, args []string) {
	svc := openCronService()
	jobs := svc.List()

	if cronListJSON {
		data, _ := json.MarshalIndent(jobs, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return
	}

	fmt.Println("Scheduled Jobs:")
	for _, job := range jobs {
		status := "enabled"
		if !job.State.Enabled {
			status = "disabled"
		}
		fmt.Printf("\n  %s (%s)\n", job.ID, status)
		fmt.Printf("    Name: %s\n", job.Name)
		fmt.Printf("    Schedule: %s\n", formatSchedule(job))
		fmt.Printf("    Payload: %s\n", formatPayload(job))
		fmt.Printf("    Next Run: %s\n", formatTimePtr(job.State.NextRunAt))
		if job.State.LastStatus != "" {
			fmt.Printf("    Last Status: %s\n", job.State.LastStatus)
		}
	}
}

func runCronAdd(cmd *cobra.Command, args []string) {
	schedule, err := parseScheduleFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid schedule: %v\n", err)
		os.Exit(1)
	}

	payloadType := cron.PayloadTypeAgent
	if cronAddNotify {
		payloadType = cron.PayloadTypeNotify
	}

	job := &cron.Job{
		Name:     cronAddName,
		Schedule: schedule,
		Payload: cron.Payload{
			Type:       payloadType,
			Message:    cronAddMessage,
			SessionKey: cronAddSession,
			Channel:    cronAddChannel,
			Target:     cronAddTarget,
		},
	}

	if cronAddWebhook != "" {
		job.Delivery = &cron.Delivery{
			Mode:         cron.DeliveryModeWebhook,
			WebhookURL:   cronAddWebhook,
			WebhookToken: cronAddWebhookToken,
			BestEffort:   cronAddBestEffort,
		}
	} else if payloadType == cron.PayloadTypeAgent && cronAddChannel != "" {
		job.Delivery = &cron.Delivery{
			Mode:       cron.DeliveryModeChannel,
			BestEffort: cronAddBestEffort,
		}
	}

	svc := openCronService()
	added, err := svc.Add(job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding job: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Job %q added with ID: %s\n", added.Name, added.ID)
	fmt.Printf("Next run: %s\n", formatTimePtr(added.State.NextRunAt))
}

func runCronRm(cmd *cobra.Command, args []string) {
	svc := openCronService()
	if err := svc.Remove(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error removing job: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Job %q removed\n", args[0])
}

func runCronEnable(cmd *cobra.Command, args []string) {
	svc := openCronService()
	if err := svc.SetEnabled(args[0], true); err != nil {
		fmt.Fprintf(os.Stderr, "Error enabling job: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Job %q enabled\n", args[0])
}

func runCronDisable(cmd *cobra.Command, args []string) {
	svc := openCronService()
	if err := svc.SetEnabled(args[0], false); err != nil {
		fmt.Fprintf(os.Stderr, "Error disabling job: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Job %q disabled\n", args[0])
}

// runCronRun executes a job in-process with the full agent stack, the
// same way the daemon would.
func runCronRun(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := cron.NewStore(cfg.Cron.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job store: %v\n", err)
		os.Exit(1)
	}
	jobs, err := store.LoadJobs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load jobs: %v\n", err)
		os.Exit(1)
	}
	var job *cron.Job
	for _, j := range jobs {
		if j.ID == args[0] {
			job = j
			break
		}
	}
	if job == nil {
		fmt.Fprintf(os.Stderr, "Job not found: %s\n", args[0])
		os.Exit(1)
	}

	provider, err := agent.ProviderByName(cfg.Agent.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid agent provider: %v\n", err)
		os.Exit(1)
	}
	runner := agent.NewRunner(provider,
		agent.WithBinary(cfg.Agent.Binary),
		agent.WithModel(cfg.Agent.Model),
		agent.WithWorkingDir(cfg.Agent.WorkingDir),
		agent.WithTimeout(cfg.Agent.Timeout),
		agent.WithPTY(cfg.Agent.UsePTY),
	)
	sessions := session.NewDirectory(cfg.Session.TTL)
	chat := gateway.NewChatService(runner, sessions, cfg.Queue.MaxPending)
	channelMgr := channels.NewManager(cfg.Channels)

	runs, err := cron.NewRunStore(cfg.Cron.RunLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run log: %v\n", err)
		os.Exit(1)
	}
	executor := cron.NewExecutor(chat, channelMgr, runs, cfg.Cron.DefaultTimeout)

	fmt.Printf("Running job %q...\n", job.Name)
	start := time.Now()
	if err := executor.Execute(context.Background(), job); err != nil {
		fmt.Fprintf(os.Stderr, "Job failed after %v: %v\n", time.Since(start).Round(time.Millisecond), err)
		os.Exit(1)
	}
	fmt.Printf("Job completed in %v\n", time.Since(start).Round(time.Millisecond))
}

func runCronRuns(cmd *cobra.Command, args []string) {
	svc := openCronService()

	runs, err := svc.RecentRuns(args[0], cronRunsLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading run history: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Printf("No run history found for job %q\n", args[0])
		return
	}

	fmt.Printf("Run history for job %q (last %d runs):\n", args[0], len(runs))
	for i, run := range runs {
		fmt.Printf("\n  %d. %s\n", i+1, run.StartedAt.Format(time.RFC3339))
		fmt.Printf("     Status: %s\n", run.Status)
		fmt.Printf("     Duration: %dms\n", run.DurationMs)
		if run.Error != "" {
			fmt.Printf("     Error: %s\n", run.Error)
		}
		if run.Output != "" {
			fmt.Printf("     Output: %s\n", truncate(run.Output, 200))
		}
	}
}

func parseScheduleFlags() (cron.Schedule, error) {
	set := 0
	if cronAddAt != "" {
		set++
	}
	if cronAddEvery != "" {
		set++
	}
	if cronAddCron != "" {
		set++
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("exactly one of --at, --every, --cron is required")
	}

	switch {
	case cronAddAt != "":
		t, err := time.Parse(time.RFC3339, cronAddAt)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("invalid time format (want RFC 3339): %w", err)
		}
		return cron.Schedule{Type: cron.ScheduleTypeAt, At: t}, nil
	case cronAddEvery != "":
		d, err := cron.ParseHumanDuration(cronAddEvery)
		if err != nil {
			return cron.Schedule{}, err
		}
		return cron.Schedule{Type: cron.ScheduleTypeEvery, EveryDuration: d}, nil
	default:
		return cron.Schedule{Type: cron.ScheduleTypeCron, CronExpression: cronAddCron}, nil
	}
}

func formatSchedule(job *cron.Job) string {
	switch job.Schedule.Type {
	case cron.ScheduleTypeAt:
		return "at " + job.Schedule.At.Format(time.RFC3339)
	case cron.ScheduleTypeEvery:
		return "every " + job.Schedule.EveryDuration.String()
	case cron.ScheduleTypeCron:
		return "cron " + job.Schedule.CronExpression
	default:
		return string(job.Schedule.Type)
	}
}

func formatPayload(job *cron.Job) string {
	switch job.Payload.Type {
	case cron.PayloadTypeAgent:
		return fmt.Sprintf("agent: %s", truncate(job.Payload.Message, 60))
	case cron.PayloadTypeNotify:
		return fmt.Sprintf("notify %s/%s: %s", job.Payload.Channel, job.Payload.Target, truncate(job.Payload.Message, 60))
	default:
		return string(job.Payload.Type)
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
