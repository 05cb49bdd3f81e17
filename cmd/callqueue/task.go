package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/callqueue/internal/audit"
	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/claim"
	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/tui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Work with callback tasks without the console",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your open tasks and the free ones",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details and recent history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a callback task",
	Args:  cobra.NoArgs,
	RunE:  runTaskAdd,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim [task-id]",
	Short: "Claim a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClaim,
}

var taskReachedCmd = &cobra.Command{
	Use:   "reached [task-id]",
	Short: "Log a call that got through",
	Args:  cobra.ExactArgs(1),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, _ []string) (string, error) {
		_, err := s.coord.RecordCallOutcome(ctx, t, true)
		return "Logged call to " + t.ContactName, err
	}),
}

var taskUnreachedCmd = &cobra.Command{
	Use:   "unreached [task-id]",
	Short: "Log a missed call and schedule a retry",
	Args:  cobra.ExactArgs(1),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, _ []string) (string, error) {
		updated, err := s.coord.RecordCallOutcome(ctx, t, false)
		if err != nil {
			return "", err
		}
		return "Retry due " + formatTime(updated.DueDate), nil
	}),
}

var taskDoneCmd = &cobra.Command{
	Use:   "done [task-id] [summary...]",
	Short: "Complete a task with an outcome summary",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, rest []string) (string, error) {
		_, err := s.coord.Complete(ctx, t, strings.Join(rest, " "))
		return "Completed " + t.ContactName, err
	}),
}

var taskAbandonCmd = &cobra.Command{
	Use:   "abandon [task-id] [reason...]",
	Short: "Cancel a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, rest []string) (string, error) {
		_, err := s.coord.Abandon(ctx, t, strings.Join(rest, " "))
		return "Abandoned " + t.ContactName, err
	}),
}

var taskTransferCmd = &cobra.Command{
	Use:   "transfer [task-id] [operator] [reason...]",
	Short: "Hand a task to another operator",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, rest []string) (string, error) {
		_, err := s.coord.Transfer(ctx, t, rest[0], strings.Join(rest[1:], " "))
		return "Transferred to " + rest[0], err
	}),
}

var taskUnassignCmd = &cobra.Command{
	Use:   "unassign [task-id]",
	Short: "Release a task to the shared queue",
	Args:  cobra.ExactArgs(1),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, _ []string) (string, error) {
		_, err := s.coord.Unassign(ctx, t)
		return "Released " + t.ContactName, err
	}),
}

var taskPostponeCmd = &cobra.Command{
	Use:   "postpone [task-id] [when] [note...]",
	Short: "Move a task's due date (2h, 15:04, tomorrow, 2006-01-02 15:04)",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, rest []string) (string, error) {
		until, err := tui.ParseWhen(rest[0], time.Now())
		if err != nil {
			return "", err
		}
		updated, err := s.coord.Postpone(ctx, t, until, strings.Join(rest[1:], " "))
		if err != nil {
			return "", err
		}
		return "Postponed until " + formatTime(updated.DueDate), nil
	}),
}

var taskBoostCmd = &cobra.Command{
	Use:   "boost [task-id]",
	Short: "Make a task the one you are calling now",
	Args:  cobra.ExactArgs(1),
	RunE: withTask(func(ctx context.Context, s *session, t models.Task, _ []string) (string, error) {
		variant := claim.BoostPhone
		if boostUrgent {
			variant = claim.BoostUrgent
		}
		_, err := s.coord.Boost(ctx, t, variant)
		return "Boosted " + t.ContactName, err
	}),
}

var (
	listAll     bool
	boostUrgent bool

	addName     string
	addPhone    string
	addNotes    string
	addPriority string
	addDue      string
)

func init() {
	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskAddCmd, taskClaimCmd,
		taskReachedCmd, taskUnreachedCmd, taskDoneCmd, taskAbandonCmd,
		taskTransferCmd, taskUnassignCmd, taskPostponeCmd, taskBoostCmd)

	taskListCmd.Flags().BoolVar(&listAll, "all", false, "list every record, including closed ones and other operators'")
	taskBoostCmd.Flags().BoolVar(&boostUrgent, "urgent", false, "boost without starting the call")

	taskAddCmd.Flags().StringVar(&addName, "name", "", "contact name (required)")
	taskAddCmd.Flags().StringVar(&addPhone, "phone", "", "phone number")
	taskAddCmd.Flags().StringVar(&addNotes, "notes", "", "notes for the caller")
	taskAddCmd.Flags().StringVar(&addPriority, "priority", "medium", "low, medium, high or urgent")
	taskAddCmd.Flags().StringVar(&addDue, "due", "", "due time (2h, 15:04, tomorrow, 2006-01-02 15:04)")
	taskAddCmd.MarkFlagRequired("name")
}

// session is a short-lived coordinator over a freshly loaded cache.
type session struct {
	operator string
	backend  *backend
	sink     audit.Sink
	cache    *cache.Cache
	coord    *claim.Coordinator
	logger   *logging.Logger
}

func openSession(ctx context.Context) (*session, error) {
	operator, err := currentOperator()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFile(cfg.LogFile(), cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger = logger.WithOperator(operator).WithComponent("cli")

	b, err := openBackend(cfg, operator)
	if err != nil {
		logger.Close()
		return nil, err
	}
	sink, err := b.auditSink()
	if err != nil {
		b.Close()
		logger.Close()
		return nil, err
	}
	pub, _ := b.realtimeFor(cfg, logger)

	c := cache.New(b.store, operator, cache.WithLogger(logger))
	if err := c.Refresh(ctx, cache.ModeForeground); err != nil {
		b.Close()
		logger.Close()
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	coord := claim.New(b.store, c, operator,
		claim.WithConfig(cfg.Claim.Coordinator()),
		claim.WithLogger(logger),
		claim.WithPublisher(pub),
		claim.WithAuditor(audit.NewWriter(sink)),
	)
	return &session{operator: operator, backend: b, sink: sink, cache: c, coord: coord, logger: logger}, nil
}

func (s *session) Close() {
	s.coord.Close()
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("close backend", "error", err)
	}
	s.logger.Close()
}

// withTask opens a session, looks up args[0] and runs fn with the remaining
// arguments, printing its message on success.
func withTask(fn func(ctx context.Context, s *session, t models.Task, rest []string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		t, err := s.coord.Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		msg, err := fn(ctx, s, t, args[1:])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	}
}

func runTaskList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var tasks []models.Task
	if listAll {
		recs, err := s.backend.store.List(ctx, models.Filter{})
		if err != nil {
			return err
		}
		for _, r := range recs {
			tasks = append(tasks, models.TaskFromRecord(r))
		}
	} else {
		tasks = s.cache.Tasks()
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found")
		return nil
	}
	printTasks(out, tasks)
	return nil
}

func printTasks(out io.Writer, tasks []models.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONTACT\tPHONE\tSTATUS\tPRIORITY\tASSIGNEE\tDUE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, truncate(t.ContactName, 30), t.Phone, t.Status, t.Priority, t.AssignedTo, formatTime(t.DueDate))
	}
	w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.coord.Lookup(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", t.ID)
	fmt.Fprintf(out, "Contact:   %s\n", t.ContactName)
	fmt.Fprintf(out, "Phone:     %s\n", t.Phone)
	fmt.Fprintf(out, "Status:    %s\n", t.Status)
	fmt.Fprintf(out, "Priority:  %s\n", t.Priority)
	if t.AssignedTo != "" {
		fmt.Fprintf(out, "Assignee:  %s\n", t.AssignedTo)
	}
	fmt.Fprintf(out, "Due:       %s\n", formatTime(t.DueDate))
	if t.Notes != "" {
		fmt.Fprintf(out, "Notes:     %s\n", t.Notes)
	}
	if t.Outcome != "" {
		fmt.Fprintf(out, "Outcome:   %s\n", t.Outcome)
	}

	if history := t.RecentHistory(time.Now()); len(history) > 0 {
		fmt.Fprintln(out, "\n--- HISTORY (48h) ---")
		for _, h := range history {
			fmt.Fprintf(out, "%s  %-13s %-10s %s\n", h.Timestamp.Local().Format(time.DateTime), h.Action, h.Actor, h.Details)
		}
	}

	type decisionReader interface {
		DecisionsForTask(ctx context.Context, taskID string) ([]models.Decision, error)
	}
	if dr, ok := s.sink.(decisionReader); ok {
		decisions, err := dr.DecisionsForTask(ctx, t.ID)
		if err == nil && len(decisions) > 0 {
			fmt.Fprintln(out, "\n--- DECISIONS ---")
			for _, d := range decisions {
				fmt.Fprintf(out, "%s  %-20s %-8s %s\n", d.Timestamp.Local().Format(time.DateTime), d.Action, d.Outcome, d.Details)
			}
		}
	}
	return nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if !models.Priority(addPriority).Valid() || models.Priority(addPriority) == models.PriorityBoosted {
		return fmt.Errorf("invalid priority %q", addPriority)
	}
	rec := models.Record{
		ContactName: addName,
		Phone:       addPhone,
		Notes:       addNotes,
		Priority:    addPriority,
		Status:      string(models.TaskStatusPending),
	}
	if addDue != "" {
		due, err := tui.ParseWhen(addDue, time.Now())
		if err != nil {
			return err
		}
		due = due.UTC()
		rec.DueDate = &due
	}

	cr, err := s.backend.creator()
	if err != nil {
		return err
	}
	created, err := cr.Create(ctx, rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created task: %s\n", created.ID)
	return nil
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.coord.Claim(ctx, args[0])
	if errors.Is(err, claim.ErrAlreadyAssigned) {
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s is already yours\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}
	switch res {
	case claim.ClaimOK:
		fmt.Fprintf(cmd.OutOrStdout(), "Claimed task %s\n", args[0])
		return nil
	case claim.ClaimConflict:
		return fmt.Errorf("task %s is held by another operator", args[0])
	default:
		return fmt.Errorf("claim of %s was not confirmed (%s), try again", args[0], res)
	}
}

// --- Helpers ---

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
