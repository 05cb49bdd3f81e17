// Package tui provides the interactive operator console for callqueue.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/claim"
	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/namematch"
	"github.com/fentz26/callqueue/internal/refresh"
)

// opTimeout bounds a single store operation started from the console.
const opTimeout = 15 * time.Second

const commandPlaceholder = "claim | reached | done <summary> | transfer <name> | postpone 2h"

type mode int

const (
	modeList mode = iota
	modeCommand
	modeDialog
)

// dialog is a one-line prompt whose answer feeds submit.
type dialog struct {
	title  string
	submit func(text string) tea.Cmd
}

// App is the main TUI application model.
type App struct {
	cache     *cache.Cache
	coord     *claim.Coordinator
	scheduler *refresh.Scheduler
	logger    *logging.Logger
	operator  string
	operators []string

	tasks       []models.Task
	selectedIdx int
	input       textinput.Model
	spinner     spinner.Model
	suggestions *Suggestions
	width       int
	height      int
	mode        mode
	dialog      *dialog
	message     string
	isError     bool
	busy        int

	changes    chan struct{}
	dialogOpen atomic.Bool

	mu        sync.Mutex
	focusedID string

	now func() time.Time
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithOperators sets the names offered and matched by transfer.
func WithOperators(names []string) Option {
	return func(a *App) { a.operators = names }
}

// New creates the console. Call SetScheduler before Run so refreshes go
// through the scheduler; without one the cache is refreshed directly.
func New(c *cache.Cache, coord *claim.Coordinator, opts ...Option) *App {
	ti := textinput.New()
	ti.Placeholder = commandPlaceholder
	ti.CharLimit = 256
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = labelStyle

	a := &App{
		cache:       c,
		coord:       coord,
		logger:      logging.NopLogger(),
		operator:    coord.Operator(),
		input:       ti,
		spinner:     sp,
		suggestions: NewSuggestions(),
		changes:     make(chan struct{}, 1),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.operators = namematch.Distinct(append([]string{a.operator}, a.operators...))
	a.suggestions.SetOperators(a.operators)
	a.logger = a.logger.WithComponent("tui")

	c.OnChange(a.notify)
	a.syncTasks()
	return a
}

// SetScheduler routes refreshes, activity and focus through s.
func (a *App) SetScheduler(s *refresh.Scheduler) {
	a.scheduler = s
}

// DialogOpen reports whether the operator is typing. Background refreshes
// hold off while it is true.
func (a *App) DialogOpen() bool {
	return a.dialogOpen.Load()
}

// Focused returns the task under the cursor.
func (a *App) Focused() (models.Task, bool) {
	a.mu.Lock()
	id := a.focusedID
	a.mu.Unlock()
	if id == "" {
		return models.Task{}, false
	}
	return a.cache.Get(id)
}

// notify coalesces cache changes into a single pending wake-up; it never
// blocks the goroutine that changed the cache.
func (a *App) notify() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

// Run starts the TUI application.
func (a *App) Run(ctx context.Context) error {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Messages
type cacheChangedMsg struct{}

type resultMsg struct {
	text string
	err  error
}

func (a *App) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-a.changes
		return cacheChangedMsg{}
	}
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.spinner.Tick,
		a.waitForChange(),
		a.refresh(cache.ModeForeground),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.scheduler != nil {
			a.scheduler.Activity().Touch()
		}
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		switch a.mode {
		case modeCommand:
			return a, a.updateCommand(msg)
		case modeDialog:
			return a, a.updateDialog(msg)
		default:
			return a, a.updateList(msg)
		}

	case tea.MouseMsg:
		if a.scheduler != nil {
			a.scheduler.Activity().Touch()
		}

	case tea.FocusMsg:
		if a.scheduler != nil {
			a.scheduler.Visibility().SetVisible(true)
		}

	case tea.BlurMsg:
		if a.scheduler != nil {
			a.scheduler.Visibility().SetVisible(false)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = max(msg.Width-8, 10)

	case cacheChangedMsg:
		a.syncTasks()
		return a, a.waitForChange()

	case resultMsg:
		if a.busy > 0 {
			a.busy--
		}
		if msg.err != nil {
			a.setError(msg.err)
		} else if msg.text != "" {
			a.setMessage(msg.text)
		}
		a.syncTasks()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updateList(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
			a.setFocus()
		}
	case "down", "j":
		if a.selectedIdx < len(a.tasks)-1 {
			a.selectedIdx++
			a.setFocus()
		}
	case "esc":
		a.message = ""
	case ":", "/", "enter":
		a.openCommand("")
	case "r":
		return a.refresh(cache.ModeForeground)
	case "c":
		return a.runCommand(command{name: "claim"})
	case "y":
		return a.runCommand(command{name: "reached"})
	case "n":
		return a.runCommand(command{name: "unreached"})
	case "b":
		return a.runCommand(command{name: "boost"})
	case "u":
		return a.runCommand(command{name: "unassign"})
	case "d":
		return a.runCommand(command{name: "done"})
	case "x":
		return a.runCommand(command{name: "abandon"})
	case "t":
		a.openCommand("transfer ")
	case "p":
		a.openCommand("postpone ")
	}
	return nil
}

func (a *App) updateCommand(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.closeInput()
		return nil
	case "up":
		a.suggestions.Prev()
		return nil
	case "down":
		a.suggestions.Next()
		return nil
	case "tab":
		if a.suggestions.IsVisible() {
			a.input.SetValue(a.suggestions.Complete(a.input.Value()))
			a.input.CursorEnd()
			a.suggestions.Update(a.input.Value())
		}
		return nil
	case "enter":
		line := strings.TrimSpace(a.input.Value())
		a.closeInput()
		cmd, ok := parseCommand(line)
		if !ok {
			return nil
		}
		return a.runCommand(cmd)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.suggestions.Update(a.input.Value())
	return cmd
}

func (a *App) updateDialog(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.closeInput()
		a.setMessage("cancelled")
		return nil
	case "enter":
		text := strings.TrimSpace(a.input.Value())
		d := a.dialog
		a.closeInput()
		if d == nil {
			return nil
		}
		return d.submit(text)
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return cmd
}

func (a *App) openCommand(prefill string) {
	a.mode = modeCommand
	a.input.Prompt = ": "
	a.input.SetValue(prefill)
	a.input.CursorEnd()
	a.input.Focus()
	a.suggestions.Update(prefill)
	a.dialogOpen.Store(true)
}

func (a *App) openDialog(title, placeholder string, submit func(string) tea.Cmd) {
	a.mode = modeDialog
	a.dialog = &dialog{title: title, submit: submit}
	a.input.Prompt = "> "
	a.input.SetValue("")
	a.input.Placeholder = placeholder
	a.input.Focus()
	a.suggestions.Update("")
	a.dialogOpen.Store(true)
}

func (a *App) closeInput() {
	a.mode = modeList
	a.dialog = nil
	a.input.Blur()
	a.input.SetValue("")
	a.input.Placeholder = commandPlaceholder
	a.suggestions.Update("")
	a.dialogOpen.Store(false)
}

// syncTasks re-reads the cache and keeps the cursor on the same task when
// it is still listed.
func (a *App) syncTasks() {
	a.tasks = a.cache.Tasks()
	a.mu.Lock()
	id := a.focusedID
	a.mu.Unlock()
	for i, t := range a.tasks {
		if t.ID == id {
			a.selectedIdx = i
			return
		}
	}
	if a.selectedIdx >= len(a.tasks) {
		a.selectedIdx = max(0, len(a.tasks)-1)
	}
	a.setFocus()
}

func (a *App) setFocus() {
	id := ""
	if a.selectedIdx < len(a.tasks) {
		id = a.tasks[a.selectedIdx].ID
	}
	a.mu.Lock()
	a.focusedID = id
	a.mu.Unlock()
}

func (a *App) selected() (models.Task, bool) {
	if a.selectedIdx >= len(a.tasks) {
		return models.Task{}, false
	}
	return a.tasks[a.selectedIdx], true
}

func (a *App) setMessage(text string) {
	a.message = text
	a.isError = false
}

func (a *App) setError(err error) {
	a.message = err.Error()
	a.isError = true
}

func (a *App) refresh(m cache.Mode) tea.Cmd {
	a.busy++
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		var err error
		if a.scheduler != nil {
			err = a.scheduler.Refresh(ctx, m, refresh.SourceManual)
		} else {
			err = a.cache.Refresh(ctx, m)
		}
		if err != nil {
			return resultMsg{err: fmt.Errorf("refresh: %w", err)}
		}
		return resultMsg{}
	}
}

// op runs fn against the selected task off the UI goroutine.
func (a *App) op(fn func(ctx context.Context, t models.Task) (string, error)) tea.Cmd {
	task, ok := a.selected()
	if !ok {
		return func() tea.Msg { return resultMsg{err: errNoSelection} }
	}
	a.busy++
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		text, err := fn(ctx, task)
		return resultMsg{text: text, err: err}
	}
}

func (a *App) runCommand(cmd command) tea.Cmd {
	a.logger.Debug("command", "name", cmd.name, "args", len(cmd.args))

	switch cmd.name {
	case "claim":
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			res, err := a.coord.Claim(ctx, t.ID)
			if err != nil {
				return "", err
			}
			return claimMessage(res, t), nil
		})

	case "reached", "unreached":
		reachable := cmd.name == "reached"
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			if _, err := a.coord.RecordCallOutcome(ctx, t, reachable); err != nil {
				return "", err
			}
			if reachable {
				return "✓ call logged, " + t.ContactName + " in progress", nil
			}
			return "✓ missed call logged, retry scheduled", nil
		})

	case "done":
		if len(cmd.args) == 0 {
			a.openDialog("Outcome summary", "what was agreed on the call", func(text string) tea.Cmd {
				return a.runCommand(command{name: "done", args: strings.Fields(text)})
			})
			return nil
		}
		summary := cmd.rest(0)
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			if _, err := a.coord.Complete(ctx, t, summary); err != nil {
				return "", err
			}
			return "✓ completed " + t.ContactName, nil
		})

	case "abandon":
		if len(cmd.args) == 0 {
			a.openDialog("Reason for abandoning", "why this callback is dropped", func(text string) tea.Cmd {
				if text == "" {
					return func() tea.Msg { return resultMsg{err: fmt.Errorf("abandon: %w", errUsage)} }
				}
				return a.runCommand(command{name: "abandon", args: strings.Fields(text)})
			})
			return nil
		}
		reason := cmd.rest(0)
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			if _, err := a.coord.Abandon(ctx, t, reason); err != nil {
				return "", err
			}
			return "✓ abandoned " + t.ContactName, nil
		})

	case "transfer":
		if len(cmd.args) == 0 {
			a.openCommand("transfer ")
			return nil
		}
		target, err := resolveOperator(cmd.args[0], a.operators)
		if err != nil {
			return func() tea.Msg { return resultMsg{err: err} }
		}
		reason := cmd.rest(1)
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			if _, err := a.coord.Transfer(ctx, t, target, reason); err != nil {
				return "", err
			}
			return "✓ transferred to " + target, nil
		})

	case "unassign":
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			if _, err := a.coord.Unassign(ctx, t); err != nil {
				return "", err
			}
			return "✓ released to the queue", nil
		})

	case "postpone":
		if len(cmd.args) == 0 {
			a.openCommand("postpone ")
			return nil
		}
		now := a.now()
		until, note, err := postponeArgs(cmd, now)
		if err != nil {
			return func() tea.Msg { return resultMsg{err: fmt.Errorf("postpone: %w", err)} }
		}
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			if _, err := a.coord.Postpone(ctx, t, until, note); err != nil {
				return "", err
			}
			return "✓ postponed until " + until.Format("Mon 15:04"), nil
		})

	case "boost", "urgent":
		variant := claim.BoostPhone
		if cmd.name == "urgent" {
			variant = claim.BoostUrgent
		}
		return a.op(func(ctx context.Context, t models.Task) (string, error) {
			if _, err := a.coord.Boost(ctx, t, variant); err != nil {
				return "", err
			}
			return "✓ boosted " + t.ContactName, nil
		})

	case "refresh":
		return a.refresh(cache.ModeForeground)

	case "whoami":
		a.setMessage("operator: " + a.operator)
		return nil

	case "quit":
		return tea.Quit
	}

	a.setError(fmt.Errorf("unknown command: %s", cmd.name))
	return nil
}

// postponeArgs splits "postpone <when> [note]". A two-word date such as
// "2024-05-06 15:00" is tried before a one-word one.
func postponeArgs(cmd command, now time.Time) (time.Time, string, error) {
	if len(cmd.args) >= 2 {
		if t, err := ParseWhen(cmd.args[0]+" "+cmd.args[1], now); err == nil {
			return t, cmd.rest(2), nil
		}
	}
	t, err := ParseWhen(cmd.args[0], now)
	if err != nil {
		return time.Time{}, "", err
	}
	return t, cmd.rest(1), nil
}

func claimMessage(res claim.Result, t models.Task) string {
	switch res {
	case claim.ClaimOK:
		return "✓ claimed " + t.ContactName
	case claim.ClaimConflict:
		return "✗ " + t.ContactName + " is already taken by another operator"
	case claim.ClaimInFlight:
		return "claim for " + t.ContactName + " is still being verified"
	default:
		return "✗ claim was not confirmed, try again"
	}
}
