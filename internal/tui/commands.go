package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/callqueue/internal/namematch"
)

var (
	errNoSelection = errors.New("no task selected")
	errUsage       = errors.New("missing argument")
)

// command is one parsed line from the command bar.
type command struct {
	name string
	args []string
}

// rest joins the arguments from index i on.
func (c command) rest(i int) string {
	if i >= len(c.args) {
		return ""
	}
	return strings.Join(c.args[i:], " ")
}

var commandAliases = map[string]string{
	"ok":     "reached",
	"fail":   "unreached",
	"noans":  "unreached",
	"close":  "done",
	"cancel": "abandon",
	"give":   "transfer",
	"later":  "postpone",
	"r":      "refresh",
	"q":      "quit",
}

func parseCommand(input string) (command, bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return command{}, false
	}
	name := strings.ToLower(fields[0])
	if alias, ok := commandAliases[name]; ok {
		name = alias
	}
	return command{name: name, args: fields[1:]}, true
}

// ParseWhen reads a postpone target: a duration ("90m", "2h"), a clock time
// today ("15:04"), "tomorrow" (09:00 next day) or a full "2006-01-02 15:04".
func ParseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errUsage
	}
	if strings.EqualFold(s, "tomorrow") {
		y, m, d := now.AddDate(0, 0, 1).Date()
		return time.Date(y, m, d, 9, 0, 0, 0, now.Location()), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	if t, err := time.ParseInLocation("15:04", s, now.Location()); err == nil {
		y, m, d := now.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, now.Location()), nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot read %q as a time", s)
}

// resolveOperator maps a typed name onto a known operator. Unknown names
// pass through unchanged so work can go to someone not seen yet.
func resolveOperator(query string, known []string) (string, error) {
	name, err := namematch.Resolve(query, known)
	switch {
	case err == nil:
		return name, nil
	case errors.Is(err, namematch.ErrNoMatch):
		return strings.TrimSpace(query), nil
	default:
		return "", fmt.Errorf("%q: %w", query, err)
	}
}
