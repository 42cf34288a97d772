package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

// Kind identifies the trigger form.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindDate     Kind = "date"
)

// Trigger determines when a scheduled job instance fires next.
type Trigger interface {
	// Next returns the first fire time strictly after from. ok is false
	// when the trigger can never fire again.
	Next(from time.Time) (next time.Time, ok bool)

	// Kind reports the trigger form.
	Kind() Kind

	// Recurring reports whether the trigger fires more than once.
	Recurring() bool

	// String renders the prefixed spec form; ParseTrigger(t.String())
	// yields an equivalent trigger.
	String() string
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseTrigger parses a trigger specification string. Accepted forms:
//
//	cron:<5-field crontab>
//	interval:<unit>:<value>   (milliseconds, seconds, minutes, hours, days)
//	date:<RFC3339 or YYYY-MM-DD>
//
// An unprefixed string is attempted as a raw crontab expression.
func ParseTrigger(spec string) (Trigger, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: empty spec", core.ErrInvalidTrigger)
	}

	switch {
	case strings.HasPrefix(spec, "cron:"):
		return Cron(strings.TrimPrefix(spec, "cron:"))
	case strings.HasPrefix(spec, "interval:"):
		return parseInterval(strings.TrimPrefix(spec, "interval:"))
	case strings.HasPrefix(spec, "date:"):
		return parseDate(strings.TrimPrefix(spec, "date:"))
	}

	// Unprefixed: try raw crontab.
	t, err := Cron(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q matches no known form", core.ErrInvalidTrigger, spec)
	}
	return t, nil
}

// cronTrigger wraps a crontab expression.
type cronTrigger struct {
	expr     string
	schedule cron.Schedule
}

// Cron creates a trigger from a 5-field crontab expression.
func Cron(expr string) (Trigger, error) {
	expr = strings.TrimSpace(expr)
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", core.ErrInvalidTrigger, expr, err)
	}
	return &cronTrigger{expr: expr, schedule: schedule}, nil
}

func (t *cronTrigger) Next(from time.Time) (time.Time, bool) {
	next := t.schedule.Next(from)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func (t *cronTrigger) Kind() Kind      { return KindCron }
func (t *cronTrigger) Recurring() bool { return true }
func (t *cronTrigger) String() string  { return "cron:" + t.expr }

// intervalTrigger fires at fixed intervals.
type intervalTrigger struct {
	interval time.Duration
}

// Every creates a trigger that fires at fixed intervals.
func Every(d time.Duration) Trigger {
	return &intervalTrigger{interval: d}
}

func (t *intervalTrigger) Next(from time.Time) (time.Time, bool) {
	if t.interval <= 0 {
		return time.Time{}, false
	}
	return from.Add(t.interval), true
}

func (t *intervalTrigger) Kind() Kind      { return KindInterval }
func (t *intervalTrigger) Recurring() bool { return true }

func (t *intervalTrigger) String() string {
	switch {
	case t.interval%(24*time.Hour) == 0:
		return fmt.Sprintf("interval:days:%d", t.interval/(24*time.Hour))
	case t.interval%time.Hour == 0:
		return fmt.Sprintf("interval:hours:%d", t.interval/time.Hour)
	case t.interval%time.Minute == 0:
		return fmt.Sprintf("interval:minutes:%d", t.interval/time.Minute)
	case t.interval%time.Second == 0:
		return fmt.Sprintf("interval:seconds:%d", t.interval/time.Second)
	default:
		// Sub-millisecond remainders round up so the result stays parseable.
		ms := (t.interval + time.Millisecond - 1) / time.Millisecond
		if ms < 1 {
			ms = 1
		}
		return fmt.Sprintf("interval:milliseconds:%d", ms)
	}
}

func parseInterval(spec string) (Trigger, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: interval needs unit and value", core.ErrInvalidTrigger)
	}
	value, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || value <= 0 {
		return nil, fmt.Errorf("%w: interval value %q", core.ErrInvalidTrigger, parts[1])
	}

	var unit time.Duration
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(parts[0])), "s") + "s" {
	case "milliseconds", "millis", "ms":
		unit = time.Millisecond
	case "seconds", "secs":
		unit = time.Second
	case "minutes", "mins":
		unit = time.Minute
	case "hours", "hrs":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	default:
		return nil, fmt.Errorf("%w: interval unit %q", core.ErrInvalidTrigger, parts[0])
	}

	return Every(time.Duration(value) * unit), nil
}

// dateTrigger fires exactly once.
type dateTrigger struct {
	at time.Time
}

// At creates a one-shot trigger firing at the given time.
func At(t time.Time) Trigger {
	return &dateTrigger{at: t}
}

func (t *dateTrigger) Next(from time.Time) (time.Time, bool) {
	if t.at.After(from) {
		return t.at, true
	}
	return time.Time{}, false
}

func (t *dateTrigger) Kind() Kind      { return KindDate }
func (t *dateTrigger) Recurring() bool { return false }
func (t *dateTrigger) String() string  { return "date:" + t.at.Format(time.RFC3339) }

func parseDate(spec string) (Trigger, error) {
	spec = strings.TrimSpace(spec)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if at, err := time.Parse(layout, spec); err == nil {
			return At(at), nil
		}
	}
	return nil, fmt.Errorf("%w: date %q", core.ErrInvalidTrigger, spec)
}

// NextRuns previews up to n upcoming fire times, stopping early when the
// trigger is exhausted.
func NextRuns(t Trigger, from time.Time, n int) []time.Time {
	runs := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		next, ok := t.Next(from)
		if !ok {
			break
		}
		runs = append(runs, next)
		from = next
	}
	return runs
}

// BusinessHours reports whether t falls on a weekday within
// [startHour, endHour) in t's location.
func BusinessHours(t time.Time, startHour, endHour int) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return t.Hour() >= startHour && t.Hour() < endHour
}
