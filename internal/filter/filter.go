// Package filter compiles a participants + time-window predicate into a
// reusable expression program and evaluates it per message, the same way
// the bridge compiles a "when" trigger expression once and runs it against
// every incoming event.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/imrpcd/imrpcd/internal/model"
	"github.com/imrpcd/imrpcd/internal/rpcerr"
)

// Params are the raw, wire-shaped filter inputs accepted by
// messages.history and watch.subscribe.
type Params struct {
	Participants []string
	Start        string
	End          string
}

// exprEnv is the environment the compiled expression is evaluated against.
// Start and End are always present (as nanosecond Unix timestamps) so the
// same compiled program type-checks regardless of which clauses are active;
// clauses that don't reference them simply never touch the zero values.
type exprEnv struct {
	Sender       string
	CreatedAt    int64
	Participants map[string]bool
	Start        int64
	End          int64
}

// Filter is a compiled participants/time-window predicate. The zero value
// is not usable; construct with Compile.
type Filter struct {
	program      *vm.Program
	participants map[string]bool
	start        time.Time
	end          time.Time
}

// Compile parses Start/End as ISO-8601 (RFC 3339) and compiles the
// predicate expression once. An empty Participants set means no sender
// constraint; an unset Start or End means that bound doesn't apply.
// Invalid timestamps produce an rpcerr.InvalidParams error.
func Compile(p Params) (*Filter, error) {
	f := &Filter{participants: toSet(p.Participants)}

	if p.Start != "" {
		start, err := time.Parse(time.RFC3339Nano, p.Start)
		if err != nil {
			return nil, rpcerr.InvalidParams("invalid start timestamp %q", p.Start)
		}
		f.start = start.UTC()
	}
	if p.End != "" {
		end, err := time.Parse(time.RFC3339Nano, p.End)
		if err != nil {
			return nil, rpcerr.InvalidParams("invalid end timestamp %q", p.End)
		}
		f.end = end.UTC()
	}

	clauses := make([]string, 0, 3)
	if len(f.participants) > 0 {
		clauses = append(clauses, "Participants[Sender] == true")
	}
	if !f.start.IsZero() {
		clauses = append(clauses, "CreatedAt >= Start")
	}
	if !f.end.IsZero() {
		clauses = append(clauses, "CreatedAt <= End")
	}

	expression := "true"
	if len(clauses) > 0 {
		expression = strings.Join(clauses, " && ")
	}

	program, err := expr.Compile(expression, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter expression %q: %w", expression, err)
	}
	f.program = program

	return f, nil
}

// Match reports whether msg satisfies the filter.
func (f *Filter) Match(msg model.Message) bool {
	env := exprEnv{
		Sender:       msg.Sender,
		CreatedAt:    msg.CreatedAt.UTC().UnixNano(),
		Participants: f.participants,
	}
	if !f.start.IsZero() {
		env.Start = f.start.UnixNano()
	}
	if !f.end.IsZero() {
		env.End = f.end.UnixNano()
	}

	result, err := expr.Run(f.program, env)
	if err != nil {
		return false
	}
	match, ok := result.(bool)
	return ok && match
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
