package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/hubnet/internal/runner"
)

var _ runner.Runner = (*FakeRunner)(nil)

// Responder produces the outcome of one fake command.
type Responder func(line string) (runner.Result, error)

type fakeRule struct {
	prefix string
	seq    []Responder
	calls  int
}

// FakeRunner answers commands from scripted rules matched by command-line
// prefix (longest prefix wins, later rules win ties). Unmatched commands
// succeed with empty output. Every call is recorded.
type FakeRunner struct {
	mu    sync.Mutex
	rules []*fakeRule
	calls []string
}

// NewFakeRunner returns a FakeRunner with no rules.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On scripts a fixed stdout and exit code for commands starting with prefix.
func (f *FakeRunner) On(prefix, stdout string, exit int) *FakeRunner {
	return f.Handle(prefix, Reply(stdout, exit))
}

// Fail scripts err for commands starting with prefix.
func (f *FakeRunner) Fail(prefix string, err error) *FakeRunner {
	return f.Handle(prefix, func(string) (runner.Result, error) {
		return runner.Result{ExitCode: -1}, err
	})
}

// Seq scripts successive responses; the last one repeats.
func (f *FakeRunner) Seq(prefix string, responses ...Responder) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &fakeRule{prefix: prefix, seq: responses})
	return f
}

// Handle scripts a single responder for prefix.
func (f *FakeRunner) Handle(prefix string, fn Responder) *FakeRunner {
	return f.Seq(prefix, fn)
}

// Reply is a Responder returning stdout with exit status.
func Reply(stdout string, exit int) Responder {
	return func(string) (runner.Result, error) {
		return runner.Result{ExitCode: exit, Stdout: stdout}, nil
	}
}

// Run implements runner.Runner.
func (f *FakeRunner) Run(ctx context.Context, _ time.Duration, name string, args ...string) (runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1}, err
	}
	line := runner.Line(name, args...)

	f.mu.Lock()
	f.calls = append(f.calls, line)
	var match *fakeRule
	for _, r := range f.rules {
		if strings.HasPrefix(line, r.prefix) && (match == nil || len(r.prefix) >= len(match.prefix)) {
			match = r
		}
	}
	var fn Responder
	if match != nil {
		i := match.calls
		if i >= len(match.seq) {
			i = len(match.seq) - 1
		}
		match.calls++
		fn = match.seq[i]
	}
	f.mu.Unlock()

	if fn == nil {
		return runner.Result{}, nil
	}
	return fn(line)
}

// Calls returns every command line run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many calls started with prefix.
func (f *FakeRunner) Count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Called reports whether any call started with prefix.
func (f *FakeRunner) Called(prefix string) bool {
	return f.Count(prefix) > 0
}

// Index returns the position of the first call starting with prefix, or -1.
func (f *FakeRunner) Index(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}
