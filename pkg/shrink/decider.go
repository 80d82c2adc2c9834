package shrink

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Decider answers the yes/no deletion prompts the shrink planner gates
// every destructive action behind.
type Decider interface {
	Confirm(prompt string) bool
}

// AutoDecider always answers yes, the "--auto" / non-step mode.
type AutoDecider struct{}

// Confirm always returns true.
func (AutoDecider) Confirm(string) bool { return true }

// PromptDecider reads yes/no answers from an input stream, echoing the
// prompt to out; an empty answer defaults to no, matching the original's
// interactive confirmation loop.
type PromptDecider struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptDecider wraps in/out for interactive confirmation.
func NewPromptDecider(in io.Reader, out io.Writer) *PromptDecider {
	return &PromptDecider{in: bufio.NewReader(in), out: out}
}

// Confirm prints prompt and blocks for a yes/no answer.
func (p *PromptDecider) Confirm(prompt string) bool {
	for {
		fmt.Fprint(p.out, prompt)
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		switch answer {
		case "":
			return false
		case "yes", "y":
			return true
		case "no", "n":
			return false
		}
		fmt.Fprintln(p.out, "input yes or no")
	}
}
