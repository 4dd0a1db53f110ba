package scenario

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompter blocks until the operator acknowledges msg.
type Prompter interface {
	Prompt(msg string) error
}

// LinePrompter prints msg and waits for one line of input.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

func (p *LinePrompter) Prompt(msg string) error {
	fmt.Fprintf(p.out, "\n[harness] %s\n", msg)
	fmt.Fprint(p.out, "[harness] Press Enter to continue... ")
	if _, err := p.in.ReadString('\n'); err != nil && err != io.EOF {
		return fmt.Errorf("reading operator input: %w", err)
	}
	return nil
}

// StdinIsTerminal reports whether prompts can reach an operator.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
