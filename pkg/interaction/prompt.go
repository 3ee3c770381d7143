// pkg/interaction/prompt.go

package interaction

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// ErrNoTerminal is returned when a prompt is needed but nobody can answer it.
var ErrNoTerminal = cerr.New("interactive prompt requested but stdin is not a terminal")

// Prompter asks the operator for values. It reads lines from In and writes
// prompts to Out; secrets are read without echo when In is a terminal.
type Prompter struct {
	In     io.Reader
	Out    io.Writer
	Logger *zap.Logger

	reader *bufio.Reader
}

// NewPrompter returns a Prompter bound to the process stdin/stderr.
func NewPrompter(log *zap.Logger) *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stderr, Logger: log}
}

// Interactive reports whether In is an attached terminal.
func (p *Prompter) Interactive() bool {
	f, ok := p.In.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *Prompter) log() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Prompter) readLine(label string) (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	fmt.Fprintf(p.Out, "%s: ", label)
	line, err := p.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", cerr.Wrapf(err, "read %q", label)
	}
	return strings.TrimSpace(line), nil
}

// PromptInput asks for user input with an optional default fallback.
func (p *Prompter) PromptInput(prompt, defaultVal string) (string, error) {
	label := prompt
	if defaultVal != "" {
		label = fmt.Sprintf("%s [%s]", prompt, defaultVal)
	}
	input, err := p.readLine(label)
	if err != nil {
		return "", err
	}
	if input == "" {
		p.log().Debug("ℹ️ Using default value", zap.String("prompt", prompt))
		return defaultVal, nil
	}
	return input, nil
}

// PromptSecret asks for a hidden value (no terminal echo).
func (p *Prompter) PromptSecret(prompt string) (string, error) {
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(p.Out, "%s: ", prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", cerr.Wrap(err, "read secret")
		}
		secret := strings.TrimSpace(string(b))
		if secret == "" {
			p.log().Warn("⚠️ No input received for secret", zap.String("prompt", prompt))
		}
		return secret, nil
	}
	return p.readLine(prompt)
}

// PromptSelect displays numbered options and returns the chosen one.
// An empty answer selects defaultIdx.
func (p *Prompter) PromptSelect(prompt string, options []string, defaultIdx int) (string, error) {
	fmt.Fprintln(p.Out, prompt)
	for i, option := range options {
		marker := " "
		if i == defaultIdx {
			marker = "*"
		}
		fmt.Fprintf(p.Out, " %s%d) %s\n", marker, i+1, option)
	}

	for attempt := 0; attempt < 3; attempt++ {
		choice, err := p.readLine("Enter choice")
		if err != nil {
			return "", err
		}
		if choice == "" && defaultIdx >= 0 && defaultIdx < len(options) {
			return options[defaultIdx], nil
		}
		if idx, err := strconv.Atoi(choice); err == nil && idx >= 1 && idx <= len(options) {
			return options[idx-1], nil
		}
		for _, o := range options {
			if strings.EqualFold(o, choice) {
				return o, nil
			}
		}
		p.log().Warn("❌ Invalid selection", zap.String("input", choice))
		fmt.Fprintln(p.Out, "Invalid selection. Please try again.")
	}
	return "", cerr.Newf("no valid selection for %q", prompt)
}

// PromptYesNo asks a yes/no question and falls back to the default on
// empty or unrecognised input.
func (p *Prompter) PromptYesNo(prompt string, defaultYes bool) (bool, error) {
	def := "y/N"
	if defaultYes {
		def = "Y/n"
	}
	input, err := p.readLine(fmt.Sprintf("%s [%s]", prompt, def))
	if err != nil {
		return defaultYes, err
	}
	if answer, ok := NormalizeYesNoInput(input); ok {
		return answer, nil
	}
	return defaultYes, nil
}

// NormalizeYesNoInput returns (answer, recognised).
func NormalizeYesNoInput(input string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(input)) {
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	return false, false
}
