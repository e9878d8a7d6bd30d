package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

var (
	errInputInterrupt = errors.New("input interrupted")
	errInputEOF       = errors.New("end of input")
)

// lineEditor reads one line of user input per call.
type lineEditor interface {
	ReadLine(prompt string) (string, error)
	Output() io.Writer
	Close() error
}

type lineEditorConfig struct {
	HistoryFile string
	Commands    []string
}

// newLineEditor uses readline on an interactive terminal and a plain
// line scanner when input is piped.
func newLineEditor(cfg lineEditorConfig) (lineEditor, error) {
	if !readline.IsTerminal(int(os.Stdin.Fd())) || !readline.IsTerminal(int(os.Stdout.Fd())) {
		return &scannerEditor{s: bufio.NewScanner(os.Stdin), out: os.Stdout}, nil
	}

	if cfg.HistoryFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create history dir: %w", err)
		}
	}

	completions := make([]readline.PrefixCompleterInterface, len(cfg.Commands))
	for i, name := range cfg.Commands {
		completions[i] = readline.PcItem("/" + name)
	}
	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    readline.NewPrefixCompleter(completions...),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start line editor: %w", err)
	}
	return &readlineEditor{rl: rl}, nil
}

type readlineEditor struct {
	rl *readline.Instance
}

func (e *readlineEditor) ReadLine(prompt string) (string, error) {
	e.rl.SetPrompt(prompt)
	line, err := e.rl.Readline()
	switch {
	case errors.Is(err, readline.ErrInterrupt):
		return "", errInputInterrupt
	case errors.Is(err, io.EOF):
		return "", errInputEOF
	case err != nil:
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (e *readlineEditor) Output() io.Writer { return e.rl.Stdout() }
func (e *readlineEditor) Close() error      { return e.rl.Close() }

// scannerEditor reads stdin line by line, like a plain REPL loop.
type scannerEditor struct {
	s   *bufio.Scanner
	out io.Writer
}

func (e *scannerEditor) ReadLine(prompt string) (string, error) {
	fmt.Fprint(e.out, prompt)
	if !e.s.Scan() {
		if err := e.s.Err(); err != nil {
			return "", err
		}
		return "", errInputEOF
	}
	return strings.TrimSpace(e.s.Text()), nil
}

func (e *scannerEditor) Output() io.Writer { return e.out }
func (e *scannerEditor) Close() error      { return nil }
