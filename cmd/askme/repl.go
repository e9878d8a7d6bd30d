package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/ChamsBouzaiene/askme/internal/chat"
	"github.com/ChamsBouzaiene/askme/internal/session"
)

type command struct {
	name  string
	args  string
	usage string
}

var commands = []command{
	{name: "new", usage: "start a new conversation"},
	{name: "list", usage: "list conversations"},
	{name: "switch", args: "<n|id>", usage: "switch to a conversation"},
	{name: "delete", args: "[n|id]", usage: "delete a conversation (default: current)"},
	{name: "history", usage: "show the current conversation"},
	{name: "examples", usage: "show starter prompts"},
	{name: "example", args: "<n>", usage: "send starter prompt n"},
	{name: "help", usage: "show this help"},
	{name: "quit", usage: "exit askme"},
}

func commandNames() []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.name
	}
	return names
}

type repl struct {
	store   *session.Store
	editor  lineEditor
	printer *printer
	th      theme
	// interrupts delivers Ctrl+C while a reply streams; nil disables signal handling.
	interrupts func() (<-chan os.Signal, func())
}

func newREPL(store *session.Store, editor lineEditor, p *printer, th theme) *repl {
	return &repl{
		store:      store,
		editor:     editor,
		printer:    p,
		th:         th,
		interrupts: notifyInterrupt,
	}
}

func notifyInterrupt() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch, func() { signal.Stop(ch) }
}

func (r *repl) run(ctx context.Context) error {
	if sess, ok := r.store.Active(); ok {
		r.printer.history(sess)
	}
	r.printer.infof("Type /help for commands. Ctrl+C stops a reply, Ctrl+D exits.")

	for {
		line, err := r.editor.ReadLine(r.prompt())
		switch {
		case errors.Is(err, errInputEOF):
			return nil
		case errors.Is(err, errInputInterrupt):
			continue
		case err != nil:
			return err
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := r.dispatch(ctx, line); quit {
				return nil
			}
			continue
		}
		r.send(ctx, line)
	}
}

func (r *repl) prompt() string {
	return r.th.user.Sprint("you> ")
}

// dispatch runs a slash command and reports whether the REPL should exit.
func (r *repl) dispatch(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "new":
		r.store.CreateSession()
		sess, _ := r.store.Active()
		r.printer.history(sess)

	case "list", "ls":
		r.printer.sessions(r.store.Snapshot())

	case "switch":
		id, ok := resolveSession(r.store.Snapshot(), arg)
		if !ok || !r.store.SelectSession(id) {
			r.printer.errorf("no conversation %q", arg)
			return false
		}
		sess, _ := r.store.Active()
		r.printer.history(sess)

	case "delete", "rm":
		st := r.store.Snapshot()
		id := st.ActiveID
		if arg != "" {
			var ok bool
			if id, ok = resolveSession(st, arg); !ok {
				r.printer.errorf("no conversation %q", arg)
				return false
			}
		}
		r.store.DeleteSession(id)
		r.printer.infof("deleted %s", shortID(id))
		if id == st.ActiveID {
			sess, _ := r.store.Active()
			r.printer.history(sess)
		}

	case "history":
		sess, _ := r.store.Active()
		r.printer.history(sess)

	case "examples":
		r.printer.examples()

	case "example":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(chat.StarterPrompts) {
			r.printer.errorf("usage: /example <1-%d>", len(chat.StarterPrompts))
			return false
		}
		prompt := chat.StarterPrompts[n-1]
		r.printer.message(chat.Message{Role: chat.RoleUser, Content: prompt})
		r.send(ctx, prompt)

	case "help", "?":
		r.help()

	case "quit", "exit", "q":
		return true

	default:
		r.printer.errorf("unknown command /%s (try /help)", name)
	}
	return false
}

func (r *repl) help() {
	for _, c := range commands {
		usage := "/" + c.name
		if c.args != "" {
			usage += " " + c.args
		}
		r.th.info.Fprintf(r.printer.out, "  %-18s", usage)
		r.th.dim.Fprintln(r.printer.out, c.usage)
	}
}

// send streams a reply into the active session. Ctrl+C during the reply cancels it.
func (r *repl) send(ctx context.Context, text string) {
	sess, ok := r.store.Active()
	if !ok {
		return
	}

	if r.interrupts != nil {
		sigs, stop := r.interrupts()
		done := make(chan struct{})
		go func() {
			select {
			case <-sigs:
				r.store.CancelActive()
			case <-done:
			}
		}()
		defer func() {
			close(done)
			stop()
		}()
	}

	r.printer.follow(sess.ID)
	if _, err := r.store.SendMessage(ctx, sess.ID, text); err != nil {
		r.printer.errorf("%v", err)
	}
}

// resolveSession accepts a 1-based list position, a full id or a unique id prefix.
func resolveSession(st session.State, arg string) (string, bool) {
	if arg == "" {
		return "", false
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(st.Sessions) {
			return st.Sessions[n-1].ID, true
		}
		return "", false
	}
	if _, ok := st.Sessions.Get(arg); ok {
		return arg, true
	}
	match := ""
	for _, s := range st.Sessions {
		if strings.HasPrefix(s.ID, arg) {
			if match != "" {
				return "", false
			}
			match = s.ID
		}
	}
	return match, match != ""
}
