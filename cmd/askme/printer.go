package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ChamsBouzaiene/askme/internal/chat"
	"github.com/ChamsBouzaiene/askme/internal/session"
	"github.com/ChamsBouzaiene/askme/internal/stream"
)

type theme struct {
	user      *color.Color
	assistant *color.Color
	info      *color.Color
	err       *color.Color
	dim       *color.Color
}

func newTheme(enabled bool) theme {
	th := theme{
		user:      color.New(color.FgGreen, color.Bold),
		assistant: color.New(color.FgCyan),
		info:      color.New(color.FgYellow),
		err:       color.New(color.FgRed),
		dim:       color.New(color.Faint),
	}
	if !enabled {
		for _, c := range []*color.Color{th.user, th.assistant, th.info, th.err, th.dim} {
			c.DisableColor()
		}
	}
	return th
}

// printer renders streamed replies for the session the user is waiting on.
type printer struct {
	session.NopObserver

	out     io.Writer
	th      theme
	watch   string
	started bool
}

func newPrinter(out io.Writer, th theme) *printer {
	return &printer{out: out, th: th}
}

// follow makes fragments of sessionID visible until the generation ends.
func (p *printer) follow(sessionID string) {
	p.watch = sessionID
	p.started = false
}

func (p *printer) OnFragment(sessionID, fragment string) {
	if sessionID != p.watch {
		return
	}
	if !p.started {
		p.th.assistant.Fprint(p.out, "assistant> ")
		p.started = true
	}
	p.th.assistant.Fprint(p.out, fragment)
}

func (p *printer) OnGenerationDone(sessionID string, outcome stream.Outcome) {
	if sessionID != p.watch {
		return
	}
	if p.started {
		fmt.Fprintln(p.out)
	}
	switch outcome.Kind {
	case stream.Aborted:
		p.th.dim.Fprintln(p.out, "[generation stopped]")
	case stream.Failed:
		p.th.err.Fprintln(p.out, chat.ErrorNotice)
		p.th.dim.Fprintf(p.out, "(%s)\n", outcome.Reason)
	}
	p.watch = ""
}

func (p *printer) message(m chat.Message) {
	switch m.Role {
	case chat.RoleUser:
		p.th.user.Fprint(p.out, "you> ")
		fmt.Fprintln(p.out, m.Content)
	default:
		p.th.assistant.Fprint(p.out, "assistant> ")
		p.th.assistant.Fprintln(p.out, m.Content)
	}
}

func (p *printer) history(s chat.Session) {
	p.th.info.Fprintf(p.out, "── %s ──\n", s.Title)
	for _, m := range s.Messages {
		p.message(m)
	}
	if s.OnlyGreeting() {
		p.examples()
	}
}

func (p *printer) examples() {
	p.th.dim.Fprintln(p.out, "Try one of these with /example N:")
	for i, prompt := range chat.StarterPrompts {
		p.th.dim.Fprintf(p.out, "  %d. %s\n", i+1, prompt)
	}
}

func (p *printer) sessions(st session.State) {
	for i, m := range st.Metas() {
		marker := " "
		if m.Active {
			marker = "*"
		}
		line := fmt.Sprintf("%s %2d. %-40s %3d msgs  %s", marker, i+1, m.Title, m.Messages, shortID(m.ID))
		if m.Active {
			p.th.info.Fprintln(p.out, line)
		} else {
			fmt.Fprintln(p.out, line)
		}
	}
}

func (p *printer) infof(format string, args ...any) {
	p.th.info.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) errorf(format string, args ...any) {
	p.th.err.Fprintf(p.out, format+"\n", args...)
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
