// Package cli runs a session in the terminal without the HTTP API.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"

	"github.com/jwebster45206/alignment-engine/internal/session"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
)

// Renderer turns narration markdown into terminal text.
type Renderer func(string) (string, error)

// NewRenderer renders markdown with glamour, or passes text through
// untouched when plain is set.
func NewRenderer(plain bool, width int) (Renderer, error) {
	if plain {
		return func(s string) (string, error) { return s + "\n", nil }, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	return r.Render, nil
}

// Player drives one orchestrator from a line-oriented terminal.
type Player struct {
	orch   *session.Orchestrator
	in     *bufio.Scanner
	out    *termenv.Output
	render Renderer
}

func NewPlayer(orch *session.Orchestrator, in io.Reader, out io.Writer, render Renderer) *Player {
	return &Player{
		orch:   orch,
		in:     bufio.NewScanner(in),
		out:    termenv.NewOutput(out),
		render: render,
	}
}

// Run plays one session to its end, then offers the guestbook. name may be
// empty, in which case the player is asked. Run returns nil when input runs
// out or the player quits.
func (p *Player) Run(ctx context.Context, name string) error {
	p.banner()

	for strings.TrimSpace(name) == "" {
		line, ok := p.ask("이름을 알려주세요")
		if !ok {
			return nil
		}
		name = line
	}

	events, err := p.orch.StartSession(ctx, name)
	if err != nil {
		return err
	}
	p.show(events)

	for p.orch.Phase() != state.PhaseEnded {
		line, ok := p.ask(p.promptLabel())
		if !ok {
			return nil
		}
		quit, err := p.handle(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}

	return p.offerGuestbook(ctx)
}

// handle processes one line of input. It reports whether the player asked
// to leave.
func (p *Player) handle(ctx context.Context, line string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/home":
		return true, p.orch.GoHome()
	case "/help":
		p.println(helpText)
		return false, nil
	case "/scores":
		p.println(p.orch.Scores().String())
		return false, nil
	case "/roll":
		pending := p.orch.PendingDice()
		if pending == nil {
			p.dim("지금은 주사위를 굴릴 차례가 아닙니다.")
			return false, nil
		}
		n, err := pending.Roll()
		if err != nil {
			return false, err
		}
		line = strconv.Itoa(n)
		p.dim(fmt.Sprintf("🎲 %s → %d", pending.Type, n))
	}

	events, err := p.orch.Submit(ctx, line)
	p.show(events)

	var rollErr *session.RollError
	switch {
	case err == nil,
		errors.As(err, &rollErr),
		errors.Is(err, session.ErrModelCall),
		errors.Is(err, session.ErrEmptyInput):
		return false, nil
	}
	return false, err
}

func (p *Player) offerGuestbook(ctx context.Context) error {
	answer, ok := p.ask("방명록을 남기시겠습니까? (y/N)")
	if !ok || !strings.EqualFold(strings.TrimSpace(answer), "y") {
		return nil
	}

	for {
		nickname, ok := p.ask("닉네임")
		if !ok {
			return nil
		}
		contact, ok := p.ask("연락처 (선택)")
		if !ok {
			return nil
		}
		message, ok := p.ask("남길 말")
		if !ok {
			return nil
		}

		entry, err := p.orch.SignGuestbook(ctx, nickname, contact, message)
		switch {
		case err == nil:
			p.println(fmt.Sprintf("방명록에 남겼습니다: %s [%s] %s", entry.Nickname, entry.Alignment, entry.Message))
			return nil
		case errors.Is(err, session.ErrGuestbookInvalid):
			p.warn(err.Error())
		case errors.Is(err, storage.ErrUnavailable):
			p.warn("방명록 저장소를 사용할 수 없습니다.")
			return nil
		default:
			return err
		}
	}
}

func (p *Player) show(events []state.Event) {
	for _, ev := range events {
		switch ev.Type {
		case state.EventNarration:
			p.markdown(ev.Text)
		case state.EventDiceRequested:
			p.accent("🎲 " + ev.Text)
		case state.EventPrompt:
			p.warn(ev.Text)
		case state.EventError:
			p.warn(ev.Text)
		case state.EventSessionEnded:
			if ev.Epilogue != nil {
				title := strings.ReplaceAll(ev.Epilogue.Title, "\n", " ")
				p.markdown("# " + title + "\n\n" + ev.Epilogue.Description)
			}
			if ev.Scores != nil {
				p.dim(ev.Scores.String())
			}
		}
	}
}

func (p *Player) promptLabel() string {
	if pending := p.orch.PendingDice(); pending != nil {
		return fmt.Sprintf("%s (1-%d, /roll)", pending.Type, pending.UpperBound)
	}
	return ""
}

// ask prints label and reads one line. ok is false at end of input.
func (p *Player) ask(label string) (string, bool) {
	prompt := "> "
	if label != "" {
		prompt = label + " > "
	}
	_, _ = fmt.Fprint(p.out, p.out.String(prompt).Foreground(p.out.Color("#818cf8")).Bold())
	if !p.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

func (p *Player) markdown(text string) {
	rendered, err := p.render(text)
	if err != nil {
		rendered = text + "\n"
	}
	_, _ = fmt.Fprint(p.out, rendered)
}

func (p *Player) println(text string) {
	_, _ = fmt.Fprintln(p.out, text)
}

func (p *Player) accent(text string) {
	_, _ = fmt.Fprintln(p.out, p.out.String(text).Foreground(p.out.Color("#fbbf24")).Bold())
}

func (p *Player) warn(text string) {
	_, _ = fmt.Fprintln(p.out, p.out.String(text).Foreground(p.out.Color("#fb7185")))
}

func (p *Player) dim(text string) {
	_, _ = fmt.Fprintln(p.out, p.out.String(text).Faint())
}

func (p *Player) banner() {
	name := p.orch.Scenario().Name
	_, _ = fmt.Fprintln(p.out)
	_, _ = fmt.Fprintln(p.out, p.out.String("  ALIGNMENT ENGINE").Foreground(p.out.Color("#c084fc")).Bold())
	if name != "" {
		_, _ = fmt.Fprintln(p.out, p.out.String("  "+name).Foreground(p.out.Color("#a78bfa")))
	}
	_, _ = fmt.Fprintln(p.out, p.out.String("  /help for commands").Faint())
	_, _ = fmt.Fprintln(p.out)
}

const helpText = `/roll    주사위를 대신 굴립니다
/scores  현재 성향 점수
/home    처음으로 돌아가기
/quit    종료`
