package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/alignment-engine/internal/handlers"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	"github.com/jwebster45206/alignment-engine/pkg/turn"
)

const (
	AgentName       = "GM"
	PlaceHolderText = "무엇을 하시겠습니까?"
	guestbookShown  = 10
)

type mode int

const (
	modeName mode = iota
	modePlay
	modeGuestbook
)

type entryKind int

const (
	entryNarration entryKind = iota
	entryUser
	entryDice
	entryPrompt
	entryError
	entryEpilogue
	entryInfo
)

type transcriptEntry struct {
	kind entryKind
	text string
}

// Guestbook form fields, in focus order.
const (
	fieldNickname = iota
	fieldContact
	fieldMessage
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config *ConsoleConfig
	api    *apiClient

	session     *state.Session
	phase       state.Phase
	scores      alignment.Scores
	turns       int
	pendingDice *turn.DiceRequest
	epilogue    *turn.Epilogue
	outcome     alignment.Label
	signed      bool
	transcript  []transcriptEntry

	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	nameInput    textinput.Model
	guestbook    []textinput.Model
	focus        int

	mode          mode
	showQuitModal bool
	ready         bool
	width         int
	height        int
	err           error
	loading       bool
	progressTick  int
}

type sessionStartedMsg struct {
	resp *handlers.StartResponse
	err  error
}

type turnMsg struct {
	resp *handlers.TurnResponse
	err  error
}

type sessionViewMsg struct {
	view *handlers.SessionView
	err  error
}

type guestbookSignedMsg struct {
	entry *storage.GuestbookEntry
	err   error
}

type guestbookLoadedMsg struct {
	entries []storage.GuestbookEntry
	err     error
}

type wentHomeMsg struct {
	err error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	diceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")). // yellow
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	epilogueTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("62")).
				Bold(true).
				Padding(1, 3).
				Align(lipgloss.Center)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(cfg *ConsoleConfig, api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = chat.MaxMessageLength
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	name := textinput.New()
	name.Placeholder = "이름"
	name.CharLimit = chat.MaxPlayerNameLength
	name.Width = 30
	name.SetValue(cfg.PlayerName)
	name.Focus()

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:       cfg,
		api:          api,
		textarea:     ta,
		nameInput:    name,
		guestbook:    newGuestbookForm(),
		chatViewport: chatVp,
		metaViewport: metaVp,
		mode:         modeName,
	}
}

func newGuestbookForm() []textinput.Model {
	fields := make([]textinput.Model, 3)
	for i := range fields {
		fields[i] = textinput.New()
		fields[i].Width = 40
	}
	fields[fieldNickname].Placeholder = "닉네임"
	fields[fieldNickname].CharLimit = chat.MaxNicknameLength
	fields[fieldContact].Placeholder = "연락처 (선택)"
	fields[fieldContact].CharLimit = chat.MaxContactLength
	fields[fieldMessage].Placeholder = "남길 말"
	fields[fieldMessage].CharLimit = chat.MaxMessageLength
	fields[fieldNickname].Focus()
	return fields
}

func (m ConsoleUI) Init() tea.Cmd {
	return textinput.Blink
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	if size, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = size.Width
		m.height = size.Height
		m.resize()
	}

	switch m.mode {
	case modeName:
		return m.updateNameModal(msg)
	case modeGuestbook:
		return m.updateGuestbookModal(msg)
	}
	return m.updatePlay(msg)
}

// resize lays out the panels for the current window size.
func (m *ConsoleUI) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	chatWidth := int(float64(m.width)*0.72) - 4
	metaWidth := m.width - chatWidth - 6

	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
	m.ready = true

	m.writeChatContent()
	m.metaViewport.SetContent(m.writeMetadata())
}

func (m ConsoleUI) updatePlay(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyCtrlY:
			m.copyEpilogue()
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			if m.phase == state.PhaseEnded {
				m.addEntry(entryInfo, "이야기가 끝났습니다. /sign 으로 방명록을 남기거나 /home 으로 돌아가세요.")
				return m, nil
			}
			m.addEntry(entryUser, input)
			return m.send(input)
		}

	case sessionStartedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			m.mode = modeName
			return m, nil
		}
		m.reset()
		m.session = msg.resp.Session
		m.phase = msg.resp.Phase
		m.applyEvents(msg.resp.Events)
		m.metaViewport.SetContent(m.writeMetadata())
		return m, tea.Batch(m.textarea.Focus(), textarea.Blink)

	case turnMsg:
		m.loading = false
		if msg.err != nil {
			m.addEntry(entryError, "Error: "+msg.err.Error())
			return m, nil
		}
		m.phase = msg.resp.Phase
		m.pendingDice = msg.resp.PendingDice
		m.applyEvents(msg.resp.Events)
		return m, m.refreshSession()

	case sessionViewMsg:
		if msg.err == nil && msg.view != nil {
			m.phase = msg.view.Phase
			m.scores = msg.view.Scores
			m.turns = msg.view.Turns
			m.pendingDice = msg.view.PendingDice
			m.metaViewport.SetContent(m.writeMetadata())
		}

	case guestbookSignedMsg:
		m.loading = false
		switch {
		case isStatus(msg.err, http.StatusServiceUnavailable):
			m.addEntry(entryError, "방명록 저장소를 사용할 수 없습니다.")
		case msg.err != nil:
			m.addEntry(entryError, "Error: "+msg.err.Error())
		default:
			m.signed = true
			m.addEntry(entryInfo, fmt.Sprintf("방명록에 남겼습니다: %s - %s", msg.entry.Nickname, msg.entry.Message))
		}

	case guestbookLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.addEntry(entryError, "방명록을 불러오지 못했습니다: "+msg.err.Error())
			return m, nil
		}
		m.addEntry(entryInfo, formatGuestbook(msg.entries))

	case wentHomeMsg:
		m.loading = false
		if msg.err != nil && !isStatus(msg.err, http.StatusNotFound) {
			m.addEntry(entryError, "Error: "+msg.err.Error())
			return m, nil
		}
		m.reset()
		m.mode = modeName
		return m, m.nameInput.Focus()

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) send(input string) (tea.Model, tea.Cmd) {
	m.loading = true
	m.progressTick = 0
	m.writeChatContent()
	return m, tea.Batch(m.submit(input), progressTick())
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	cmd := strings.ToLower(strings.Fields(input)[0])

	switch cmd {
	case "/help":
		m.addEntry(entryInfo, helpText)

	case "/roll":
		if m.pendingDice == nil {
			m.addEntry(entryInfo, "지금은 주사위를 굴릴 차례가 아닙니다.")
			return m, nil
		}
		n, err := m.pendingDice.Roll()
		if err != nil {
			m.addEntry(entryError, "Error: "+err.Error())
			return m, nil
		}
		m.addEntry(entryUser, fmt.Sprintf("🎲 %s → %d", turn.DieType(m.pendingDice.UpperBound), n))
		return m.send(strconv.Itoa(n))

	case "/sign":
		if m.phase != state.PhaseEnded {
			m.addEntry(entryInfo, "방명록은 이야기가 끝난 뒤에 남길 수 있습니다.")
			return m, nil
		}
		if m.signed {
			m.addEntry(entryInfo, "이미 방명록을 남겼습니다.")
			return m, nil
		}
		m.mode = modeGuestbook
		m.textarea.Blur()
		return m, m.focusGuestbook(fieldNickname)

	case "/guestbook":
		m.loading = true
		return m, m.loadGuestbook()

	case "/copy":
		m.copyEpilogue()

	case "/home":
		if m.session == nil {
			return m, nil
		}
		m.loading = true
		return m, m.goHome()

	default:
		m.addEntry(entryInfo, fmt.Sprintf("알 수 없는 명령어입니다: %s (/help)", cmd))
	}
	return m, nil
}

const helpText = `Commands:
• /roll - 주사위를 대신 굴립니다
• /sign - 엔딩 후 방명록 남기기
• /guestbook - 최근 방명록 보기
• /copy, Ctrl+Y - 엔딩을 클립보드로 복사
• /home - 처음으로 돌아가기
• Esc, Ctrl+C - 종료

How to play:
• 행동을 입력하고 Enter를 누르세요
• 주사위를 요청받으면 숫자를 입력하거나 /roll 을 사용하세요`

func (m *ConsoleUI) copyEpilogue() {
	if m.epilogue == nil {
		m.addEntry(entryInfo, "복사할 엔딩이 없습니다.")
		return
	}
	text := strings.ReplaceAll(m.epilogue.Title, "\n", " ") + "\n\n" + m.epilogue.Description
	if err := clipboard.WriteAll(text); err != nil {
		m.addEntry(entryError, "클립보드에 복사하지 못했습니다: "+err.Error())
		return
	}
	m.addEntry(entryInfo, "엔딩을 클립보드에 복사했습니다.")
}

func (m *ConsoleUI) reset() {
	m.session = nil
	m.phase = state.PhaseIdle
	m.scores = alignment.Scores{}
	m.turns = 0
	m.pendingDice = nil
	m.epilogue = nil
	m.outcome = ""
	m.signed = false
	m.transcript = nil
	m.err = nil
	m.guestbook = newGuestbookForm()
}

// applyEvents appends server events to the transcript in order.
func (m *ConsoleUI) applyEvents(events []state.Event) {
	for _, ev := range events {
		switch ev.Type {
		case state.EventNarration:
			m.transcript = append(m.transcript, transcriptEntry{entryNarration, ev.Text})
		case state.EventDiceRequested:
			m.transcript = append(m.transcript, transcriptEntry{entryDice, ev.Text})
		case state.EventPrompt:
			m.transcript = append(m.transcript, transcriptEntry{entryPrompt, ev.Text})
		case state.EventError:
			m.transcript = append(m.transcript, transcriptEntry{entryError, ev.Text})
		case state.EventSessionEnded:
			m.outcome = ev.Alignment
			if ev.Scores != nil {
				m.scores = *ev.Scores
			}
			if ev.Epilogue != nil {
				m.epilogue = ev.Epilogue
			}
			m.transcript = append(m.transcript, transcriptEntry{kind: entryEpilogue})
		}
	}
	m.writeChatContent()
	m.metaViewport.SetContent(m.writeMetadata())
}

func (m *ConsoleUI) addEntry(kind entryKind, text string) {
	m.transcript = append(m.transcript, transcriptEntry{kind, text})
	m.writeChatContent()
}

// writeChatContent rebuilds the transcript for the current viewport width.
func (m *ConsoleUI) writeChatContent() {
	chatWidth := max(m.chatViewport.Width-6, 20) // left(3) + right(3) padding

	var content strings.Builder
	content.WriteString(titleStyle.Render("ALIGNMENT ENGINE") + "\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth)) + "\n\n")

	for _, e := range m.transcript {
		switch e.kind {
		case entryNarration:
			content.WriteString(formatNarratorResponse(e.text, chatWidth))
		case entryUser:
			content.WriteString(userStyle.Render("You: ") + wordwrap.String(e.text, chatWidth-5))
		case entryDice:
			content.WriteString(diceStyle.Render("🎲 ") + wordwrap.String(e.text, chatWidth-3))
		case entryPrompt:
			content.WriteString(loadingStyle.Render(wordwrap.String(e.text, chatWidth)))
		case entryError:
			content.WriteString(errorStyle.Render(wordwrap.String(e.text, chatWidth)))
		case entryEpilogue:
			content.WriteString(m.renderEpilogue(chatWidth))
		case entryInfo:
			content.WriteString(promptStyle.Render(wordwrap.String(e.text, chatWidth)))
		}
		content.WriteString("\n\n")
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func formatNarratorResponse(response string, width int) string {
	prefix := AgentName + ": "
	wrapped := wordwrap.String(response, width-len(prefix))
	return narratorStyle.Render(prefix) + strings.ReplaceAll(wrapped, "\n", "\n"+strings.Repeat(" ", len(prefix)))
}

func (m ConsoleUI) renderEpilogue(width int) string {
	if m.epilogue == nil {
		return ""
	}
	title := epilogueTitleStyle.Render(m.epilogue.Title)
	body := wordwrap.String(m.epilogue.Description, width)
	footer := promptStyle.Render("/sign 방명록 · /copy 복사 · /home 처음으로")
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.PlaceHorizontal(width, lipgloss.Center, title),
		"",
		body,
		"",
		footer,
	)
}

func (m ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")

	if m.session != nil {
		content.WriteString("Player:\n" + m.session.PlayerName + "\n\n")
		content.WriteString("Session:\n" + m.session.ID.String()[:8] + "...\n\n")
	}
	content.WriteString("Phase:\n" + string(m.phase) + "\n\n")
	content.WriteString(fmt.Sprintf("Turns:\n%d\n\n", m.turns))

	content.WriteString("Alignment:\n")
	content.WriteString(fmt.Sprintf("• Lawful:  %d\n", m.scores.Lawful))
	content.WriteString(fmt.Sprintf("• Chaotic: %d\n", m.scores.Chaotic))
	content.WriteString(fmt.Sprintf("• Good:    %d\n", m.scores.Good))
	content.WriteString(fmt.Sprintf("• Evil:    %d\n\n", m.scores.Evil))

	if m.pendingDice != nil {
		content.WriteString(diceStyle.Render("Roll pending:") + "\n")
		content.WriteString(fmt.Sprintf("%s (1-%d)\n\n", turn.DieType(m.pendingDice.UpperBound), m.pendingDice.UpperBound))
	}
	if m.outcome != "" {
		content.WriteString("Outcome:\n" + string(m.outcome) + "\n\n")
	}

	content.WriteString("Commands:\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• /roll: Roll\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• Esc: Quit\n")

	return content.String()
}

func (m ConsoleUI) submit(message string) tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		resp, err := m.api.submit(context.Background(), id, message)
		return turnMsg{resp, err}
	}
}

func (m ConsoleUI) refreshSession() tea.Cmd {
	if m.session == nil {
		return nil
	}
	id := m.session.ID
	return func() tea.Msg {
		view, err := m.api.getSession(context.Background(), id)
		return sessionViewMsg{view, err}
	}
}

func (m ConsoleUI) startSession(name string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.api.startSession(context.Background(), name)
		return sessionStartedMsg{resp, err}
	}
}

func (m ConsoleUI) goHome() tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		return wentHomeMsg{m.api.goHome(context.Background(), id)}
	}
}

func (m ConsoleUI) signGuestbook(req chat.GuestbookRequest) tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		entry, err := m.api.signGuestbook(context.Background(), id, req)
		return guestbookSignedMsg{entry, err}
	}
}

func (m ConsoleUI) loadGuestbook() tea.Cmd {
	return func() tea.Msg {
		entries, err := m.api.guestbook(context.Background(), guestbookShown)
		return guestbookLoadedMsg{entries, err}
	}
}

func formatGuestbook(entries []storage.GuestbookEntry) string {
	if len(entries) == 0 {
		return "방명록이 비어 있습니다."
	}
	var b strings.Builder
	b.WriteString("방명록:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "• %s [%s] %s (%s)\n", e.Nickname, e.Alignment, e.Message, e.CreatedAt.Local().Format(time.DateOnly))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m ConsoleUI) updateNameModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case sessionStartedMsg:
		m.mode = modePlay
		m.resize()
		return m.updatePlay(msg)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			req := chat.StartRequest{PlayerName: strings.TrimSpace(m.nameInput.Value())}
			if err := req.Validate(); err != nil {
				m.err = err
				return m, nil
			}
			m.err = nil
			m.loading = true
			return m, m.startSession(req.PlayerName)
		}
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m ConsoleUI) updateGuestbookModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEsc:
			m.mode = modePlay
			m.err = nil
			return m, m.textarea.Focus()
		case tea.KeyTab, tea.KeyDown:
			return m, m.focusGuestbook((m.focus + 1) % len(m.guestbook))
		case tea.KeyShiftTab, tea.KeyUp:
			return m, m.focusGuestbook((m.focus + len(m.guestbook) - 1) % len(m.guestbook))
		case tea.KeyEnter:
			if m.focus < fieldMessage {
				return m, m.focusGuestbook(m.focus + 1)
			}
			req := chat.GuestbookRequest{
				Nickname: strings.TrimSpace(m.guestbook[fieldNickname].Value()),
				Contact:  strings.TrimSpace(m.guestbook[fieldContact].Value()),
				Message:  strings.TrimSpace(m.guestbook[fieldMessage].Value()),
			}
			if err := req.Validate(); err != nil {
				m.err = err
				return m, nil
			}
			m.err = nil
			m.mode = modePlay
			m.loading = true
			return m, tea.Batch(m.signGuestbook(req), m.textarea.Focus())
		}
	}

	var cmd tea.Cmd
	m.guestbook[m.focus], cmd = m.guestbook[m.focus].Update(msg)
	return m, cmd
}

// focusGuestbook moves the cursor to field i of the guestbook form.
func (m *ConsoleUI) focusGuestbook(i int) tea.Cmd {
	m.focus = i
	var cmd tea.Cmd
	for j := range m.guestbook {
		if j == i {
			cmd = m.guestbook[j].Focus()
		} else {
			m.guestbook[j].Blur()
		}
	}
	return cmd
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				switch m.mode {
				case modeName:
					return m, m.nameInput.Focus()
				case modeGuestbook:
					return m, m.guestbook[m.focus].Focus()
				}
				return m, tea.Batch(m.textarea.Focus(), textarea.Blink)
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Game?"))
	content.WriteString("\n\n")
	content.WriteString("Are you sure you want to quit your adventure?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	return m.placeModal(50, content.String())
}

func (m ConsoleUI) renderNameModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("ALIGNMENT ENGINE"))
	content.WriteString("\n\n")

	switch {
	case m.loading:
		content.WriteString(loadingStyle.Render("이야기를 준비하고 있습니다..."))
	default:
		content.WriteString("당신의 이름을 알려주세요.\n\n")
		content.WriteString(m.nameInput.View())
		if m.err != nil {
			content.WriteString("\n\n" + errorStyle.Render(m.err.Error()))
		}
		content.WriteString("\n\n")
		content.WriteString(promptStyle.Render("Enter to start, Esc to quit"))
	}

	return m.placeModal(60, content.String())
}

func (m ConsoleUI) renderGuestbookModal() string {
	labels := []string{"닉네임", "연락처", "메시지"}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("방명록"))
	content.WriteString("\n\n")
	if m.outcome != "" {
		content.WriteString(promptStyle.Render("성향: "+string(m.outcome)) + "\n\n")
	}
	for i, field := range m.guestbook {
		content.WriteString(labels[i] + "\n" + field.View() + "\n\n")
	}
	if m.err != nil {
		content.WriteString(errorStyle.Render(m.err.Error()) + "\n\n")
	}
	content.WriteString(promptStyle.Render("Tab to move, Enter on the message to submit, Esc to cancel"))

	return m.placeModal(60, content.String())
}

func (m ConsoleUI) placeModal(width int, content string) string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	modal := modalStyle.Width(width).Render(content)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	switch m.mode {
	case modeName:
		return m.renderNameModal()
	case modeGuestbook:
		return m.renderGuestbookModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.72) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 0))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	// Usable content width excludes the 3+3 padding used elsewhere.
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30
	}
	usable = min(max(usable, 10), 80)

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓") // Blinking effect at the progress point
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
