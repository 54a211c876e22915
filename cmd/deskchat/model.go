package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"assetdesk/pkg/chat"
	"assetdesk/pkg/models"
	"assetdesk/pkg/selector"
)

const (
	sidebarWidth = 28
	maxLogs      = 50
)

// pendingStream follows one answer while it is generated.
type pendingStream struct {
	threadID  string
	promptID  string
	cursor    uint64
	lastSeq   uint64
	text      strings.Builder
	reasoning strings.Builder
	tools     []models.ToolInvocation
	status    models.MessageStatus
}

func (p *pendingStream) apply(d models.Delta) {
	switch d.Kind {
	case models.DeltaText:
		p.text.WriteString(d.Text)
	case models.DeltaReasoning:
		p.reasoning.WriteString(d.Text)
	case models.DeltaTool:
		if d.Tool == nil {
			return
		}
		for i := range p.tools {
			if p.tools[i].CallID == d.Tool.CallID {
				p.tools[i] = *d.Tool
				return
			}
		}
		p.tools = append(p.tools, *d.Tool)
	case models.DeltaStatus:
		p.status = d.Status
	}
}

type model struct {
	cfg appConfig
	api api
	sel *selector.Machine

	threads  []models.Thread
	threadID string
	messages []models.Message
	pending  *pendingStream
	polling  bool

	ready      bool
	inflight   bool
	statusLine string
	statusErr  bool
	logs       []string

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model

	theme uiTheme
}

type uiTheme struct {
	header    lipgloss.Style
	panel     lipgloss.Style
	title     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	muted     lipgloss.Style
	errText   lipgloss.Style
	active    lipgloss.Style
	footer    lipgloss.Style
}

func newTheme() uiTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	muted := lipgloss.Color("#9ca3d8")
	red := lipgloss.Color("#ff5f87")
	return uiTheme{
		header:    lipgloss.NewStyle().Bold(true).Foreground(blue).Padding(0, 1),
		panel:     lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(blue).Padding(0, 1),
		title:     lipgloss.NewStyle().Bold(true).Foreground(mint),
		user:      lipgloss.NewStyle().Bold(true).Foreground(blue),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(mint),
		muted:     lipgloss.NewStyle().Foreground(muted),
		errText:   lipgloss.NewStyle().Foreground(red),
		active:    lipgloss.NewStyle().Bold(true).Foreground(mint),
		footer:    lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
	}
}

func newModel(cfg appConfig, c api) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Describe the issue. /help lists commands."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	return model{
		cfg:        cfg,
		api:        c,
		sel:        selector.New(),
		statusLine: "connecting...",
		input:      input,
		timeline:   timeline,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.initCmd(), tickEvery(m.cfg.poll))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.render()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				break
			}
			if strings.HasPrefix(line, "/") {
				cmds = append(cmds, m.command(line))
			} else {
				cmds = append(cmds, m.send(line))
			}
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			m.sel.SetPinned(m.timeline.AtBottom())
			cmds = append(cmds, cmd)
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		m.sel.SetPinned(m.timeline.AtBottom())
		cmds = append(cmds, cmd)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if m.pending != nil && !m.polling {
			m.polling = true
			cmds = append(cmds, m.pollCmd())
		}
		cmds = append(cmds, tickEvery(m.cfg.poll))

	case initDoneMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		m.ready = true
		m.threads = msg.threads
		m.sel.SetAvailable(msg.models)
		if len(msg.models) == 0 {
			m.setStatus("no models enabled; ask an admin to set openrouter_models")
		} else {
			m.setStatus(fmt.Sprintf("%d models, %d threads", len(msg.models), len(msg.threads)))
		}
		if m.cfg.threadID != "" {
			cmds = append(cmds, m.open(m.cfg.threadID))
		}
		m.render()

	case threadsMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		m.threads = msg.threads
		m.render()

	case threadLoadedMsg:
		if msg.threadID != m.threadID {
			break
		}
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		m.messages = msg.messages
		if m.pending == nil {
			m.resumeStreaming()
		}
		if m.pending != nil {
			m.pending.lastSeq = m.lastSeq()
		}
		if m.sel.MarkInitialLoad() {
			m.sel.SetPinned(true)
		}
		m.render()

	case lastModelMsg:
		if msg.err != nil {
			m.appendLog("last model unavailable: " + msg.err.Error())
		}
		m.sel.LastUsedSettled(msg.threadID, msg.model)
		m.render()

	case sendDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		res := msg.res
		if res.Created {
			m.sel.Promote(res.ThreadID)
			m.threadID = res.ThreadID
			m.messages = nil
			cmds = append(cmds, m.threadsCmd())
		}
		m.pending = &pendingStream{threadID: res.ThreadID, promptID: res.MessageID, status: models.StatusStreaming}
		m.sel.SetPinned(true)
		m.setStatus("generating...")
		cmds = append(cmds, m.loadThreadCmd(res.ThreadID))

	case streamMsg:
		m.polling = false
		if m.pending == nil || msg.promptID != m.pending.promptID {
			break
		}
		if msg.err != nil {
			m.appendLog("stream poll failed: " + msg.err.Error())
			break
		}
		for _, d := range msg.deltas {
			m.pending.apply(d)
		}
		m.pending.cursor = msg.cursor
		m.mergeMessages(msg.messages)
		if m.pending.status.Finished() {
			if m.pending.status == models.StatusError {
				m.setStatus("answer failed")
				m.statusErr = true
			} else {
				m.setStatus("ready")
			}
			m.pending = nil
			cmds = append(cmds, m.loadThreadCmd(msg.threadID), m.threadsCmd())
		}
		m.render()

	case actionDoneMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		m.setStatus(msg.text)
		m.appendLog(msg.text)
		if msg.reload {
			cmds = append(cmds, m.threadsCmd())
		}
		m.render()
	}

	return m, tea.Batch(cmds...)
}

// open switches the view to threadID and asks for its last-used model.
func (m *model) open(threadID string) tea.Cmd {
	m.threadID = threadID
	m.messages = nil
	m.pending = nil
	m.polling = false
	m.sel.Enter(threadID)
	m.render()
	return tea.Batch(m.loadThreadCmd(threadID), m.lastModelCmd(threadID))
}

func (m *model) send(prompt string) tea.Cmd {
	if !m.ready {
		m.setStatus("still connecting")
		return nil
	}
	if m.pending != nil || m.inflight {
		m.setStatus("wait for the current answer to finish")
		return nil
	}
	modelID, ok := m.sel.Model(m.threadID)
	if !ok {
		m.setStatus("no model resolved yet")
		return nil
	}
	m.inflight = true
	m.setStatus("sending with " + modelID)
	return m.sendCmd(chat.SendRequest{Prompt: prompt, ThreadID: m.threadID, ModelID: modelID})
}

// resumeStreaming picks up an answer still being generated when a thread
// is opened.
func (m *model) resumeStreaming() {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Role != models.RoleAssistant {
			continue
		}
		if msg.Status == models.StatusStreaming && msg.PromptID != "" {
			m.pending = &pendingStream{threadID: msg.ThreadID, promptID: msg.PromptID, status: models.StatusStreaming}
		}
		return
	}
}

func (m *model) mergeMessages(fresh []models.Message) {
	for _, f := range fresh {
		replaced := false
		for i := range m.messages {
			if m.messages[i].ID == f.ID {
				m.messages[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			m.messages = append(m.messages, f)
		}
	}
	if m.pending != nil {
		m.pending.lastSeq = m.lastSeq()
	}
}

func (m *model) lastSeq() uint64 {
	var seq uint64
	for _, msg := range m.messages {
		if msg.Seq > seq {
			seq = msg.Seq
		}
	}
	return seq
}

func (m *model) command(line string) tea.Cmd {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/new", "/open", "/delete":
		// the send result promotes the draft and switches the view to it
		if m.inflight {
			m.setStatus("wait for the send to finish")
			return nil
		}
	}
	switch name {
	case "/quit", "/q":
		return tea.Quit
	case "/help":
		m.appendLog("/new  /threads  /open <n|id>  /model [id]  /delete  /tool <name> [json]  /quit")
		m.render()
	case "/new":
		m.threadID = ""
		m.messages = nil
		m.pending = nil
		m.sel.Enter(selector.Draft)
		m.setStatus("new conversation")
		m.render()
	case "/threads":
		return m.threadsCmd()
	case "/open":
		if len(args) == 0 {
			m.setStatus("usage: /open <n|id>")
			return nil
		}
		id := args[0]
		if n, err := strconv.Atoi(id); err == nil && n >= 1 && n <= len(m.threads) {
			id = m.threads[n-1].ID
		}
		return m.open(id)
	case "/model":
		if len(args) == 0 {
			cur, _ := m.sel.Model(m.threadID)
			m.appendLog("models: " + strings.Join(m.sel.Available(), ", ") + " (current: " + cur + ")")
			m.render()
			return nil
		}
		for _, id := range m.sel.Available() {
			if id == args[0] {
				m.sel.Select(m.threadID, id)
				m.setStatus("model set to " + id)
				m.render()
				return nil
			}
		}
		m.setStatus("unknown model " + args[0])
	case "/delete":
		if m.threadID == "" {
			m.setStatus("no thread open")
			return nil
		}
		id := m.threadID
		m.threadID = ""
		m.messages = nil
		m.pending = nil
		m.sel.Enter(selector.Draft)
		return m.deleteCmd(id)
	case "/tool":
		if m.threadID == "" || len(args) == 0 {
			m.setStatus("usage: /tool <name> [json] inside a thread")
			return nil
		}
		rest := line[len(name):]
		rest = rest[strings.Index(rest, args[0])+len(args[0]):]
		raw := json.RawMessage(strings.TrimSpace(rest))
		if len(raw) > 0 && !json.Valid(raw) {
			m.setStatus("tool arguments must be a JSON object")
			return nil
		}
		modelID, _ := m.sel.Model(m.threadID)
		return m.toolCmd(m.threadID, args[0], raw, modelID)
	default:
		m.setStatus("unknown command " + name)
	}
	return nil
}

func (m *model) setStatus(s string) {
	m.statusLine = s
	m.statusErr = false
}

func (m *model) setError(err error) {
	m.statusLine = err.Error()
	m.statusErr = true
	m.appendLog("error: " + err.Error())
}

func (m *model) appendLog(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	m.logs = append(m.logs, time.Now().Format("15:04:05")+" "+compact(line, 220))
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func compact(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-1]) + "…"
}

func (m *model) resize() {
	w := m.width - sidebarWidth - 6
	if w < 20 {
		w = 20
	}
	h := m.height - 8
	if h < 3 {
		h = 3
	}
	m.timeline.Width = w
	m.timeline.Height = h
	m.input.Width = m.width - 6
}

func (m *model) render() {
	m.timeline.SetContent(m.timelineContent())
	if m.sel.Pinned() {
		m.timeline.GotoBottom()
	}
}

func (m model) timelineContent() string {
	var b strings.Builder
	live := false
	for _, msg := range m.messages {
		switch msg.Role {
		case models.RoleUser:
			b.WriteString(m.theme.user.Render("you") + "\n")
			b.WriteString(msg.Text + "\n\n")
		case models.RoleAssistant:
			label := "assistant"
			if msg.Model != "" {
				label += " · " + msg.Model
			}
			b.WriteString(m.theme.assistant.Render(label) + "\n")
			if m.pending != nil && msg.PromptID == m.pending.promptID {
				live = true
				b.WriteString(m.pendingContent())
				continue
			}
			for _, ti := range msg.Tools {
				b.WriteString(m.toolLine(ti))
			}
			b.WriteString(msg.Text + "\n")
			if msg.Status == models.StatusError {
				b.WriteString(m.theme.errText.Render("error: "+msg.Error) + "\n")
			}
			b.WriteString("\n")
		}
	}
	if m.pending != nil && !live {
		b.WriteString(m.theme.assistant.Render("assistant") + "\n")
		b.WriteString(m.pendingContent())
	}
	if len(m.logs) > 0 {
		b.WriteString(m.theme.muted.Render(strings.Join(m.logs[max(0, len(m.logs)-3):], "\n")))
	}
	return b.String()
}

func (m model) pendingContent() string {
	var b strings.Builder
	if r := m.pending.reasoning.String(); r != "" {
		b.WriteString(m.theme.muted.Render(compact(r, 300)) + "\n")
	}
	for _, ti := range m.pending.tools {
		b.WriteString(m.toolLine(ti))
	}
	b.WriteString(m.pending.text.String() + " " + m.spinner.View() + "\n\n")
	return b.String()
}

func (m model) toolLine(ti models.ToolInvocation) string {
	line := fmt.Sprintf("  ⚙ %s [%s]", ti.Tool, ti.State)
	if ti.State == models.ToolError {
		return m.theme.errText.Render(line+" "+ti.Error) + "\n"
	}
	return m.theme.muted.Render(line) + "\n"
}

func (m model) sidebarContent() string {
	lines := []string{m.theme.title.Render("Threads")}
	if m.threadID == "" {
		lines = append(lines, m.theme.active.Render("▸ new conversation"))
	}
	for i, th := range m.threads {
		title := th.Title
		if title == "" {
			title = "untitled"
		}
		line := fmt.Sprintf("%d. %s", i+1, compact(title, sidebarWidth-6))
		if th.ID == m.threadID {
			line = m.theme.active.Render("▸ " + line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m model) View() string {
	if m.width == 0 {
		return "loading..."
	}
	title := "assetdesk"
	for _, th := range m.threads {
		if th.ID == m.threadID && th.Title != "" {
			title += " · " + th.Title
		}
	}
	modelID, ok := m.sel.Model(m.threadID)
	if !ok {
		modelID = "resolving…"
	}
	header := m.theme.header.Render(title + "   model: " + modelID)

	sidebar := m.theme.panel.Width(sidebarWidth).Height(m.timeline.Height).Render(m.sidebarContent())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, m.theme.panel.Render(m.timeline.View()))
	input := m.theme.panel.Width(m.width - 4).Render(m.input.View())

	status := m.statusLine
	if m.inflight || m.pending != nil {
		status = m.spinner.View() + " " + status
	}
	footer := m.theme.footer.Render(status)
	if m.statusErr {
		footer = m.theme.errText.Padding(0, 1).Render(status)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, input, footer)
}
