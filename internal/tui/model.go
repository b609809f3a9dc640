package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mealplan/internal/api"
	"mealplan/internal/render"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ── Styles ──────────────────────────────────────────────────────────────────

const pad = 2 // horizontal padding on each side

var (
	frameStyle    = lipgloss.NewStyle().Padding(1, pad)
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	busyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	alertStyle    = map[alertKind]lipgloss.Style{
		alertSuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		alertError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		alertInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("37")),
	}
)

// AlertTimeout is how long an alert stays on screen.
const AlertTimeout = 5 * time.Second

const initializingText = "Initializing..."

// ── Model ───────────────────────────────────────────────────────────────────

// Backend is the part of the API client the TUI drives directly.
type Backend interface {
	Config(ctx context.Context) (api.DefaultConfig, error)
	Generate(ctx context.Context, req api.GenerateRequest) (api.GenerateResponse, error)
	Recommendations(ctx context.Context) (api.Recommendations, error)
	SendDiscord(ctx context.Context, webhookURL string) (api.MessageResponse, error)
}

// Poller starts foreground status polling after a submitted generation.
type Poller interface {
	StartForeground() bool
}

const (
	fieldPostal = iota
	fieldPeople
	fieldMeals
	fieldCuisine
	fieldWebhook
	numFields
)

var fieldLabels = [numFields]string{"postal code", "people", "meals", "cuisine", "discord url"}

type alertKind int

const (
	alertInfo alertKind = iota
	alertSuccess
	alertError
)

type alert struct {
	kind alertKind
	text string
	seq  int
}

// Model is the BubbleTea model for the meal planner page.
type Model struct {
	ctx     context.Context
	backend Backend
	poller  Poller

	defaults api.DefaultConfig
	fields   [numFields]string
	focus    int
	editing  bool
	input    string

	// Submit control and status section.
	busy          bool
	statusVisible bool
	statusText    string

	// Results pane.
	rec          *api.Recommendations
	lines        []string
	scrollOffset int

	// Discord send prompt.
	confirmSend bool
	sending     bool

	alert alert

	width  int
	height int
}

func NewModel(ctx context.Context, backend Backend, poller Poller) Model {
	return Model{ctx: ctx, backend: backend, poller: poller}
}

// ── Messages ────────────────────────────────────────────────────────────────

type configMsg struct {
	cfg api.DefaultConfig
	err error
}
type progressMsg string
type busyMsg bool
type resultsMsg struct {
	rec api.Recommendations
	err error
}
type alertMsg struct {
	kind alertKind
	text string
}
type clearAlertMsg struct{ seq int }
type generatedMsg struct{ err error }
type discordMsg struct {
	resp api.MessageResponse
	err  error
}

// ── Init / Commands ─────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd { return m.fetchConfig }

func (m Model) fetchConfig() tea.Msg {
	cfg, err := m.backend.Config(m.ctx)
	return configMsg{cfg: cfg, err: err}
}

func (m Model) submit(req api.GenerateRequest) tea.Cmd {
	return func() tea.Msg {
		_, err := m.backend.Generate(m.ctx, req)
		return generatedMsg{err: err}
	}
}

func (m Model) sendDiscord(webhookURL string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.backend.SendDiscord(m.ctx, webhookURL)
		return discordMsg{resp: resp, err: err}
	}
}

// request builds a generation request from the form fields.
func (m Model) request() api.GenerateRequest {
	req := api.RequestFromDefaults(m.defaults)
	req.PostalCode = m.fields[fieldPostal]
	req.NumPeople = atoiOrZero(m.fields[fieldPeople])
	req.NumMeals = atoiOrZero(m.fields[fieldMeals])
	req.Cuisine = m.fields[fieldCuisine]
	req.Normalize()
	return req
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.rec != nil {
			m.lines = render.Lines(m.rec.Recommendations, m.cw())
			m.scrollOffset = min(m.scrollOffset, maxOffset(m.lines, m.resultsHeight()))
		}
	case configMsg:
		if msg.err != nil {
			return m.showAlert(alertError, "Failed to load defaults: "+msg.err.Error())
		}
		m.defaults = msg.cfg
		m.fields = [numFields]string{
			fieldPostal:  msg.cfg.PostalCode,
			fieldPeople:  strconv.Itoa(msg.cfg.NumPeople),
			fieldMeals:   strconv.Itoa(msg.cfg.NumMeals),
			fieldCuisine: msg.cfg.Cuisine,
			fieldWebhook: msg.cfg.DiscordWebhookURL,
		}
	case progressMsg:
		m.statusVisible = true
		m.statusText = string(msg)
	case busyMsg:
		m.busy = bool(msg)
		if !m.busy {
			m.statusVisible = false
		}
	case resultsMsg:
		if msg.err != nil {
			return m.showAlert(alertError, render.LoadFailedText)
		}
		rec := msg.rec
		m.rec = &rec
		m.lines = render.Lines(rec.Recommendations, m.cw())
		m.scrollOffset = 0
	case alertMsg:
		return m.showAlert(msg.kind, msg.text)
	case clearAlertMsg:
		if msg.seq == m.alert.seq {
			m.alert.text = ""
		}
	case generatedMsg:
		if msg.err != nil {
			m.busy = false
			m.statusVisible = false
			return m.showAlert(alertError, msg.err.Error())
		}
		m.busy = true
		m.statusVisible = true
		m.statusText = initializingText
		m.poller.StartForeground()
	case discordMsg:
		m.sending = false
		if msg.err != nil {
			return m.showAlert(alertError, msg.err.Error())
		}
		text := msg.resp.Message
		if text == "" {
			text = "Successfully sent to Discord"
		}
		return m.showAlert(alertSuccess, text)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// showAlert replaces the alert line and schedules its removal.
func (m Model) showAlert(kind alertKind, text string) (tea.Model, tea.Cmd) {
	seq := m.alert.seq + 1
	m.alert = alert{kind: kind, text: text, seq: seq}
	return m, tea.Tick(AlertTimeout, func(time.Time) tea.Msg { return clearAlertMsg{seq: seq} })
}

// ── Key Handling ────────────────────────────────────────────────────────────

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.editing {
		return m.handleKeyEdit(msg)
	}

	key := msg.String()
	if m.confirmSend {
		switch key {
		case "y":
			m.confirmSend = false
			m.sending = true
			return m, m.sendDiscord(m.fields[fieldWebhook])
		case "n", "esc":
			m.confirmSend = false
		}
		return m, nil
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "tab", "down":
		m.focus = (m.focus + 1) % numFields
	case "shift+tab", "up":
		m.focus = (m.focus + numFields - 1) % numFields
	case "e", "enter":
		m.editing = true
		m.input = m.fields[m.focus]
	case "j":
		if m.scrollOffset < maxOffset(m.lines, m.resultsHeight()) {
			m.scrollOffset++
		}
	case "k":
		if m.scrollOffset > 0 {
			m.scrollOffset--
		}
	case "g":
		return m.generate()
	case "d":
		return m.promptSend()
	}
	return m, nil
}

func (m Model) handleKeyEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.fields[m.focus] = strings.TrimSpace(m.input)
		m.editing = false
	case tea.KeyEsc:
		m.editing = false
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m, nil
}

// generate validates the form and submits it. Nothing is sent when a field
// is invalid.
func (m Model) generate() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	req := m.request()
	if err := req.Validate(); err != nil {
		return m.showAlert(alertError, joinErrors(err))
	}
	m.busy = true
	return m, m.submit(req)
}

func (m Model) promptSend() (tea.Model, tea.Cmd) {
	if m.sending {
		return m, nil
	}
	if m.rec == nil {
		return m.showAlert(alertInfo, "No recommendations to send yet")
	}
	if strings.TrimSpace(m.fields[fieldWebhook]) == "" {
		return m.showAlert(alertError, "Discord webhook URL is required")
	}
	m.confirmSend = true
	return m, nil
}

// ── View ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	var b strings.Builder
	w := m.cw()
	rule := dimStyle.Render(strings.Repeat("─", w))

	b.WriteString(titleStyle.Render("MEAL PLANNER"))
	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("\n\n")

	for i := 0; i < numFields; i++ {
		value := m.fields[i]
		if m.editing && i == m.focus {
			value = m.input + "_"
		}
		cursor := "  "
		label := labelStyle.Render(padRight(fieldLabels[i], 13))
		if i == m.focus {
			cursor = "> "
			label = selectedStyle.Render(padRight(fieldLabels[i], 13))
		}
		b.WriteString(cursor + label + " " + value + "\n")
	}
	b.WriteString("\n")

	if m.statusVisible {
		b.WriteString(busyStyle.Render("● " + m.statusText))
		b.WriteString("\n\n")
	}

	b.WriteString(rule)
	b.WriteString("\n")
	if m.rec == nil {
		b.WriteString(dimStyle.Render("No recommendations yet. Press g to generate."))
		b.WriteString("\n")
	} else {
		avail := m.resultsHeight()
		start, end := scrollWindow(m.lines, m.scrollOffset, avail)
		for _, line := range m.lines[start:end] {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString(dimStyle.Render(render.FlyerNote(*m.rec) + scrollPercent(m.lines, m.scrollOffset, avail)))
		b.WriteString("\n")
	}
	b.WriteString(rule)
	b.WriteString("\n")

	if m.confirmSend {
		b.WriteString(alertStyle[alertInfo].Render("Send recommendations to Discord? (y/n)"))
		b.WriteString("\n")
	} else if m.alert.text != "" {
		b.WriteString(alertStyle[m.alert.kind].Render(m.alert.text))
		b.WriteString("\n")
	}
	b.WriteString(m.footer())
	return frameStyle.Render(b.String())
}

func (m Model) footer() string {
	if m.editing {
		return dimStyle.Render("enter save  esc cancel")
	}
	generate := "g generate"
	if m.busy {
		generate = "generating..."
	}
	send := "d send to Discord"
	if m.sending {
		send = "sending..."
	}
	return dimStyle.Render(generate + "  " + send + "  e edit  tab next field  j/k scroll  q quit")
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// cw returns content width (terminal width minus frame padding).
func (m Model) cw() int {
	w := m.width - pad*2
	if w < 40 {
		w = 76 // sensible default before first WindowSizeMsg
	}
	return w
}

func (m Model) resultsHeight() int {
	// Reserve lines for chrome: frame(2) + title(2) + form(7) + status(2) + rules(2) + flyer note(1) + alert(1) + footer(1).
	h := m.height - 18
	if h < 3 {
		h = 3
	}
	return h
}

func maxOffset(lines []string, avail int) int {
	return max(len(lines)-avail, 0)
}

func scrollWindow(lines []string, offset, avail int) (int, int) {
	if avail < 1 {
		avail = 1
	}
	start := min(offset, len(lines))
	end := min(start+avail, len(lines))
	return start, end
}

func scrollPercent(lines []string, offset, avail int) string {
	mx := len(lines) - avail
	if mx <= 0 {
		return ""
	}
	return fmt.Sprintf("  [%d%%]", offset*100/mx)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// joinErrors flattens an errors.Join result onto one line.
func joinErrors(err error) string {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return err.Error()
	}
	parts := make([]string, 0, len(joined.Unwrap()))
	for _, e := range joined.Unwrap() {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// padRight pads a plain string to n characters with spaces.
func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
