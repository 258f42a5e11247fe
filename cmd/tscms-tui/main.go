package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/diviatrix/ts-cms-sub000/pkg/app"
	"github.com/diviatrix/ts-cms-sub000/pkg/client"
	"github.com/diviatrix/ts-cms-sub000/pkg/config"
	"github.com/diviatrix/ts-cms-sub000/pkg/idle"
	"github.com/diviatrix/ts-cms-sub000/pkg/logging"
	"github.com/diviatrix/ts-cms-sub000/pkg/notify"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
)

// Config
const (
	defaultFetchPath = "/records"
	refreshRate      = time.Second
	maxLogLines      = 50
	viewportHeight   = 8
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	criticalPaneStyle = paneStyle.BorderForeground(lipgloss.Color("196"))

	kindStyles = map[notify.Kind]lipgloss.Style{
		notify.KindSuccess:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		notify.KindInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		notify.KindWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		notify.KindError:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		notify.KindCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}

	logTimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	logNameStyle = lipgloss.NewStyle().Width(24).Bold(true)
)

// Signals forwarded over the pub/sub bus that the console listens to.
var watchedTopics = []signal.Name{
	signal.AuthChanged,
	signal.NavRefresh,
	signal.NotificationShown,
	signal.NotificationRemoved,
}

type tickMsg time.Time

type signalMsg signal.Event

type resultMsg struct {
	path string
	env  *client.Envelope
	err  error
}

type model struct {
	rt        *app.Runtime
	fetchPath string

	spinner  spinner.Model
	viewport viewport.Model
	signals  <-chan signal.Event
	results  chan resultMsg

	log        []string
	toasts     []notify.Message
	queued     int
	persistent []notify.Message
	session    string
	last       *resultMsg
	fetching   bool
}

func newModel(rt *app.Runtime, signals <-chan signal.Event, fetchPath string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	vp := viewport.New(100, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	m := model{
		rt:        rt,
		fetchPath: fetchPath,
		spinner:   s,
		viewport:  vp,
		signals:   signals,
		results:   make(chan resultMsg, 4),
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForSignal(m.signals),
		waitForResult(m.results),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.rt.Idle.Activity()

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.fetching = true
			m.fetch()
		case "d":
			if len(m.toasts) > 0 {
				m.rt.Notifications.Dismiss(m.toasts[len(m.toasts)-1].ID)
			}
		case "c":
			m.rt.Notifications.ClearAll()
		case "s":
			m.invokeLatest(idle.StayLabel)
		case "t":
			m.invokeLatest(notify.RetryLabel)
		default:
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}
		m.refresh()

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		m.refresh()
		cmds = append(cmds, tick())

	case signalMsg:
		m.appendLog(signal.Event(msg))
		m.refresh()
		cmds = append(cmds, waitForSignal(m.signals))

	case resultMsg:
		m.fetching = false
		m.last = &msg
		if msg.env != nil && !msg.env.Success {
			m.rt.Notifications.ErrorFromEnvelope(msg.env, notify.ErrorOptions{OnRetry: m.fetch})
		}
		m.refresh()
		cmds = append(cmds, waitForResult(m.results))

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

// fetch issues a coalesced request in the background; repeated presses
// within the coalescing window collapse into one call.
func (m model) fetch() {
	path, gateway, results := m.fetchPath, m.rt.Gateway, m.results
	go func() {
		env, err := gateway.Request(context.Background(), path, client.RequestOptions{
			UseAuth:     true,
			CoalesceKey: "console:" + path,
		})
		results <- resultMsg{path: path, env: env, err: err}
	}()
}

func (m model) invokeLatest(label string) {
	all := append(m.rt.Notifications.Persistent(), m.rt.Notifications.Toasts()...)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].HasAction(label) {
			m.rt.Notifications.Invoke(all[i].ID, label)
			return
		}
	}
}

func (m *model) refresh() {
	m.toasts = m.rt.Notifications.Toasts()
	m.queued = len(m.rt.Notifications.Queued())
	m.persistent = m.rt.Notifications.Persistent()
	m.session = m.sessionLine()
}

func (m *model) appendLog(evt signal.Event) {
	detail := evt.Data["text"]
	switch evt.Name {
	case signal.AuthChanged:
		detail = fmt.Sprintf("authenticated=%v", evt.Data["authenticated"])
	case signal.NavRefresh:
		if route, ok := evt.Data["route"]; ok {
			detail = fmt.Sprintf("navigate %v", route)
		} else {
			detail = fmt.Sprintf("refresh (%v)", evt.Data["reason"])
		}
	case signal.NotificationRemoved:
		detail = fmt.Sprintf("%v (%v)", evt.Data["id"], evt.Data["reason"])
	}

	line := fmt.Sprintf("%s %s %v",
		logTimeStyle.Render(evt.OccurredAt.Format("15:04:05")),
		logNameStyle.Render(string(evt.Name)),
		detail,
	)
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	var persistent strings.Builder
	for _, msg := range m.persistent {
		persistent.WriteString(renderMessage(msg) + "\n")
	}

	var toasts strings.Builder
	toasts.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Notifications") + "\n\n")
	if len(m.toasts) == 0 {
		toasts.WriteString(subtleStyle.Render("Nothing to show."))
	}
	for _, msg := range m.toasts {
		toasts.WriteString(renderMessage(msg) + "\n")
	}
	if m.queued > 0 {
		toasts.WriteString(subtleStyle.Render(fmt.Sprintf("+%d queued", m.queued)))
	}

	sections := []string{paneStyle.Render(m.session)}
	if persistent.Len() > 0 {
		sections = append(sections, criticalPaneStyle.Render(strings.TrimRight(persistent.String(), "\n")))
	}
	sections = append(sections,
		paneStyle.Render(strings.TrimRight(toasts.String(), "\n")),
		headerStyle.Render(fmt.Sprintf("%s Signals", m.spinner.View())),
		m.viewport.View(),
		subtleStyle.Render(fmt.Sprintf("\n%s\nr fetch %s • d dismiss • c clear • t retry • s stay signed in • q quit", m.resultLine(), m.fetchPath)),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// sessionLine validates the stored token, which may clear it. Only refresh
// calls it; View renders the cached line.
func (m model) sessionLine() string {
	state := fmt.Sprintf("idle: %s", m.rt.Idle.State())
	if !m.rt.Tokens.IsValid() {
		return errorStyle.Render("Signed out") + subtleStyle.Render(" • "+state)
	}
	claims, err := m.rt.Tokens.Claims()
	if err != nil {
		return errorStyle.Render(fmt.Sprintf("Session unreadable: %v", err))
	}
	line := okStyle.Render(fmt.Sprintf("Signed in as %s", claims.Subject))
	if claims.ExpiresAt != nil {
		line += subtleStyle.Render(fmt.Sprintf(" • expires %s", claims.ExpiresAt.Time.Format("15:04")))
	}
	return line + subtleStyle.Render(" • "+state)
}

func (m model) resultLine() string {
	switch {
	case m.fetching:
		return "Fetching..."
	case m.last == nil:
		return "No requests yet."
	case m.last.err != nil:
		return errorStyle.Render(fmt.Sprintf("%s dropped: %v", m.last.path, m.last.err))
	case m.last.env.Success:
		return okStyle.Render(fmt.Sprintf("%s → %s", m.last.path, m.last.env.Status))
	default:
		return errorStyle.Render(fmt.Sprintf("%s → %s: %s", m.last.path, m.last.env.Status, m.last.env.Message))
	}
}

func renderMessage(msg notify.Message) string {
	style, ok := kindStyles[msg.Kind]
	if !ok {
		style = subtleStyle
	}
	text := msg.Text
	if msg.Title != "" {
		text = msg.Title + ": " + text
	}
	line := style.Render(fmt.Sprintf("● %s", text))
	if len(msg.Actions) > 0 {
		labels := make([]string, 0, len(msg.Actions))
		for _, a := range msg.Actions {
			labels = append(labels, "["+a.Label+"]")
		}
		line += " " + subtleStyle.Render(strings.Join(labels, " "))
	}
	return line
}

// Commands

func waitForSignal(signals <-chan signal.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-signals
		if !ok {
			return nil
		}
		return signalMsg(evt)
	}
}

func waitForResult(results <-chan resultMsg) tea.Cmd {
	return func() tea.Msg {
		return <-results
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// subscribe merges the forwarded topics into one channel of decoded events.
func subscribe(ctx context.Context, subscriber message.Subscriber) (<-chan signal.Event, error) {
	out := make(chan signal.Event, 16)
	for _, topic := range watchedTopics {
		messages, err := subscriber.Subscribe(ctx, string(topic))
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		go func() {
			for msg := range messages {
				evt, err := signal.Decode(msg)
				msg.Ack()
				if err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return out, nil
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// The terminal belongs to the UI; logs only go to the file.
	logger, err := logging.New(logging.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	rt, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()
	defer rt.Notifications.Recover()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals, err := subscribe(ctx, rt.PubSub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fetchPath := os.Getenv("TSCMS_CONSOLE_PATH")
	if fetchPath == "" {
		fetchPath = defaultFetchPath
	}

	p := tea.NewProgram(newModel(rt, signals, fetchPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
