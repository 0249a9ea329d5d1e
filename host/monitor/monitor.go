// Package monitor is a terminal dashboard for a running ESC: speed chart,
// status line and keyboard speed control.
package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"escore/host/escctl"
	"escore/protocol"
)

// Source is the ESC as the dashboard sees it
type Source interface {
	Status() (protocol.Status, error)
	SetSpeed(rpm int32) error
	Stop() error
}

// Options tune the dashboard
type Options struct {
	Interval time.Duration // status poll period
	MaxRPM   float64       // chart y range is +-MaxRPM
	StepRPM  int32         // speed change per key press
}

func DefaultOptions() Options {
	return Options{Interval: 100 * time.Millisecond, MaxRPM: 6000, StepRPM: 250}
}

const (
	dataMeasured = "measured"
	dataTarget   = "target"

	headerHeight = 2
	statusHeight = 4
	footerHeight = 7
	maxLogs      = 5
	borderSize   = 2
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	modeStyles  = map[string]lipgloss.Style{
		"STOPPED":     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
		"OPEN_LOOP":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
		"CLOSED_LOOP": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
	}
	seriesColors = map[string]string{
		dataMeasured: "51",
		dataTarget:   "201",
	}
)

type statusMsg protocol.Status
type errMsg struct{ err error }
type tickMsg time.Time

// Model is the bubbletea model
type Model struct {
	src  Source
	opts Options

	chart    *streamlinechart.Model
	width    int
	height   int
	status   protocol.Status
	have     bool
	speed    int32 // last commanded
	logs     []string
	quitting bool
}

func New(src Source, opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.MaxRPM <= 0 {
		opts.MaxRPM = DefaultOptions().MaxRPM
	}
	if opts.StepRPM <= 0 {
		opts.StepRPM = DefaultOptions().StepRPM
	}

	chart := streamlinechart.New(80, 16, streamlinechart.WithYRange(-opts.MaxRPM, opts.MaxRPM))
	for _, name := range []string{dataMeasured, dataTarget} {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return Model{src: src, opts: opts, chart: &chart}
}

// Run shows the dashboard until the user quits
func Run(src Source, opts Options) error {
	p := tea.NewProgram(New(src, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *Model) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *Model) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 16
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - statusHeight - footerHeight - borderSize
	if height < 8 {
		height = 8
	}
	return width, height
}

func poll(src Source) tea.Cmd {
	return func() tea.Msg {
		st, err := src.Status()
		if err != nil {
			return errMsg{err}
		}
		return statusMsg(st)
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(poll(m.src), tick(m.opts.Interval))
}

// command runs a speed command off the UI goroutine
func (m Model) command(desc string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{fmt.Errorf("%s: %w", desc, err)}
		}
		return nil
	}
}

func (m Model) setSpeed(rpm int32) (Model, tea.Cmd) {
	m.speed = rpm
	m.addLog(fmt.Sprintf("set_speed %d", rpm))
	return m, m.command("set_speed", func() error { return m.src.SetSpeed(rpm) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Sequence(m.command("stop", m.src.Stop), tea.Quit)
		case "up", "k":
			return m.setSpeed(m.speed + m.opts.StepRPM)
		case "down", "j":
			return m.setSpeed(m.speed - m.opts.StepRPM)
		case "r":
			return m.setSpeed(-m.speed)
		case "s", " ":
			m.speed = 0
			m.addLog("stop")
			return m, m.command("stop", m.src.Stop)
		}

	case tickMsg:
		return m, tea.Batch(poll(m.src), tick(m.opts.Interval))

	case statusMsg:
		st := protocol.Status(msg)
		m.status = st
		m.have = true
		m.chart.PushDataSet(dataMeasured, float64(st.MeasuredRPM))
		m.chart.PushDataSet(dataTarget, float64(st.TargetRPM))
		m.chart.DrawAll()
		return m, nil

	case errMsg:
		m.addLog(msg.err.Error())
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return "Motor stopped.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("ESC Monitor"))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  commanded %d rpm", m.speed)))
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240"))
	if m.width > 4 {
		logStyle = logStyle.Width(m.width - 4)
	}
	logLines := statusStyle.Render("up/down speed  r reverse  s stop  q quit")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) renderStatus() string {
	if !m.have {
		return statusStyle.Render("waiting for status...")
	}
	st := m.status
	mode := escctl.ModeName(st.Mode)
	style, ok := modeStyles[mode]
	if !ok {
		style = statusStyle
	}
	flags := ""
	if st.Flags&protocol.FlagBemfValid != 0 {
		flags += " BEMF"
	}
	if st.Flags&protocol.FlagReversePending != 0 {
		flags += " REVERSING"
	}
	if st.Flags&protocol.FlagAligning != 0 {
		flags += " ALIGNING"
	}
	return style.Render(mode) + " " + escctl.DirectionName(st.Direction) + flags + "\n" +
		fmt.Sprintf("rpm %d  target %d  cmd %d  duty %.1f%%  period %dus  step %d",
			st.MeasuredRPM, st.TargetRPM, st.CommandedRPM,
			float64(st.DutyPermille)/10, st.PeriodUS, st.Step) + "\n" +
		statusStyle.Render(fmt.Sprintf("zc %d  comm %d  handovers %d  startup failures %d",
			st.ZeroCrosses, st.Commutations, st.Handovers, st.StartupFailures))
}

func renderLegend() string {
	var items []string
	for _, name := range []string{dataMeasured, dataTarget} {
		s := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, s.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}
