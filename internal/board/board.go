// Package board renders the interactive workflow board.
//
// Workflows are shown as backlog columns (open, spec ready, in
// progress, blocked, done) with the active workflow's phase progress
// and a sparkline of recent gate checks from the decision journal.
package board

import (
	"fmt"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/specgate/internal/gate"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	journalWindow   = 200
)

// columns fixes the board layout order.
var columns = []state.BacklogStatus{
	state.BacklogOpen,
	state.BacklogSpecReady,
	state.BacklogInProgress,
	state.BacklogBlocked,
	state.BacklogDone,
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	blockedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Snapshot is one refresh of board data.
type Snapshot struct {
	Workflows []*state.Workflow
	ActiveID  string
	Checks    int // journal records inside the refresh window
	Blocks    int
}

// Source supplies board data on each refresh.
type Source interface {
	Snapshot() (Snapshot, error)
}

// Model is the bubbletea board model.
type Model struct {
	source     Source
	interval   time.Duration
	snapshot   Snapshot
	history    []float64
	lastUpdate time.Time
	err        error
	quitting   bool

	phaseProgress progress.Model
}

// NewModel creates the board model.
func NewModel(source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		source:   source,
		interval: interval,
		history:  make([]float64, 0, historySize),
		phaseProgress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), m.fetch())
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.source.Snapshot()
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), m.fetch())

	case snapshotMsg:
		m.snapshot = Snapshot(msg)
		m.history = appendToHistory(m.history, float64(m.snapshot.Checks))
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the board.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderBoard()
}

func (m Model) renderError() string {
	var content string
	content += headerStyle.Render(" specgate board ") + "\n\n"
	content += blockedStyle.Render("cannot read workflow state") + "\n\n"
	content += dimStyle.Render("Error: ") + m.err.Error() + "\n\n"
	content += footerStyle.Render("[q] quit  [r] retry")
	return containerStyle.Render(content)
}

func (m Model) renderBoard() string {
	var content string

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("15:04:05")
	}
	content += headerStyle.Render(" specgate board ") + "   " +
		dimStyle.Render("updated "+lastUpdateStr) + "\n"

	byStatus := groupByStatus(m.snapshot.Workflows)
	for _, status := range columns {
		entries := byStatus[status]
		content += "\n" + sectionStyle.Render(fmt.Sprintf("┃ %s (%d)", status, len(entries))) + "\n"
		for _, w := range entries {
			marker := "  "
			style := valueStyle
			if w.ID == m.snapshot.ActiveID {
				marker = "▸ "
				style = activeStyle
			}
			content += labelStyle.Render(marker) + style.Render(w.ID) +
				dimStyle.Render("  "+string(w.Phase)) + "\n"
		}
	}

	if active := findWorkflow(m.snapshot.Workflows, m.snapshot.ActiveID); active != nil {
		content += "\n" + sectionStyle.Render("┃ Active phase") + "\n"
		content += labelStyle.Render("  "+active.ID+": ") +
			valueStyle.Render(string(active.Phase)) + "\n"
		content += labelStyle.Render("  Progress: ") +
			m.phaseProgress.ViewAs(phaseFraction(active.Phase)) + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Gate checks") + "\n"
	content += labelStyle.Render("  Recent: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Checks)) +
		dimStyle.Render(fmt.Sprintf("  (%d blocked)", m.snapshot.Blocks)) +
		"   " + createSparkline(m.history) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}

// groupByStatus buckets workflows into board columns, ordered by id for
// a stable layout.
func groupByStatus(workflows []*state.Workflow) map[state.BacklogStatus][]*state.Workflow {
	out := make(map[state.BacklogStatus][]*state.Workflow)
	for _, w := range workflows {
		out[w.BacklogStatus] = append(out[w.BacklogStatus], w)
	}
	for _, entries := range out {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	}
	return out
}

func findWorkflow(workflows []*state.Workflow, id string) *state.Workflow {
	if id == "" {
		return nil
	}
	for _, w := range workflows {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// phaseFraction maps a phase to its position in the lifecycle.
func phaseFraction(p state.Phase) float64 {
	order := []state.Phase{
		state.PhaseIdle, state.PhaseContext, state.PhaseAnalyse,
		state.PhaseSpec, state.PhaseApproved, state.PhaseTDDRed,
		state.PhaseImplement, state.PhaseValidate, state.PhaseComplete,
	}
	for i, candidate := range order {
		if candidate == p {
			return float64(i) / float64(len(order)-1)
		}
	}
	return 0
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

// journalSource derives check counts from the gate decision journal.
type journalSource struct {
	list    func() ([]*state.Workflow, string, error)
	journal *gate.Journal
	window  time.Duration
}

// NewJournalSource builds a Source over a workflow lister and the gate
// journal. list returns all workflows plus the active id.
func NewJournalSource(list func() ([]*state.Workflow, string, error), journal *gate.Journal, window time.Duration) Source {
	if window <= 0 {
		window = time.Minute
	}
	return &journalSource{list: list, journal: journal, window: window}
}

func (s *journalSource) Snapshot() (Snapshot, error) {
	workflows, activeID, err := s.list()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Workflows: workflows, ActiveID: activeID}
	cutoff := time.Now().Add(-s.window)
	for _, record := range s.journal.Tail(journalWindow) {
		if record.Timestamp.Before(cutoff) {
			continue
		}
		snap.Checks++
		if record.Decision == "block" {
			snap.Blocks++
		}
	}
	return snap, nil
}
