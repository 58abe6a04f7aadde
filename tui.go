package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/tomaslejdung/sharescreen/pkg/controller"
	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	viewerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	toggleActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))

	toggleInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	boxTitleDimStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("8"))
)

// Messages
type flagMsg struct {
	flag controller.Flag
	on   bool
}

type errorMsg string

type videoMsg struct {
	track media.Track
	muted bool
}

type audioMsg struct {
	track media.Track
}

type clearMsg struct{}

type initializedMsg struct {
	err error
}

type disconnectedMsg struct {
	err error
}

type tickMsg time.Time

// actions is what the keyboard drives
type actions interface {
	RequestShare()
	RequestStopShare()
	ToggleLocalVideo()
	ToggleLocalAudio()
	SelectProfile(name string) error
}

// teaUI renders controller output by sending it to the bubbletea program
type teaUI struct {
	program *tea.Program
}

func (u *teaUI) SetFlag(flag controller.Flag, on bool) { u.program.Send(flagMsg{flag: flag, on: on}) }
func (u *teaUI) ShowError(message string)              { u.program.Send(errorMsg(message)) }
func (u *teaUI) PlayVideo(track media.Track, muted bool) {
	u.program.Send(videoMsg{track: track, muted: muted})
}
func (u *teaUI) PlayAudio(track media.Track) { u.program.Send(audioMsg{track: track}) }
func (u *teaUI) ClearScreen()                { u.program.Send(clearMsg{}) }

type model struct {
	ctrl       actions
	replica    *session.Replica
	self       session.ParticipantID
	room       string
	joinURL    string
	initialize tea.Cmd
	// onProfile persists a profile change
	onProfile func(name string)
	autoShare bool

	initialized  bool
	flags        map[controller.Flag]bool
	profile      int
	video        media.Track
	videoMuted   bool
	audio        media.Track
	participants []string
	lastError    string
	fatal        error
	startTime    time.Time
	width        int
	height       int
}

func newModel(ctrl actions, replica *session.Replica, self session.ParticipantID, room, profile string) model {
	idx := media.ProfileIndex(profile)
	if idx < 0 {
		idx = media.DefaultProfileIndex()
	}
	return model{
		ctrl:      ctrl,
		replica:   replica,
		self:      self,
		room:      room,
		flags:     make(map[controller.Flag]bool),
		profile:   idx,
		startTime: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	if m.initialize == nil {
		return tickCmd()
	}
	return tea.Batch(m.initialize, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case initializedMsg:
		if msg.err != nil {
			m.fatal = msg.err
			return m, tea.Quit
		}
		m.initialized = true
		m.participants = m.participantNames()
		if m.autoShare {
			m.ctrl.RequestShare()
		}
		return m, nil

	case disconnectedMsg:
		m.fatal = fmt.Errorf("session connection lost: %w", msg.err)
		return m, tea.Quit

	case flagMsg:
		m.flags[msg.flag] = msg.on
		return m, nil

	case errorMsg:
		m.lastError = string(msg)
		return m, nil

	case videoMsg:
		m.video = msg.track
		m.videoMuted = msg.muted
		return m, nil

	case audioMsg:
		m.audio = msg.track
		return m, nil

	case clearMsg:
		m.video = nil
		m.audio = nil
		return m, nil

	case tickMsg:
		m.participants = m.participantNames()
		return m, tickCmd()
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "s":
		m.lastError = ""
		m.ctrl.RequestShare()

	case "x":
		m.ctrl.RequestStopShare()

	case "v":
		m.ctrl.ToggleLocalVideo()

	case "a":
		m.ctrl.ToggleLocalAudio()

	case "p":
		return m.applyProfile((m.profile + 1) % len(media.Profiles))

	case "1", "2", "3", "4", "5", "6":
		return m.applyProfile(int(msg.String()[0] - '1'))
	}
	return m, nil
}

func (m model) applyProfile(index int) (tea.Model, tea.Cmd) {
	if index < 0 || index >= len(media.Profiles) {
		return m, nil
	}
	name := media.Profiles[index].Name
	if err := m.ctrl.SelectProfile(name); err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	m.profile = index
	if m.onProfile != nil {
		m.onProfile(name)
	}
	return m, nil
}

func (m model) participantNames() []string {
	if m.replica == nil {
		return nil
	}
	sharer := m.replica.Sharer()
	return lo.Map(m.replica.Participants(), func(id session.ParticipantID, _ int) string {
		name := m.displayName(id)
		if id == m.self {
			name += " (you)"
		}
		if id == sharer {
			name += " *"
		}
		return name
	})
}

func (m model) displayName(id session.ParticipantID) string {
	if m.replica != nil {
		if member, ok := m.replica.Member(id); ok {
			if name := lo.CoalesceOrEmpty(member.Nickname, member.Initials); name != "" {
				return name
			}
		}
	}
	return truncate(string(id), 8)
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("sharescreen"))
	b.WriteString(dimStyle.Render(" - screen sharing"))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	columns := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(m.renderParticipants()),
		boxStyle.Render(m.renderProfileList()),
		boxStyle.Render(m.renderScreen()),
	)
	b.WriteString(columns)
	b.WriteString("\n")

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder

	switch {
	case !m.initialized:
		b.WriteString(dimStyle.Render("[CONNECTING]"))
	case m.flags[controller.FlagSharingLocally]:
		b.WriteString(selectedStyle.Render("[SHARING]"))
	case m.flags[controller.FlagSomeoneSharing]:
		b.WriteString(viewerStyle.Render("[VIEWING]"))
	case m.flags[controller.FlagAlone]:
		b.WriteString(dimStyle.Render("[ALONE]"))
	default:
		b.WriteString(statusStyle.Render("[READY]"))
	}

	b.WriteString(" ")
	b.WriteString(normalStyle.Render("Room: "))
	b.WriteString(urlStyle.Render(m.room))
	if m.joinURL != "" {
		b.WriteString(dimStyle.Render("  via " + m.joinURL))
	}
	b.WriteString(dimStyle.Render("  " + formatDuration(time.Since(m.startTime).Truncate(time.Second))))
	return b.String()
}

func (m model) renderParticipants() string {
	var b strings.Builder
	b.WriteString(boxTitleDimStyle.Render(fmt.Sprintf(" Participants (%d) ", len(m.participants))))
	b.WriteString("\n")
	if len(m.participants) == 0 {
		b.WriteString(dimStyle.Render("nobody yet"))
	}
	for _, name := range m.participants {
		b.WriteString(normalStyle.Render(name))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m model) renderProfileList() string {
	var b strings.Builder

	b.WriteString(boxTitleDimStyle.Render(" Profile "))
	b.WriteString("\n")

	for i, p := range media.Profiles {
		label := fmt.Sprintf("%d %s (%s)", i+1, p.Name, p.Description)
		if i == m.profile {
			b.WriteString(selectedStyle.Render("> " + label))
		} else {
			b.WriteString(dimStyle.Render("  " + label))
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m model) renderScreen() string {
	var b strings.Builder
	b.WriteString(boxTitleDimStyle.Render(" Screen "))
	b.WriteString("\n")

	if m.video == nil {
		b.WriteString(dimStyle.Render("nothing on screen"))
		return b.String()
	}

	if remote, ok := m.video.(media.RemoteTrack); ok {
		b.WriteString(viewerStyle.Render("Viewing " + m.displayName(remote.Participant())))
		b.WriteString("\n")
		stats := remote.Stats()
		b.WriteString(dimStyle.Render(fmt.Sprintf("%s packets, %s",
			formatNumber(int64(stats.Packets)), formatBytes(int64(stats.Bytes)))))
		if audio, ok := m.audio.(media.RemoteTrack); ok {
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(fmt.Sprintf("audio: %s", formatBytes(int64(audio.Stats().Bytes)))))
		}
		return b.String()
	}

	label := "Local preview"
	if m.videoMuted {
		label += " (muted)"
	}
	b.WriteString(selectedStyle.Render(label))
	return b.String()
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

func formatBytes(b int64) string {
	if b >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(b)/1_000_000_000)
	}
	if b >= 1_000_000 {
		return fmt.Sprintf("%.1f MB", float64(b)/1_000_000)
	}
	if b >= 1_000 {
		return fmt.Sprintf("%.1f KB", float64(b)/1_000)
	}
	return fmt.Sprintf("%d B", b)
}

func (m model) renderHelp() string {
	var b strings.Builder
	sep := keySepStyle.Render("  ")

	var keys []string
	sharing := m.flags[controller.FlagSharingLocally]
	switch {
	case sharing:
		keys = append(keys, keyStyle.Render("x")+helpStyle.Render(" stop"))
	case m.replica != nil && !m.replica.CanShare():
		// a request would be refused right now
		keys = append(keys, dimStyle.Render("s share"))
	default:
		keys = append(keys, keyStyle.Render("s")+helpStyle.Render(" share"))
	}
	keys = append(keys, keyStyle.Render("p")+helpStyle.Render(" profile"))
	keys = append(keys, keyStyle.Render("1-6")+helpStyle.Render(" pick profile"))
	keys = append(keys, keyStyle.Render("q")+helpStyle.Render(" quit"))
	b.WriteString(strings.Join(keys, sep))

	if sharing {
		toggles := []string{
			m.renderToggle("v", "video", !m.flags[controller.FlagVideoMuted]),
		}
		if m.flags[controller.FlagHasAudio] {
			toggles = append(toggles, m.renderToggle("a", "audio", !m.flags[controller.FlagAudioMuted]))
		}
		b.WriteString("\n\n")
		b.WriteString(strings.Join(toggles, "   "))
	}

	return b.String()
}

// renderToggle renders a toggle keybind with active/inactive indicator
func (m model) renderToggle(key, label string, active bool) string {
	if active {
		return toggleActiveStyle.Render("● "+key) + " " + toggleActiveStyle.Render(label)
	}
	return toggleInactiveStyle.Render("○ "+key) + " " + toggleInactiveStyle.Render(label)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// RunTUI drives ctrl from the terminal until the user quits, ctx ends or
// the session connection drops. The controller is torn down on return.
func RunTUI(ctx context.Context, ctrl *controller.Controller, ui *teaUI, m model, done <-chan struct{}, connErr func() error) error {
	m.initialize = func() tea.Msg {
		return initializedMsg{err: ctrl.Initialize(ctx)}
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	ui.program = p

	go func() {
		select {
		case <-done:
			p.Send(disconnectedMsg{err: connErr()})
		case <-ctx.Done():
		}
	}()

	final, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = nil
	}

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := errors.Join(runErr, ctrl.Teardown(teardownCtx))

	if fm, ok := final.(model); ok && fm.fatal != nil {
		err = errors.Join(fm.fatal, err)
	}
	return err
}
