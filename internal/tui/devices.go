// SPDX-License-Identifier: MIT

// Package tui holds the interactive device picker used by the devices
// command.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pcmframe/internal/capture"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

// ScreenType defines which screen is currently active.
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// SampleRates offered on the configuration screen.
var SampleRates = []float64{44100, 48000, 88200, 96000}

var (
	quitKey  = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	upKey    = key.NewBinding(key.WithKeys("up", "k"))
	downKey  = key.NewBinding(key.WithKeys("down", "j"))
	leftKey  = key.NewBinding(key.WithKeys("left", "h"))
	rightKey = key.NewBinding(key.WithKeys("right", "l"))
	enterKey = key.NewBinding(key.WithKeys("enter"))
	backKey  = key.NewBinding(key.WithKeys("esc"))
)

// Selection is the capture setup chosen in the picker.
type Selection struct {
	DeviceID   int
	DeviceName string
	SampleRate float64
	Channels   int
}

// DeviceListModel is the Bubble Tea model of the device picker.
type DeviceListModel struct {
	fetch         func() ([]capture.Device, error)
	devices       []capture.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	sampleRateIndex int
	channels        int

	selection *Selection
}

type devicesMsg struct {
	devices []capture.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a picker over the devices returned by fetch.
func NewDeviceListModel(fetch func() ([]capture.Device, error)) DeviceListModel {
	return DeviceListModel{fetch: fetch, activeScreen: ListScreen}
}

func (m DeviceListModel) Init() tea.Cmd {
	return func() tea.Msg {
		devices, err := m.fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, quitKey) || m.err != nil {
			return m, tea.Quit
		}
		if m.activeScreen == ListScreen {
			if done := m.updateList(msg); done {
				return m, tea.Quit
			}
		} else if done := m.updateConfig(msg); done {
			return m, tea.Quit
		}
		m.refresh()
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *DeviceListModel) updateList(msg tea.KeyMsg) bool {
	switch {
	case key.Matches(msg, upKey):
		m.selectedIndex = max(0, m.selectedIndex-1)
	case key.Matches(msg, downKey):
		m.selectedIndex = max(0, min(len(m.devices)-1, m.selectedIndex+1))
	case key.Matches(msg, enterKey):
		if len(m.devices) == 0 {
			return false
		}
		device := m.devices[m.selectedIndex]
		m.activeScreen = ConfigScreen
		m.sampleRateIndex = 0
		for i, rate := range SampleRates {
			if rate == device.DefaultSampleRate {
				m.sampleRateIndex = i
				break
			}
		}
		m.channels = min(2, max(1, device.MaxInputChannels))
	}
	return false
}

func (m *DeviceListModel) updateConfig(msg tea.KeyMsg) bool {
	device := m.devices[m.selectedIndex]
	switch {
	case key.Matches(msg, backKey):
		m.activeScreen = ListScreen
	case key.Matches(msg, upKey):
		m.sampleRateIndex = max(0, m.sampleRateIndex-1)
	case key.Matches(msg, downKey):
		m.sampleRateIndex = min(len(SampleRates)-1, m.sampleRateIndex+1)
	case key.Matches(msg, leftKey):
		m.channels = max(1, m.channels-1)
	case key.Matches(msg, rightKey):
		m.channels = min(max(1, device.MaxInputChannels), m.channels+1)
	case key.Matches(msg, enterKey):
		m.selection = &Selection{
			DeviceID:   device.ID,
			DeviceName: device.Name,
			SampleRate: SampleRates[m.sampleRateIndex],
			Channels:   m.channels,
		}
		return true
	}
	return false
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ListScreen {
		m.viewport.SetContent(m.renderDevices())
	} else {
		m.viewport.SetContent(m.renderDeviceConfig())
	}
}

// Selection returns the confirmed choice, if any.
func (m DeviceListModel) Selection() (Selection, bool) {
	if m.selection == nil {
		return Selection{}, false
	}
	return *m.selection, true
}

func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Audio Input Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Capture Configuration")
		help = infoStyle.Render("↑/↓: Sample rate • ←/→: Channels • Enter: Select • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No audio input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		marker := ""
		if device.IsDefaultInput {
			marker = " (default)"
		}
		info := fmt.Sprintf("[%d] %s%s\n", device.ID, device.Name, marker)
		info += fmt.Sprintf("    %s, input channels: %d\n", device.Kind(), device.MaxInputChannels)
		info += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	device := m.devices[m.selectedIndex]

	var sb strings.Builder
	fmt.Fprintf(&sb, "Configure Device: %s\n\n", device.Name)
	sb.WriteString("Sample Rate:\n")
	for i, rate := range SampleRates {
		cursor := " "
		if i == m.sampleRateIndex {
			cursor = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", cursor, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	fmt.Fprintf(&sb, "\nChannels: %s\n", highlightStyle.Render(fmt.Sprintf("◀ %d ▶", m.channels)))
	return sb.String()
}

// RunDevicePicker runs the picker full screen and returns the confirmed
// selection. ok is false when the user quit without choosing.
func RunDevicePicker(fetch func() ([]capture.Device, error)) (sel Selection, ok bool, err error) {
	p := tea.NewProgram(NewDeviceListModel(fetch), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, false, err
	}
	m := final.(DeviceListModel)
	if m.err != nil {
		return Selection{}, false, m.err
	}
	sel, ok = m.Selection()
	return sel, ok, nil
}
