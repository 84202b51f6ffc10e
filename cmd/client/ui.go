package main

import (
	"fmt"
	"strings"

	"github.com/AmoolyaSuneja/ChatMe/pkg/discovery"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/negotiation"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	Primary = lipgloss.Color("#22d3ee")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(1, 2)

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	TableRowStyle    = tableCellStyle.Foreground(lipgloss.Color("255"))
	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render("✗"), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Printf("%s %s\n", WarningStyle.Render("!"), WarningStyle.Render(msg))
}

// PrintStatus prints one negotiation status line.
func PrintStatus(msg string) {
	fmt.Println(statusStyle(msg).Render("• " + msg))
}

func statusStyle(msg string) lipgloss.Style {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "connected") && !strings.Contains(lower, "disconnected"):
		return SuccessStyle
	case strings.Contains(lower, "fail"), strings.Contains(lower, "error"), strings.Contains(lower, "unavailable"):
		return ErrorStyle
	case strings.Contains(lower, "lost"), strings.Contains(lower, "left"), strings.Contains(lower, "reconnect"):
		return WarningStyle
	default:
		return MutedStyle
	}
}

// PrintState prints a state change as a short badge.
func PrintState(s negotiation.State) {
	fmt.Println(TitleStyle.Render("[" + s.String() + "]"))
}

// RoomBox renders the code a second participant needs to join.
func RoomBox(room discovery.Room) string {
	lines := []string{
		TitleStyle.Render("Room " + room.ID),
		"",
		"Name:        " + room.Name,
		fmt.Sprintf("Discoverable: %v", room.AllowDiscovery),
	}
	if room.AllowDiscovery {
		lines = append(lines, fmt.Sprintf("Radius:      %.1f km", room.Radius))
	}
	lines = append(lines, "", MutedStyle.Render("chatme join "+room.ID))
	return BoxStyle.Render(strings.Join(lines, "\n"))
}

// RoomsTable renders the nearby rooms, nearest first.
func RoomsTable(rooms []discovery.Nearby, ageOf func(discovery.Room) string) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No rooms nearby")
	}
	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		rows = append(rows, []string{r.ID, r.Name, formatDistance(r.DistanceKm), ageOf(r.Room)})
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Code", "Name", "Distance", "Age").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return tbl.Render()
}

func formatDistance(km float64) string {
	switch {
	case km < 0:
		return "?"
	case km < 1:
		return fmt.Sprintf("%.0f m", km*1000)
	default:
		return fmt.Sprintf("%.1f km", km)
	}
}
