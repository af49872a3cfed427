package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// List styles
var listDimStyle = lipgloss.NewStyle().Foreground(colorDim)

// =============================================================================
// KeyListModel - Interactive cache browser
// =============================================================================

// CacheEntry summarizes one cached document.
type CacheEntry struct {
	Key          string
	StickyStatus int // HTTP status of a remembered denial, 0 for payloads
	Size         int
	LastModified time.Time
	Corrupt      bool
}

// Status describes the entry for the "Entry" column.
func (e CacheEntry) Status() string {
	switch {
	case e.Corrupt:
		return "corrupt"
	case e.StickyStatus != 0:
		return "sticky " + strconv.Itoa(e.StickyStatus)
	default:
		return "payload"
	}
}

// KeyListModel is the bubbletea model for browsing cached documents.
type KeyListModel struct {
	Entries  []CacheEntry
	Cursor   int
	Selected *CacheEntry
	Height   int
	Offset   int
}

// NewKeyListModel creates a new key list model.
func NewKeyListModel(entries []CacheEntry) KeyListModel {
	return KeyListModel{
		Entries: entries,
		Height:  15,
	}
}

func (m KeyListModel) Init() tea.Cmd {
	return nil
}

func (m KeyListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Entries)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "enter":
			if len(m.Entries) == 0 || m.Entries[m.Cursor].Corrupt {
				return m, nil
			}
			e := m.Entries[m.Cursor]
			m.Selected = &e
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 6
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m KeyListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Cached Documents"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ print payload  q quit"))
	b.WriteString("\n\n")

	end := m.Offset + m.Height
	if end > len(m.Entries) {
		end = len(m.Entries)
	}

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		e := m.Entries[i]

		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}

		size, modified := "—", "—"
		if e.StickyStatus == 0 && !e.Corrupt {
			size = formatSize(e.Size)
		}
		if !e.LastModified.IsZero() {
			modified = formatRelativeTime(e.LastModified)
		}
		rows = append(rows, []string{cursor, e.Key, e.Status(), size, modified})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Key", "Entry", "Size", "Modified").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}

			idx := m.Offset + row
			if idx >= len(m.Entries) {
				return lipgloss.NewStyle()
			}
			e := m.Entries[idx]

			base := lipgloss.NewStyle()
			if idx == m.Cursor {
				base = base.Bold(true)
			}
			switch {
			case e.Corrupt:
				return base.Foreground(colorDim)
			case e.StickyStatus != 0 && col == 2:
				return base.Foreground(colorRed)
			case col == 3 || col == 4:
				return base.Foreground(colorGray)
			case idx == m.Cursor:
				return base.Foreground(colorCyan)
			}
			return base
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Entries))))

	return b.String()
}

// =============================================================================
// Helpers
// =============================================================================

func formatSize(n int) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	}
}

func formatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
