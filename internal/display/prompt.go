package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

const keepQuestion = "keep this datafile (y/n: default y)?"

var (
	questionStyle = lipgloss.NewStyle().Bold(true)
	pathStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#575B7E"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
)

// ParseAnswer maps a reply to the keep question. ok is false for replies that
// are neither yes nor no.
func ParseAnswer(s string) (keep bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	default:
		return false, false
	}
}

// KeepModel asks whether the data file written by the run should be kept.
type KeepModel struct {
	path      string
	textInput textinput.Model
	keep      bool
	done      bool
	hint      string
}

func NewKeepModel(path string) KeepModel {
	ti := textinput.New()
	ti.Placeholder = "y"
	ti.CharLimit = 3
	ti.Width = 4
	ti.Focus()
	return KeepModel{path: path, textInput: ti, keep: true}
}

func (m KeepModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m KeepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter, tea.KeyCtrlJ:
			keep, valid := ParseAnswer(m.textInput.Value())
			if !valid {
				m.hint = fmt.Sprintf("please answer y or n, not %q", m.textInput.Value())
				m.textInput.SetValue("")
				return m, nil
			}
			m.keep = keep
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			// keep on abort
			m.keep = true
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m KeepModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(pathStyle.Render(m.path))
	b.WriteString("\n")
	b.WriteString(questionStyle.Render(keepQuestion))
	b.WriteString(" ")
	b.WriteString(m.textInput.View())
	if m.hint != "" {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render(m.hint))
	}
	b.WriteString("\n")
	return b.String()
}

func (m KeepModel) Keep() bool {
	return m.keep
}

// AskKeep asks the keep question on in/out. Terminals get the interactive
// prompt; anything else is read line by line, and end of input keeps the file.
func AskKeep(in io.Reader, out io.Writer, path string) (bool, error) {
	if isTerminal(in) && isTerminal(out) {
		final, err := tea.NewProgram(NewKeepModel(path), tea.WithInput(in), tea.WithOutput(out)).Run()
		if err != nil {
			return true, err
		}
		return final.(KeepModel).Keep(), nil
	}
	return askLines(in, out, path)
}

func askLines(in io.Reader, out io.Writer, path string) (bool, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s\n%s ", path, keepQuestion)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return true, scanner.Err()
		}
		if keep, ok := ParseAnswer(scanner.Text()); ok {
			return keep, nil
		}
		fmt.Fprintf(out, "please answer y or n\n")
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}
