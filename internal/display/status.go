package display

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pingsantohq/ag53230a/pkg/types"
)

// Status prints one live line per recorded sample. Colors are only emitted
// when the writer is a terminal.
type Status struct {
	mu    sync.Mutex
	out   io.Writer
	count uint64

	countStyle lipgloss.Style
	timeStyle  lipgloss.Style
	freqStyle  lipgloss.Style
	unitStyle  lipgloss.Style
}

func NewStatus(out io.Writer) *Status {
	r := lipgloss.NewRenderer(out)
	return &Status{
		out:        out,
		countStyle: r.NewStyle().Width(8).Align(lipgloss.Right).Foreground(lipgloss.Color("240")),
		timeStyle:  r.NewStyle().Padding(0, 1),
		freqStyle:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")),
		unitStyle:  r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

func (s *Status) Emit(sample types.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	_, err := fmt.Fprintln(s.out, s.render(s.count, sample))
	return err
}

func (s *Status) render(n uint64, sample types.Sample) string {
	return s.countStyle.Render(fmt.Sprintf("#%d", n)) +
		s.timeStyle.Render(sample.Timestamp.UTC().Format(time.RFC3339Nano)) +
		s.freqStyle.Render(sample.Frequency) +
		s.unitStyle.Render(" Hz")
}

// Banner renders a short highlighted console message such as "--> Connected".
func Banner(out io.Writer, msg string) {
	r := lipgloss.NewRenderer(out)
	fmt.Fprintln(out, r.NewStyle().Bold(true).Render("--> "+msg))
}
