package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows progress for a long operation on the error stream. Off-TTY
// it degrades to a single message line so piped output stays clean.
type Spinner struct {
	out    io.Writer
	term   *termenv.Output
	styles *Styles
	msg    string
	isTTY  bool

	mu      sync.Mutex
	active  bool
	stopped chan struct{}
	done    chan struct{}
}

// NewSpinner creates a spinner bound to the renderer's error stream.
func (r *Renderer) NewSpinner(msg string) *Spinner {
	return &Spinner{
		out:    r.errOut,
		term:   termenv.NewOutput(r.errOut),
		styles: r.styles,
		msg:    msg,
		isTTY:  r.isTTY,
	}
}

// Start begins animating. Off-TTY it prints the message once instead.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	if !s.isTTY {
		_, _ = fmt.Fprintln(s.out, s.msg)
		return
	}
	s.stopped = make(chan struct{})
	s.done = make(chan struct{})
	go s.spin()
}

func (s *Spinner) spin() {
	defer close(s.done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-s.stopped:
			_, _ = fmt.Fprint(s.out, "\r")
			s.term.ClearLine()
			return
		case <-ticker.C:
			frame := s.styles.Info.Render(spinnerFrames[i%len(spinnerFrames)])
			_, _ = fmt.Fprintf(s.out, "\r%s %s", frame, s.msg)
		}
	}
}

// Stop halts the animation without printing a final line.
func (s *Spinner) Stop() {
	s.finish("", nil)
}

// Success stops the spinner and prints a confirmation line.
func (s *Spinner) Success(msg string) {
	s.finish(msg, &s.styles.StatusSuccess)
}

// Fail stops the spinner and prints a failure line.
func (s *Spinner) Fail(msg string) {
	s.finish(msg, &s.styles.StatusFailed)
}

func (s *Spinner) finish(msg string, icon *lipgloss.Style) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	if s.isTTY {
		close(s.stopped)
		<-s.done
	}
	s.mu.Unlock()

	if msg == "" {
		return
	}
	if icon != nil {
		_, _ = fmt.Fprintln(s.out, icon.String()+" "+msg)
		return
	}
	_, _ = fmt.Fprintln(s.out, msg)
}
