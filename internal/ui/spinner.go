package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// SpinnerState represents the current state of a spinner.
type SpinnerState int

const (
	SpinnerPending SpinnerState = iota
	SpinnerInProgress
	SpinnerSuccess
	SpinnerFailed
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Spinner shows an animated line while a collection runs.
type Spinner struct {
	mu           sync.Mutex
	w            io.Writer
	label        string
	state        SpinnerState
	frame        int
	startTime    time.Time
	stopChan     chan struct{}
	doneChan     chan struct{}
	running      bool
	lastRendered string
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, label string) *Spinner {
	return &Spinner{w: w, label: label, state: SpinnerPending}
}

// Start begins the animation. Calling it twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.state = SpinnerInProgress
	s.startTime = time.Now()
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	s.render()
	go s.animate()
}

// Stop halts the animation without changing state.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	<-s.doneChan
}

// Success stops the spinner and prints the final line with a checkmark.
func (s *Spinner) Success(detail string) { s.finish(SpinnerSuccess, detail) }

// Fail stops the spinner and prints the final line with a cross.
func (s *Spinner) Fail(detail string) { s.finish(SpinnerFailed, detail) }

// State returns the current spinner state.
func (s *Spinner) State() SpinnerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Spinner) finish(state SpinnerState, detail string) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state

	symbol := Style(ColorSuccess).Render(SymbolSuccess)
	if state == SpinnerFailed {
		symbol = Style(ColorError).Render(SymbolFail)
	}
	s.clearLocked()
	line := fmt.Sprintf("%s %s", symbol, s.label)
	if detail != "" {
		line += " " + detail
	}
	if !s.startTime.IsZero() {
		line += " " + Style(ColorMuted).Render(FormatDuration(time.Since(s.startTime)))
	}
	fmt.Fprintln(s.w, line)
}

func (s *Spinner) animate() {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	defer close(s.doneChan)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.frame = (s.frame + 1) % len(spinnerFrames)
			s.mu.Unlock()
			s.render()
		}
	}
}

func (s *Spinner) render() {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("\r%s %s...", Style(ColorInfo).Render(spinnerFrames[s.frame]), s.label)
	s.clearLocked()
	fmt.Fprint(s.w, line)
	s.lastRendered = line
}

func (s *Spinner) clearLocked() {
	if s.lastRendered == "" {
		return
	}
	fmt.Fprint(s.w, "\r"+strings.Repeat(" ", len([]rune(s.lastRendered)))+"\r")
	s.lastRendered = ""
}

// FormatDuration formats a duration for display (e.g., "0.3s", "1.2s").
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0.1 {
		return fmt.Sprintf("%.2fs", secs)
	}
	return fmt.Sprintf("%.1fs", secs)
}
