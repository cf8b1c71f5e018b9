// Package logsink collects the human-readable log of a single commission run.
//
// A Sink is an ordered, append-only sequence of lines bounded by a byte budget. Once the budget
// is exceeded the oldest lines after the head are evicted, and Render reports how many
// characters went missing with a single marker, so both the start-up context and the final
// outcome of a run survive.
package logsink

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

type StepFunc func(pct float64, msg string)

type Sink struct {
	mu        sync.Mutex
	budget    int
	headShare float64
	head      []string
	headBytes int
	tail      []string
	tailBytes int
	dropped   int
	total     int
	log       zerolog.Logger
	onStep    StepFunc
}

func New(budget int, headShare float64, log zerolog.Logger) *Sink {
	if budget <= 0 {
		budget = 1 << 20
	}
	return &Sink{budget: budget, headShare: headShare, log: log}
}

// Discard returns a sink that keeps lines but forwards nothing.
func Discard(budget int) *Sink {
	return New(budget, 0.1, zerolog.Nop())
}

// OnStep registers a progress observer. Only the last registration is kept.
func (s *Sink) OnStep(fn StepFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStep = fn
}

func (s *Sink) Printf(format string, args ...any) {
	s.append(fmt.Sprintf(format, args...))
}

// Step records a progress marker parsed by the front end: "[STEP:42%] message".
func (s *Sink) Step(pct float64, msg string) {
	if s == nil {
		return
	}
	s.append(fmt.Sprintf("[STEP:%g%%] %s", pct, msg))
	s.mu.Lock()
	fn := s.onStep
	s.mu.Unlock()
	if fn != nil {
		fn(pct, msg)
	}
}

func (s *Sink) append(line string) {
	if s == nil {
		return
	}
	s.log.Debug().Msg(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	size := len(line) + 1
	if len(s.tail) == 0 && s.dropped == 0 && float64(s.headBytes+size) <= float64(s.budget)*s.headShare {
		s.head = append(s.head, line)
		s.headBytes += size
		return
	}
	s.tail = append(s.tail, line)
	s.tailBytes += size
	for s.headBytes+s.tailBytes > s.budget && len(s.tail) > 1 {
		evicted := s.tail[0]
		s.tail[0] = ""
		s.tail = s.tail[1:]
		s.tailBytes -= len(evicted) + 1
		s.dropped += utf8.RuneCountInString(evicted) + 1
	}
}

// Lines reports how many lines were appended, evicted ones included.
func (s *Sink) Lines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Render joins the retained lines and caps the result at budget bytes.
func (s *Sink) Render(budget int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	headText := strings.Join(s.head, "\n")
	tailText := strings.Join(s.tail, "\n")
	switch {
	case len(s.head) == 0:
		return elide(tailText, 0, s.dropped, budget, s.headShare)
	case len(s.tail) == 0:
		return elide(headText, len(headText), s.dropped, budget, s.headShare)
	}
	joined := headText + "\n" + tailText
	return elide(joined, len(headText)+1, s.dropped, budget, s.headShare)
}
