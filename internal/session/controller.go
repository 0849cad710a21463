// Package session implements the client-side quiz session as an explicit
// state machine: Idle -> Active -> Grading -> Finished.
//
// The controller is cooperative and single-threaded; the embedding client
// (a browser event loop or a test) serializes calls, so there is no internal
// locking. The countdown is advisory only, the server re-checks the ticket
// deadline at submission time.
package session

import (
	"errors"
	"time"
)

type State string

const (
	StateIdle     State = "Idle"
	StateActive   State = "Active"
	StateGrading  State = "Grading"
	StateFinished State = "Finished"
)

type Mode string

const (
	// ModeExam runs the countdown and force-submits on expiry.
	ModeExam Mode = "exam"
	// ModePractice has no timeout and allows revealing explanations.
	ModePractice Mode = "practice"
)

var (
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrUnknownQuestion   = errors.New("question is not part of this session")
	ErrNoSubmission      = errors.New("no submission is pending")
)

// Snapshot is the client-safe slice of a quiz the controller needs: no
// texts, no correctness, just identity, deadline material and question order.
type Snapshot struct {
	QuizID      uint
	Duration    time.Duration
	QuestionIDs []uint
}

// Answer is one (question, option) selection as sent to the server.
type Answer struct {
	QuestionID uint `json:"question_id"`
	OptionID   uint `json:"option_id"`
}

// Submission is the payload handed to the transport once grading begins.
type Submission struct {
	Ticket  string   `json:"ticket"`
	QuizID  uint     `json:"quiz_id"`
	Answers []Answer `json:"answers"`
}

// Controller drives one quiz session.
type Controller struct {
	mode  Mode
	state State

	ticket    string
	quiz      Snapshot
	questions map[uint]int // question id -> position

	index      int
	selections map[uint]uint // question id -> selected option, last write wins
	revealed   map[uint]bool // practice mode: explanations shown
	remaining  time.Duration
	tickEvery  time.Duration

	pending *Submission
}

func NewController(mode Mode) *Controller {
	return &Controller{
		mode:      mode,
		state:     StateIdle,
		tickEvery: time.Second,
	}
}

func (c *Controller) State() State             { return c.state }
func (c *Controller) Mode() Mode               { return c.mode }
func (c *Controller) Remaining() time.Duration { return c.remaining }
func (c *Controller) CurrentIndex() int        { return c.index }

// Start begins a session from a quiz view and its ticket.
func (c *Controller) Start(quiz Snapshot, ticket string) error {
	if c.state != StateIdle {
		return ErrInvalidTransition
	}
	c.quiz = quiz
	c.ticket = ticket
	c.questions = make(map[uint]int, len(quiz.QuestionIDs))
	for i, id := range quiz.QuestionIDs {
		c.questions[id] = i
	}
	c.index = 0
	c.selections = make(map[uint]uint)
	c.revealed = make(map[uint]bool)
	c.remaining = quiz.Duration
	c.state = StateActive
	return nil
}

// SelectOption records an answer. Re-selecting overwrites the previous
// choice for that question. Selections are frozen once grading begins.
func (c *Controller) SelectOption(questionID, optionID uint) error {
	if c.state != StateActive {
		return ErrInvalidTransition
	}
	if _, ok := c.questions[questionID]; !ok {
		return ErrUnknownQuestion
	}
	c.selections[questionID] = optionID
	return nil
}

// Selection returns the current choice for a question, if any.
func (c *Controller) Selection(questionID uint) (uint, bool) {
	optionID, ok := c.selections[questionID]
	return optionID, ok
}

// Next advances the question cursor, clamped to the last question.
func (c *Controller) Next() {
	if c.state != StateActive {
		return
	}
	if c.index < len(c.quiz.QuestionIDs)-1 {
		c.index++
	}
}

// Prev moves the question cursor back, clamped to zero.
func (c *Controller) Prev() {
	if c.state != StateActive {
		return
	}
	if c.index > 0 {
		c.index--
	}
}

// Tick advances the countdown by one period. In exam mode reaching zero
// forces grading with an implicit submit; the returned submission is
// non-nil exactly when that happened. Practice mode never times out.
func (c *Controller) Tick() *Submission {
	if c.state != StateActive || c.mode != ModeExam {
		return nil
	}
	c.remaining -= c.tickEvery
	if c.remaining > 0 {
		return nil
	}
	c.remaining = 0
	return c.beginGrading()
}

// CheckAnswer reveals the explanation for a question in practice mode
// without submitting anything.
func (c *Controller) CheckAnswer(questionID uint) error {
	if c.state != StateActive || c.mode != ModePractice {
		return ErrInvalidTransition
	}
	if _, ok := c.questions[questionID]; !ok {
		return ErrUnknownQuestion
	}
	c.revealed[questionID] = true
	return nil
}

// Revealed reports whether a question's explanation has been shown.
func (c *Controller) Revealed(questionID uint) bool {
	return c.revealed[questionID]
}

// Finish submits explicitly, moving to Grading.
func (c *Controller) Finish() (*Submission, error) {
	if c.state != StateActive {
		return nil, ErrInvalidTransition
	}
	return c.beginGrading(), nil
}

// Quit abandons the session without submitting. No attempt is created and
// no network call is made.
func (c *Controller) Quit() error {
	if c.state != StateActive {
		return ErrInvalidTransition
	}
	c.state = StateFinished
	c.pending = nil
	return nil
}

// PendingSubmission returns the submission to (re)send while grading.
func (c *Controller) PendingSubmission() (*Submission, error) {
	if c.state != StateGrading || c.pending == nil {
		return nil, ErrNoSubmission
	}
	return c.pending, nil
}

// SubmitSucceeded records the server's acceptance and finishes the session.
func (c *Controller) SubmitSucceeded() error {
	if c.state != StateGrading {
		return ErrInvalidTransition
	}
	c.state = StateFinished
	c.pending = nil
	return nil
}

// SubmitFailed keeps the session in Grading so the same submission can be
// retried; the session is not silently lost.
func (c *Controller) SubmitFailed() error {
	if c.state != StateGrading {
		return ErrInvalidTransition
	}
	return nil
}

// Abort gives up on a failed submission and finishes without a result.
func (c *Controller) Abort() error {
	if c.state != StateGrading {
		return ErrInvalidTransition
	}
	c.state = StateFinished
	c.pending = nil
	return nil
}

func (c *Controller) beginGrading() *Submission {
	answers := make([]Answer, 0, len(c.selections))
	for _, id := range c.quiz.QuestionIDs {
		if optionID, ok := c.selections[id]; ok {
			answers = append(answers, Answer{QuestionID: id, OptionID: optionID})
		}
	}
	c.pending = &Submission{
		Ticket:  c.ticket,
		QuizID:  c.quiz.QuizID,
		Answers: answers,
	}
	c.state = StateGrading
	return c.pending
}
