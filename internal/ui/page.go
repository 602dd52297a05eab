package ui

import (
	"slices"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Texts rendered by the board.
const (
	LoadingText          = "Loading activities..."
	LoadFailedText       = "Failed to load activities. Please try again later."
	NoParticipantsText   = "No participants yet"
	SignupFallbackText   = "An error occurred"
	SignupFailedText     = "Failed to sign up. Please try again."
	UnregisterFailedText = "Failed to unregister participant. Please try again."
)

// ListState is the state of the activity list display.
type ListState int

const (
	ListLoading ListState = iota
	ListReady
	ListFailed
)

func (s ListState) String() string {
	switch s {
	case ListReady:
		return "ready"
	case ListFailed:
		return "failed"
	default:
		return "loading"
	}
}

func (s ListState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MessageKind classifies the message area.
type MessageKind int

const (
	MessageHidden MessageKind = iota
	MessageSuccess
	MessageError
)

func (k MessageKind) String() string {
	switch k {
	case MessageSuccess:
		return "success"
	case MessageError:
		return "error"
	default:
		return "hidden"
	}
}

func (k MessageKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Message is the content of the message area. The zero value is hidden.
type Message struct {
	Kind   MessageKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	HideAt time.Time   `json:"hide_at,omitzero"`
}

// Visible reports whether the area is showing anything.
func (m Message) Visible() bool {
	return m.Kind != MessageHidden
}

// Class is the style class of the message element.
func (m Message) Class() string {
	return m.Kind.String()
}

// Card is one rendered activity.
type Card struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Schedule     string    `json:"schedule"`
	SpotsLeft    int       `json:"spots_left"`
	Participants []string  `json:"participants"`
	NextSession  time.Time `json:"next_session,omitzero"`
}

// HasParticipants decides between the participant list and the
// NoParticipantsText placeholder.
func (c Card) HasParticipants() bool {
	return len(c.Participants) > 0
}

// SignupForm holds the signup form fields. The page is shared by every
// visitor, so Email is never rendered or serialized back out.
type SignupForm struct {
	Email    string `json:"-"`
	Activity string `json:"activity"`
}

// View is an immutable snapshot of the Page for rendering.
type View struct {
	List       ListState  `json:"list"`
	StatusText string     `json:"status_text,omitempty"`
	Cards      []Card     `json:"cards"`
	Options    []string   `json:"options"`
	Form       SignupForm `json:"form"`
	Message    Message    `json:"message"`
}

// Ready reports whether the list finished loading, successfully or not.
func (v View) Ready() bool {
	return v.List != ListLoading
}

// Page is the document the controller mutates: activity list, selection
// options, form fields and message area. All access goes through its
// methods.
type Page struct {
	mu    sync.Mutex
	clock clock.Clock

	list    ListState
	cards   []Card
	options []string
	form    SignupForm

	message   Message
	hideTimer *clock.Timer
	msgGen    uint64

	// loadSeq is the token of the most recently started list load.
	loadSeq uint64
}

func newPage(clk clock.Clock) *Page {
	return &Page{clock: clk, list: ListLoading}
}

// Snapshot copies the current state.
func (p *Page) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := View{
		List:    p.list,
		Cards:   make([]Card, len(p.cards)),
		Options: slices.Clone(p.options),
		Form:    p.form,
		Message: p.message,
	}
	for i, c := range p.cards {
		c.Participants = slices.Clone(c.Participants)
		v.Cards[i] = c
	}
	if v.Options == nil {
		v.Options = []string{}
	}
	switch p.list {
	case ListLoading:
		v.StatusText = LoadingText
	case ListFailed:
		v.StatusText = LoadFailedText
	}
	return v
}

// beginLoad issues a new load token and shows the loading state with the
// previous list and options cleared.
func (p *Page) beginLoad() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadSeq++
	p.list = ListLoading
	p.cards = nil
	p.options = nil
	return p.loadSeq
}

// finishLoad replaces list and options if token is still the latest one.
func (p *Page) finishLoad(token uint64, cards []Card) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token != p.loadSeq {
		return false
	}
	p.list = ListReady
	p.cards = cards
	p.options = make([]string, 0, len(cards))
	for _, c := range cards {
		p.options = append(p.options, c.Name)
	}
	return true
}

// failLoad shows the failure text and leaves options empty if token is
// still the latest one.
func (p *Page) failLoad(token uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token != p.loadSeq {
		return false
	}
	p.list = ListFailed
	p.cards = nil
	p.options = nil
	return true
}

func (p *Page) hasOption(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.options, name)
}

func (p *Page) setForm(f SignupForm) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.form = f
}

func (p *Page) resetForm() {
	p.setForm(SignupForm{})
}

// showMessage sets text and class together, then replaces any pending hide
// timer with one for this message's own delay.
func (p *Page) showMessage(kind MessageKind, text string, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hideTimer != nil {
		p.hideTimer.Stop()
	}
	p.msgGen++
	gen := p.msgGen

	p.message = Message{
		Kind:   kind,
		Text:   text,
		HideAt: p.clock.Now().Add(delay),
	}
	p.hideTimer = p.clock.AfterFunc(delay, func() {
		p.hideMessage(gen)
	})
}

// hideMessage clears the area unless a newer message replaced it while the
// timer was firing.
func (p *Page) hideMessage(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.msgGen {
		return
	}
	p.message = Message{}
	p.hideTimer = nil
}
