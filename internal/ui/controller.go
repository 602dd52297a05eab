package ui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"signupboard/internal/activities"
	appLog "signupboard/internal/log"
	"signupboard/internal/model"
	"signupboard/internal/schedule"
)

// Service is the Activity Service as seen by the controller.
// *activities.Client satisfies it.
type Service interface {
	ListActivities(ctx context.Context) ([]model.Activity, error)
	Signup(ctx context.Context, activity, email string) (string, error)
	Unregister(ctx context.Context, activity, email string) (string, error)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}

// Answer is a Confirmer with a fixed reply, for callers that collected the
// user's decision before invoking the controller.
type Answer bool

func (a Answer) Confirm(context.Context, string) bool {
	return bool(a)
}

// ConfirmPrompt is the question asked before removing a participant.
func ConfirmPrompt(activity, email string) string {
	return fmt.Sprintf("Are you sure you want to remove %s from %s?", email, activity)
}

// Delays are the message-area hide delays.
type Delays struct {
	Signup            time.Duration
	UnregisterSuccess time.Duration
	UnregisterError   time.Duration
}

// DefaultDelays returns 5s for signup outcomes, 3s for a successful removal
// and 5s for a failed one.
func DefaultDelays() Delays {
	return Delays{
		Signup:            5 * time.Second,
		UnregisterSuccess: 3 * time.Second,
		UnregisterError:   5 * time.Second,
	}
}

// Controller runs the board's operations against its Page.
type Controller struct {
	svc    Service
	page   *Page
	clock  clock.Clock
	delays Delays
	loc    *time.Location

	initOnce sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithDelays overrides the message hide delays. Zero fields keep defaults.
func WithDelays(d Delays) Option {
	return func(c *Controller) {
		if d.Signup > 0 {
			c.delays.Signup = d.Signup
		}
		if d.UnregisterSuccess > 0 {
			c.delays.UnregisterSuccess = d.UnregisterSuccess
		}
		if d.UnregisterError > 0 {
			c.delays.UnregisterError = d.UnregisterError
		}
	}
}

// WithLocation sets the zone used to compute each card's next session.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New creates a Controller with an empty page in the loading state.
func New(svc Service, opts ...Option) *Controller {
	c := &Controller{
		svc:    svc,
		clock:  clock.New(),
		delays: DefaultDelays(),
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.page = newPage(c.clock)
	return c
}

// View returns a snapshot of the page.
func (c *Controller) View() View {
	return c.page.Snapshot()
}

// Initialize performs the first load. Later calls do nothing.
func (c *Controller) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		appLog.Info("board initializing")
		// Failure is already rendered and logged by LoadActivities.
		_ = c.LoadActivities(ctx)
	})
}

// LoadActivities re-fetches the whole collection and replaces the list and
// options. On failure the list shows LoadFailedText, options stay empty, and
// the error is logged and returned. A response overtaken by a newer load is
// dropped.
func (c *Controller) LoadActivities(ctx context.Context) (err error) {
	token := c.page.beginLoad()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load activities: unexpected fault: %v", r)
			appLog.Error("error fetching activities", err)
			c.page.failLoad(token)
		}
	}()

	list, err := c.svc.ListActivities(ctx)
	if err != nil {
		if c.page.failLoad(token) {
			appLog.Error("error fetching activities", err)
		} else {
			appLog.Debug("stale activity load dropped", "token", token)
		}
		return err
	}

	now := c.clock.Now()
	cards := make([]Card, 0, len(list))
	for _, a := range list {
		cards = append(cards, c.buildCard(a, now))
	}

	if !c.page.finishLoad(token, cards) {
		appLog.Debug("stale activity load dropped", "token", token)
		return nil
	}
	appLog.Info("activities loaded", "count", len(cards))
	return nil
}

func (c *Controller) buildCard(a model.Activity, now time.Time) Card {
	card := Card{
		Name:         a.Name,
		Description:  a.Description,
		Schedule:     a.Schedule,
		SpotsLeft:    a.SpotsLeft(),
		Participants: slices.Clone(a.Participants),
	}
	if rec, err := schedule.Parse(a.Schedule); err == nil {
		if s, ok := rec.Next(now, c.loc); ok {
			card.NextSession = s.Start
		}
	}
	return card
}

// SubmitSignup validates the form the way its controls would, sends the
// signup, and reports the outcome in the message area for Delays.Signup.
// On success the form is reset and the list reloaded.
func (c *Controller) SubmitSignup(ctx context.Context, form SignupForm) {
	defer c.recoverAs("signup", SignupFailedText, c.delays.Signup)

	form = form.normalize()
	c.page.setForm(form)

	if hint := c.page.check(form); hint != "" {
		c.page.showMessage(MessageError, hint, c.delays.Signup)
		return
	}

	message, err := c.svc.Signup(ctx, form.Activity, form.Email)
	if err != nil {
		appLog.Error("error signing up", err, "activity", form.Activity)
		c.page.showMessage(MessageError, signupErrorText(err), c.delays.Signup)
		return
	}

	c.page.showMessage(MessageSuccess, message, c.delays.Signup)
	c.page.resetForm()
	c.refreshAfterMutation(ctx)
}

func signupErrorText(err error) string {
	if detail, ok := activities.DetailOf(err); ok {
		return detail
	}
	if activities.IsNetwork(err) {
		return SignupFailedText
	}
	var se *activities.ServiceError
	if errors.As(err, &se) {
		return SignupFallbackText
	}
	return SignupFailedText
}

// UnregisterParticipant asks confirm first; a declined confirmation sends
// nothing and changes nothing. Any failure shows UnregisterFailedText.
func (c *Controller) UnregisterParticipant(ctx context.Context, activity, email string, confirm Confirmer) {
	defer c.recoverAs("unregister", UnregisterFailedText, c.delays.UnregisterError)

	if confirm == nil || !confirm.Confirm(ctx, ConfirmPrompt(activity, email)) {
		appLog.Debug("unregister declined", "activity", activity)
		return
	}

	message, err := c.svc.Unregister(ctx, activity, email)
	if err != nil {
		appLog.Error("error unregistering participant", err, "activity", activity)
		c.page.showMessage(MessageError, UnregisterFailedText, c.delays.UnregisterError)
		return
	}

	c.page.showMessage(MessageSuccess, message, c.delays.UnregisterSuccess)
	c.refreshAfterMutation(ctx)
}

// refreshAfterMutation reloads the list; a failure here must not mask the
// mutation that already succeeded.
func (c *Controller) refreshAfterMutation(ctx context.Context) {
	if err := c.LoadActivities(ctx); err != nil {
		appLog.Warn("failed to refresh activities list", err)
	}
}

// recoverAs turns a panic inside an operation into its generic failure
// message. It must be deferred directly.
func (c *Controller) recoverAs(op, text string, delay time.Duration) {
	if r := recover(); r != nil {
		appLog.Error("unexpected fault", fmt.Errorf("%v", r), "op", op)
		c.page.showMessage(MessageError, text, delay)
	}
}
