package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers = 4
	defaultTimeout = 20 * time.Second
)

// Dispatcher sends notifications for running notes. It never returns errors to its caller:
// every failure is logged, recorded and contained to the recipient it concerns.
type Dispatcher struct {
	dir      Directory
	slack    Messenger
	mail     Mailer
	recorder Recorder
	log      *slog.Logger
	md       goldmark.Markdown
	baseURL  string
	workers  int
	timeout  time.Duration
	now      func() time.Time

	inflight sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder logs each delivery attempt.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithWorkers bounds how many recipients of one request are handled at once.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithTimeout bounds each external call (directory lookup, Slack, SMTP).
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithBaseURL sets the dashboard root used in deep links.
func WithBaseURL(u string) Option {
	return func(d *Dispatcher) { d.baseURL = u }
}

// NewDispatcher creates a dispatcher. slack may be nil, in which case every Slack
// delivery falls back to e-mail.
func NewDispatcher(dir Directory, slack Messenger, mail Mailer, log *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		dir:     dir,
		slack:   slack,
		mail:    mail,
		log:     log,
		md:      goldmark.New(),
		workers: defaultWorkers,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify dispatches req in the background. The work is detached from ctx cancellation so a
// finished HTTP request does not abort its notifications.
func (d *Dispatcher) Notify(ctx context.Context, req Request) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.Dispatch(context.WithoutCancel(ctx), req)
	}()
}

// Wait blocks until every background dispatch has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Dispatch notifies every distinct handle in req and returns when all are done.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) {
	var g errgroup.Group
	g.SetLimit(d.workers)

	seen := make(map[string]bool, len(req.Handles))
	for _, handle := range req.Handles {
		if handle == "" || seen[handle] {
			continue
		}
		seen[handle] = true
		g.Go(func() error {
			d.deliver(ctx, req, handle)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, req Request, handle string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification panicked", "handle", handle, "panic", r)
		}
	}()

	log := d.log.With("handle", handle, "project_id", req.ProjectID, "reason", req.Reason.String())

	recipient, err := d.lookup(ctx, handle)
	if err != nil {
		log.Warn("failed to resolve user", "error", err)
		return
	}
	if recipient == nil {
		// Mentions of people who are not dashboard users are ordinary text.
		log.Debug("skipping unknown handle")
		return
	}

	pref := recipient.Preference
	if pref == "" {
		pref = PreferBoth
	}

	msg := newMessage(d.baseURL, req)
	sendEmail := pref.wantsEmail()

	if pref.wantsSlack() {
		err := d.sendSlack(ctx, recipient.Email, msg)
		d.record(ctx, req, recipient, ChannelSlack, err)
		if err != nil {
			log.Warn("slack notification failed, falling back to email", "error", err)
			sendEmail = true
		}
	}

	if sendEmail {
		err := d.sendEmail(ctx, recipient.Email, msg)
		d.record(ctx, req, recipient, ChannelEmail, err)
		if err != nil {
			log.Warn("email notification failed", "error", err)
		}
	}
}

func (d *Dispatcher) lookup(ctx context.Context, handle string) (*Recipient, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	r, err := d.dir.Lookup(ctx, handle)
	if err != nil {
		return nil, errors.Wrap(err, "unable to look up user")
	}
	return r, nil
}

func (d *Dispatcher) sendSlack(ctx context.Context, email string, msg message) error {
	if d.slack == nil {
		return errors.New("slack is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return errors.Wrap(d.slack.SendDirect(ctx, email, msg.slack()), "unable to send slack message")
}

func (d *Dispatcher) sendEmail(ctx context.Context, to string, msg message) error {
	wrapMsg := "unable to send email"
	if d.mail == nil {
		return errors.New("mail is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	email, err := msg.email(ctx, d.md, to)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return errors.Wrap(d.mail.Send(ctx, email), wrapMsg)
}

func (d *Dispatcher) record(ctx context.Context, req Request, r *Recipient, ch Channel, sendErr error) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.recorder.Record(ctx, Delivery{
		Handle:    r.Handle,
		Email:     r.Email,
		Channel:   ch,
		Reason:    req.Reason,
		ProjectID: req.ProjectID,
		Anchor:    Anchor(req.ProjectID, req.CreatedAt),
		Err:       sendErr,
		At:        d.now(),
	})
	if err != nil {
		d.log.Warn("failed to record notification delivery", "handle", r.Handle, "error", err)
	}
}
