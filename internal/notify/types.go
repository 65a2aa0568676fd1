// Package notify delivers running-note notifications to tagged users and project
// coordinators over Slack direct messages and e-mail.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Reason says why a user is being notified about a note.
type Reason int

const (
	// ReasonUserTag is used when the user was @-mentioned in the note.
	ReasonUserTag Reason = iota
	// ReasonCreation is used when a coordinator is told about a new note on their project.
	ReasonCreation
)

func (r Reason) String() string {
	switch r {
	case ReasonUserTag:
		return "userTag"
	case ReasonCreation:
		return "creation"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Preference is a user's chosen notification channel.
type Preference string

const (
	PreferSlack Preference = "Slack"
	PreferEmail Preference = "E-mail"
	PreferBoth  Preference = "Both"
)

func (p Preference) wantsSlack() bool { return p == PreferSlack || p == PreferBoth }
func (p Preference) wantsEmail() bool { return p == PreferEmail || p == PreferBoth }

// Channel is a delivery mechanism.
type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelEmail Channel = "email"
)

// Request describes one note to announce to a set of users.
type Request struct {
	Handles     []string
	ProjectID   string
	ProjectName string
	Note        string
	Categories  []string
	Author      string
	CreatedAt   time.Time
	Reason      Reason
}

// Recipient is a resolved user.
type Recipient struct {
	Handle     string
	Email      string
	Preference Preference
}

// Directory resolves user handles. Lookup returns nil, nil for handles that are not users.
type Directory interface {
	Lookup(ctx context.Context, handle string) (*Recipient, error)
}

// SlackMessage is a direct message: a plain-text fallback and mrkdwn sections.
type SlackMessage struct {
	Text     string
	Sections []string
}

// Messenger sends Slack direct messages to the user owning an e-mail address.
type Messenger interface {
	SendDirect(ctx context.Context, email string, msg SlackMessage) error
}

// Email is a multipart message with plain text and HTML alternatives.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer submits e-mail.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// Delivery is the outcome of a single attempt to reach a recipient.
type Delivery struct {
	Handle    string
	Email     string
	Channel   Channel
	Reason    Reason
	ProjectID string
	Anchor    string
	Err       error
	At        time.Time
}

// Recorder keeps a log of delivery attempts.
type Recorder interface {
	Record(ctx context.Context, d Delivery) error
}

// Anchor is the HTML id of a note on its project page: running_note_{project}_{unix seconds}.
func Anchor(projectID string, createdAt time.Time) string {
	return fmt.Sprintf("running_note_%s_%d", projectID, createdAt.Unix())
}
