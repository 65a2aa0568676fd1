package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"runningnotes/views/emails"
	"runningnotes/views/models"
)

const timeLayout = "Mon Jan 02 2006, 03:04:05 PM"

// message holds the pieces shared by the Slack and e-mail renderings of a request.
type message struct {
	req      Request
	link     string
	when     string
	category string
}

func newMessage(baseURL string, req Request) message {
	category := ""
	if len(req.Categories) > 0 {
		category = " - " + strings.Join(req.Categories, ", ")
	}
	return message{
		req:      req,
		link:     fmt.Sprintf("%s/project/%s#%s", baseURL, req.ProjectID, Anchor(req.ProjectID, req.CreatedAt)),
		when:     req.CreatedAt.Local().Format(timeLayout),
		category: category,
	}
}

func (m message) projectLabel() string {
	return m.req.ProjectID + ", " + m.req.ProjectName
}

func (m message) slack() SlackMessage {
	var action, intro string
	switch m.req.Reason {
	case ReasonCreation:
		action = "created note"
		intro = fmt.Sprintf("Running note created by *%s*", m.req.Author)
	default:
		action = "tagged you"
		intro = fmt.Sprintf("You have been tagged by *%s* in a running note", m.req.Author)
	}

	return SlackMessage{
		Text: fmt.Sprintf("%s has %s in %s!", m.req.Author, action, m.projectLabel()),
		Sections: []string{
			fmt.Sprintf("_%s for the project_ <%s|%s>! :smile: \n_The note is as follows:_ \n\n\n",
				intro, m.link, m.projectLabel()),
			fmt.Sprintf(">*%s - %s%s*\n>%s\n\n\n\n _(Please do not respond to this message here in Slack."+
				" It will only be seen by you.)_",
				m.req.Author, m.when, m.category, strings.ReplaceAll(m.req.Note, "\n", "\n>")),
		},
	}
}

func (m message) emailIntro() string {
	if m.req.Reason == ReasonCreation {
		return "Running note created by " + m.req.Author
	}
	return fmt.Sprintf("You have been tagged by %s in a running note", m.req.Author)
}

func (m message) email(ctx context.Context, md goldmark.Markdown, to string) (Email, error) {
	var rendered bytes.Buffer
	if err := md.Convert([]byte(m.req.Note), &rendered); err != nil {
		return Email{}, fmt.Errorf("render note markdown: %w", err)
	}

	var html bytes.Buffer
	body := emails.RunningNote(models.NoteEmail{
		Intro:    m.emailIntro(),
		Link:     m.link,
		Project:  m.projectLabel(),
		Author:   m.req.Author,
		When:     m.when,
		Category: m.category,
		NoteHTML: rendered.String(),
	})
	if err := body.Render(ctx, &html); err != nil {
		return Email{}, fmt.Errorf("render email body: %w", err)
	}

	text := fmt.Sprintf("%s in the project %s! The note is as follows\n>%s - %s%s\n>%s",
		m.emailIntro(), m.projectLabel(), m.req.Author, m.when, m.category, m.req.Note)

	return Email{
		To:      to,
		Subject: fmt.Sprintf("[GenStat] Running Note:%s", m.projectLabel()),
		Text:    text,
		HTML:    html.String(),
	}, nil
}
