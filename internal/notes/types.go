package notes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrValidation marks input the caller can correct (missing note text, unknown note type).
	ErrValidation = errors.New("invalid running note")
	// ErrNotFound marks a parent entity or linkage row that does not exist.
	ErrNotFound = errors.New("not found")
)

// NoteType identifies the kind of entity a running note was filed against.
type NoteType string

const (
	TypeProject     NoteType = "project"
	TypeFlowcell    NoteType = "flowcell"
	TypeWorkset     NoteType = "workset"
	TypeFlowcellONT NoteType = "flowcell_ont"
)

// ParseNoteType accepts only the four known note types.
func ParseNoteType(s string) (NoteType, error) {
	switch t := NoteType(s); t {
	case TypeProject, TypeFlowcell, TypeWorkset, TypeFlowcellONT:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown note type %q", ErrValidation, s)
	}
}

// propagates reports whether notes of this type are copied onto each linked project.
func (t NoteType) propagates() bool {
	switch t {
	case TypeFlowcell, TypeWorkset, TypeFlowcellONT:
		return true
	default:
		return false
	}
}

// pagePath is the dashboard path segment listing entities of this type.
func (t NoteType) pagePath() string {
	switch t {
	case TypeFlowcell:
		return "flowcells"
	case TypeWorkset:
		return "worksets"
	case TypeFlowcellONT:
		return "flowcells_ont"
	default:
		return "project"
	}
}

// label is the human word used in propagated note headers ("flowcell_ont" reads as "flowcell").
func (t NoteType) label() string {
	head, _, _ := strings.Cut(string(t), "_")
	return head
}

// RunningNote is a single note document as persisted in the running notes store.
type RunningNote struct {
	ID           string   `bson:"_id" json:"_id"`
	User         string   `bson:"user" json:"user"`
	Email        string   `bson:"email" json:"email"`
	Note         string   `bson:"note" json:"note"`
	Categories   []string `bson:"categories" json:"categories"`
	Projects     []string `bson:"projects" json:"projects"`
	Parent       string   `bson:"parent" json:"parent"`
	NoteType     NoteType `bson:"note_type" json:"note_type"`
	CreatedAtUTC string   `bson:"created_at_utc" json:"created_at_utc"`
	UpdatedAtUTC string   `bson:"updated_at_utc" json:"updated_at_utc"`
}

// IsSticky reports whether the note carries the Sticky category.
func (n *RunningNote) IsSticky() bool {
	for _, c := range n.Categories {
		if strings.EqualFold(c, StickyCategory) {
			return true
		}
	}
	return false
}

// StickyCategory flags a note for prominent display.
const StickyCategory = "Sticky"

// NoteContents is the subset of a note returned by the list endpoints.
type NoteContents struct {
	User         string   `json:"user"`
	Email        string   `json:"email"`
	Note         string   `json:"note"`
	Categories   []string `json:"categories"`
	CreatedAtUTC string   `json:"created_at_utc"`
	UpdatedAtUTC string   `json:"updated_at_utc"`
}

func (n *RunningNote) contents() NoteContents {
	return NoteContents{
		User:         n.User,
		Email:        n.Email,
		Note:         n.Note,
		Categories:   n.Categories,
		CreatedAtUTC: n.CreatedAtUTC,
		UpdatedAtUTC: n.UpdatedAtUTC,
	}
}

// Author is the authenticated user filing a note.
type Author struct {
	Name  string
	Email string
}

// CreateNoteInput is the body of a note creation request.
type CreateNoteInput struct {
	Note       string   `json:"note"`
	Categories []string `json:"categories"`
	NoteType   string   `json:"note_type"`
}

// Project is the subset of a project record needed to file and announce notes.
type Project struct {
	ID          string
	Name        string
	Coordinator string
}

// noteID formats {parent}:{unix seconds with microsecond fraction}.
func noteID(parent string, t time.Time) string {
	secs := float64(t.UnixMicro()) / 1e6
	return parent + ":" + strconv.FormatFloat(secs, 'f', -1, 64)
}

// formatUTC renders a timestamp the way it is stored in created_at_utc.
func formatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000-07:00")
}
