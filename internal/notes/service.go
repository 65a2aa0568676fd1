package notes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuin/goldmark"

	"runningnotes/internal/notify"
)

// Store persists running notes.
type Store interface {
	Insert(ctx context.Context, n *RunningNote) error
	FindByID(ctx context.Context, id string) (*RunningNote, error)
	ListByPartition(ctx context.Context, partition string) ([]*RunningNote, error)
	LatestSticky(ctx context.Context, partition string) (*RunningNote, error)
}

// Linkage resolves the projects connected to a note's parent entity.
type Linkage interface {
	Project(ctx context.Context, id string) (*Project, error)
	ProjectIDs(ctx context.Context, parentID string, t NoteType) ([]string, error)
}

// Notifier announces notes. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, req notify.Request)
}

type Service struct {
	store    Store
	links    Linkage
	notifier Notifier
	log      *slog.Logger
	md       goldmark.Markdown
	now      func() time.Time
}

func NewService(store Store, links Linkage, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		links:    links,
		notifier: notifier,
		log:      log,
		md:       goldmark.New(),
		now:      time.Now,
	}
}

// Create files a new running note against partitionID.
//
// The note is persisted before anything else happens; notification and propagation are
// best-effort and never turn a saved note into an error. Project notes notify tagged users
// and the project coordinator. Flowcell, workset and ONT notes are copied onto each linked
// project; their tagged users are notified once, linking to the first linked project.
func (s *Service) Create(ctx context.Context, partitionID string, input CreateNoteInput, author Author) (*RunningNote, error) {
	if partitionID == "" {
		return nil, fmt.Errorf("%w: partition id is required", ErrValidation)
	}
	if input.Note == "" {
		return nil, fmt.Errorf("%w: note is required", ErrValidation)
	}
	noteType, err := ParseNoteType(input.NoteType)
	if err != nil {
		return nil, err
	}

	created := s.now().UTC()

	var (
		project  *Project
		projects []string
	)
	switch noteType {
	case TypeProject:
		project, err = s.links.Project(ctx, partitionID)
		if err != nil {
			return nil, fmt.Errorf("resolve project: %w", err)
		}
		projects = []string{partitionID, project.Name}
	case TypeFlowcell, TypeWorkset, TypeFlowcellONT:
		projects, err = s.links.ProjectIDs(ctx, partitionID, noteType)
		if err != nil {
			return nil, fmt.Errorf("resolve linked projects: %w", err)
		}
		if len(projects) == 0 {
			return nil, fmt.Errorf("%w: no projects linked to %s %s", ErrNotFound, noteType, partitionID)
		}
	default:
		return nil, fmt.Errorf("%w: unhandled note type %q", ErrValidation, noteType)
	}

	categories := input.Categories
	if categories == nil {
		categories = []string{}
	}

	note := &RunningNote{
		ID:           noteID(partitionID, created),
		User:         author.Name,
		Email:        author.Email,
		Note:         input.Note,
		Categories:   categories,
		Projects:     projects,
		Parent:       partitionID,
		NoteType:     noteType,
		CreatedAtUTC: formatUTC(created),
		UpdatedAtUTC: formatUTC(created),
	}
	if err := s.persist(ctx, note); err != nil {
		return nil, err
	}

	if noteType == TypeProject {
		s.announce(ctx, note, project, author, created)
	}
	if noteType.propagates() {
		s.propagate(ctx, note, author, created)
		s.announceRunTags(ctx, note, author, created)
	}

	return note, nil
}

// persist is the write-only part of note creation. Propagated copies go through here and
// nothing else, so they never trigger notifications of their own.
func (s *Service) persist(ctx context.Context, note *RunningNote) error {
	if err := s.store.Insert(ctx, note); err != nil {
		return fmt.Errorf("save running note: %w", err)
	}
	return nil
}

// announce notifies tagged users and the project coordinator about a project note.
func (s *Service) announce(ctx context.Context, note *RunningNote, project *Project, author Author, created time.Time) {
	base := notify.Request{
		ProjectID:   note.Parent,
		ProjectName: project.Name,
		Note:        note.Note,
		Categories:  note.Categories,
		Author:      author.Name,
		CreatedAt:   created,
	}

	tags := ExtractTags(note.Note)
	if len(tags) > 0 {
		req := base
		req.Handles = tags
		req.Reason = notify.ReasonUserTag
		s.notifier.Notify(ctx, req)
	}

	coordinator := CoordinatorHandle(project.Coordinator)
	if coordinator == "" || containsString(tags, coordinator) || coordinator == localPart(author.Email) {
		return
	}
	req := base
	req.Handles = []string{coordinator}
	req.Reason = notify.ReasonCreation
	s.notifier.Notify(ctx, req)
}

// announceRunTags notifies the users tagged in a run or workset note. The copies written by
// propagate are not announced, so each mention produces a single request.
func (s *Service) announceRunTags(ctx context.Context, note *RunningNote, author Author, created time.Time) {
	tags := ExtractTags(note.Note)
	if len(tags) == 0 {
		return
	}

	ref := s.projectRef(ctx, note.Projects[0])
	req := notify.Request{
		Handles:    tags,
		ProjectID:  ref[0],
		Note:       note.Note,
		Categories: note.Categories,
		Author:     author.Name,
		CreatedAt:  created,
		Reason:     notify.ReasonUserTag,
	}
	if len(ref) > 1 {
		req.ProjectName = ref[1]
	}
	s.notifier.Notify(ctx, req)
}

// propagate writes a project note onto every project linked to a run or workset note.
func (s *Service) propagate(ctx context.Context, src *RunningNote, author Author, created time.Time) {
	body := propagatedHeader(src.NoteType, src.Parent) + src.Note

	seen := make(map[string]bool, len(src.Projects))
	for _, projectID := range src.Projects {
		if projectID == "" || seen[projectID] {
			continue
		}
		seen[projectID] = true

		derived := &RunningNote{
			ID:           noteID(projectID, created),
			User:         author.Name,
			Email:        author.Email,
			Note:         body,
			Categories:   src.Categories,
			Projects:     s.projectRef(ctx, projectID),
			Parent:       projectID,
			NoteType:     TypeProject,
			CreatedAtUTC: src.CreatedAtUTC,
			UpdatedAtUTC: src.UpdatedAtUTC,
		}
		if err := s.persist(ctx, derived); err != nil {
			s.log.Warn("failed to propagate running note",
				"source", src.ID, "project_id", projectID, "error", err)
		}
	}
}

// projectRef is the projects field of a project note: id and display name when the
// project record can be read.
func (s *Service) projectRef(ctx context.Context, projectID string) []string {
	project, err := s.links.Project(ctx, projectID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("failed to resolve project name", "project_id", projectID, "error", err)
		}
		return []string{projectID}
	}
	return []string{projectID, project.Name}
}

func propagatedHeader(t NoteType, parent string) string {
	link := fmt.Sprintf("<a class='text-decoration-none' href='/%s/%s'>%s</a>", t.pagePath(), parent, parent)
	return fmt.Sprintf("#####*Running note posted on %s %s:*\n", t.label(), link)
}

// Get retrieves a note by id
func (s *Service) Get(ctx context.Context, id string) (*RunningNote, error) {
	return s.store.FindByID(ctx, id)
}

// List returns the notes of a partition, newest first
func (s *Service) List(ctx context.Context, partition string) (Timeline, error) {
	notes, err := s.store.ListByPartition(ctx, partition)
	if err != nil {
		return nil, err
	}
	return newTimeline(notes), nil
}

// LatestSticky returns the newest sticky note of a partition as a timeline of at most one entry
func (s *Service) LatestSticky(ctx context.Context, partition string) (Timeline, error) {
	note, err := s.store.LatestSticky(ctx, partition)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return Timeline{}, nil
	}
	return newTimeline([]*RunningNote{note}), nil
}

// RenderMarkdown converts markdown content to HTML
func (s *Service) RenderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(content), &buf); err != nil {
		return content // Return raw content on error
	}
	return buf.String()
}
