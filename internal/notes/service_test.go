package notes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runningnotes/internal/notify"
)

type fakeStore struct {
	mu      sync.Mutex
	notes   []*RunningNote
	failFor map[string]error
}

func (f *fakeStore) Insert(_ context.Context, n *RunningNote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[n.Parent]; ok {
		return err
	}
	for _, existing := range f.notes {
		if existing.ID == n.ID {
			return errors.New("duplicate key")
		}
	}
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeStore) FindByID(_ context.Context, id string) (*RunningNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) ListByPartition(_ context.Context, partition string) ([]*RunningNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*RunningNote
	for _, n := range f.notes {
		if n.Parent == partition {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestSticky(_ context.Context, partition string) (*RunningNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *RunningNote
	for _, n := range f.notes {
		if n.Parent == partition && n.IsSticky() && (latest == nil || n.CreatedAtUTC > latest.CreatedAtUTC) {
			latest = n
		}
	}
	return latest, nil
}

func (f *fakeStore) byParent(parent string) []*RunningNote {
	out, _ := f.ListByPartition(context.Background(), parent)
	return out
}

type fakeLinkage struct {
	projects map[string]*Project
	runs     map[string][]string
}

func (f *fakeLinkage) Project(_ context.Context, id string) (*Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (f *fakeLinkage) ProjectIDs(_ context.Context, parentID string, t NoteType) ([]string, error) {
	if t == TypeProject {
		return []string{parentID}, nil
	}
	ids, ok := f.runs[parentID]
	if !ok {
		return nil, ErrNotFound
	}
	return ids, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	requests []notify.Request
}

func (f *fakeNotifier) Notify(_ context.Context, req notify.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeNotifier) byReason(r notify.Reason) []notify.Request {
	var out []notify.Request
	for _, req := range f.requests {
		if req.Reason == r {
			out = append(out, req)
		}
	}
	return out
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(1500 * time.Microsecond)
	return c.t
}

func newTestService() (*Service, *fakeStore, *fakeNotifier) {
	store := &fakeStore{}
	links := &fakeLinkage{
		projects: map[string]*Project{
			"P12345": {ID: "P12345", Name: "A.Smith_23_01", Coordinator: "Åsa Öberg"},
			"P001":   {ID: "P001", Name: "B.Jones_24_01"},
			"P002":   {ID: "P002", Name: "C.Lee_24_02", Coordinator: "Jane Doe"},
		},
		runs: map[string][]string{
			"20240301_A22FFTLT3": {"P001", "P002"},
			"PAM12345":           {"P001"},
			"P001P002_WS":        {"P002"},
			"EMPTY_FC":           {},
		},
	}
	notifier := &fakeNotifier{}
	svc := NewService(store, links, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.now
	return svc, store, notifier
}

var tom = Author{Name: "Tom Tagger", Email: "tom.tagger@example.org"}

func TestCreateProjectNote(t *testing.T) {
	svc, store, notifier := newTestService()

	note, err := svc.Create(context.Background(), "P12345", CreateNoteInput{
		Note:       "hello @jane.doe and @bob-2",
		Categories: []string{"Lab"},
		NoteType:   "project",
	}, tom)
	require.NoError(t, err)

	assert.Equal(t, TypeProject, note.NoteType)
	assert.Equal(t, []string{"P12345", "A.Smith_23_01"}, note.Projects)
	assert.Equal(t, "P12345", note.Parent)
	assert.True(t, strings.HasPrefix(note.ID, "P12345:"))
	assert.Equal(t, "Tom Tagger", note.User)
	assert.Equal(t, note.CreatedAtUTC, note.UpdatedAtUTC)
	require.Len(t, store.notes, 1)

	tagged := notifier.byReason(notify.ReasonUserTag)
	require.Len(t, tagged, 1)
	assert.Equal(t, []string{"jane.doe", "bob-2"}, tagged[0].Handles)
	assert.Equal(t, "P12345", tagged[0].ProjectID)
	assert.Equal(t, "A.Smith_23_01", tagged[0].ProjectName)
	assert.Equal(t, "Tom Tagger", tagged[0].Author)

	created := notifier.byReason(notify.ReasonCreation)
	require.Len(t, created, 1)
	assert.Equal(t, []string{"asa.oberg"}, created[0].Handles)
}

func TestCreateProjectNoteCoordinatorExclusions(t *testing.T) {
	t.Run("author is coordinator", func(t *testing.T) {
		svc, _, notifier := newTestService()
		_, err := svc.Create(context.Background(), "P12345", CreateNoteInput{
			Note: "sent the samples", NoteType: "project",
		}, Author{Name: "Åsa Öberg", Email: "asa.oberg@example.org"})
		require.NoError(t, err)
		assert.Empty(t, notifier.requests)
	})

	t.Run("coordinator already tagged", func(t *testing.T) {
		svc, _, notifier := newTestService()
		_, err := svc.Create(context.Background(), "P12345", CreateNoteInput{
			Note: "@asa.oberg please check", NoteType: "project",
		}, tom)
		require.NoError(t, err)
		require.Len(t, notifier.requests, 1)
		assert.Equal(t, notify.ReasonUserTag, notifier.requests[0].Reason)
	})

	t.Run("no coordinator", func(t *testing.T) {
		svc, _, notifier := newTestService()
		_, err := svc.Create(context.Background(), "P001", CreateNoteInput{
			Note: "no mentions here", NoteType: "project",
		}, tom)
		require.NoError(t, err)
		assert.Empty(t, notifier.requests)
	})
}

func TestCreateFlowcellNotePropagates(t *testing.T) {
	svc, store, notifier := newTestService()

	note, err := svc.Create(context.Background(), "20240301_A22FFTLT3", CreateNoteInput{
		Note:       "lane 3 failed QC, @jane.doe",
		Categories: []string{"Flowcell", "Sticky"},
		NoteType:   "flowcell",
	}, tom)
	require.NoError(t, err)

	assert.Equal(t, TypeFlowcell, note.NoteType)
	assert.Equal(t, []string{"P001", "P002"}, note.Projects)
	require.Len(t, store.notes, 3)

	for _, pid := range []string{"P001", "P002"} {
		derived := store.byParent(pid)
		require.Len(t, derived, 1, pid)
		d := derived[0]
		assert.Equal(t, TypeProject, d.NoteType)
		assert.Equal(t, pid, d.Projects[0])
		assert.True(t, strings.HasPrefix(d.ID, pid+":"))
		assert.Equal(t, note.CreatedAtUTC, d.CreatedAtUTC)
		assert.Equal(t, []string{"Flowcell", "Sticky"}, d.Categories)
		assert.Equal(t,
			"#####*Running note posted on flowcell <a class='text-decoration-none' "+
				"href='/flowcells/20240301_A22FFTLT3'>20240301_A22FFTLT3</a>:*\nlane 3 failed QC, @jane.doe",
			d.Note)
	}

	require.Len(t, notifier.requests, 1, "one request per note, not per linked project")
	req := notifier.requests[0]
	assert.Equal(t, notify.ReasonUserTag, req.Reason)
	assert.Equal(t, []string{"jane.doe"}, req.Handles)
	assert.Equal(t, "P001", req.ProjectID)
	assert.Equal(t, "B.Jones_24_01", req.ProjectName)
	assert.Equal(t, "lane 3 failed QC, @jane.doe", req.Note)
	assert.Equal(t, "Tom Tagger", req.Author)
}

func TestCreateRunNoteWithoutMentionsIsQuiet(t *testing.T) {
	svc, store, notifier := newTestService()

	_, err := svc.Create(context.Background(), "20240301_A22FFTLT3", CreateNoteInput{
		Note: "lane 3 failed QC", NoteType: "flowcell",
	}, tom)
	require.NoError(t, err)
	assert.Len(t, store.notes, 3)
	assert.Empty(t, notifier.requests, "copies on linked projects do not notify coordinators")
}

func TestCreateWorksetNoteTagsUnknownProjectName(t *testing.T) {
	svc, _, notifier := newTestService()
	svc.links.(*fakeLinkage).runs["WS_ORPHAN"] = []string{"P404"}

	_, err := svc.Create(context.Background(), "WS_ORPHAN", CreateNoteInput{
		Note: "@bob-2 re-pooled", NoteType: "workset",
	}, tom)
	require.NoError(t, err)
	require.Len(t, notifier.requests, 1)
	assert.Equal(t, "P404", notifier.requests[0].ProjectID)
	assert.Empty(t, notifier.requests[0].ProjectName)
}

func TestCreateONTAndWorksetNotes(t *testing.T) {
	svc, store, _ := newTestService()

	_, err := svc.Create(context.Background(), "PAM12345", CreateNoteInput{
		Note: "pore occupancy low", NoteType: "flowcell_ont",
	}, tom)
	require.NoError(t, err)
	derived := store.byParent("P001")
	require.Len(t, derived, 1)
	assert.Contains(t, derived[0].Note, "posted on flowcell <a class='text-decoration-none' href='/flowcells_ont/PAM12345'>")

	_, err = svc.Create(context.Background(), "P001P002_WS", CreateNoteInput{
		Note: "re-pooled", NoteType: "workset",
	}, tom)
	require.NoError(t, err)
	derived = store.byParent("P002")
	require.Len(t, derived, 1)
	assert.Contains(t, derived[0].Note, "posted on workset <a class='text-decoration-none' href='/worksets/P001P002_WS'>")
}

func TestCreateValidation(t *testing.T) {
	svc, store, _ := newTestService()

	_, err := svc.Create(context.Background(), "P12345", CreateNoteInput{NoteType: "project"}, tom)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), "", CreateNoteInput{Note: "x", NoteType: "project"}, tom)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), "P12345", CreateNoteInput{Note: "x", NoteType: "lane"}, tom)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, store.notes)
}

func TestCreateUnknownParent(t *testing.T) {
	svc, store, _ := newTestService()

	_, err := svc.Create(context.Background(), "P99999", CreateNoteInput{Note: "x", NoteType: "project"}, tom)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Create(context.Background(), "UNKNOWN_FC", CreateNoteInput{Note: "x", NoteType: "flowcell"}, tom)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Create(context.Background(), "EMPTY_FC", CreateNoteInput{Note: "x", NoteType: "flowcell"}, tom)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, store.notes)
}

func TestCreatePersistenceFailure(t *testing.T) {
	svc, store, notifier := newTestService()
	store.failFor = map[string]error{"P12345": errors.New("connection reset")}

	_, err := svc.Create(context.Background(), "P12345", CreateNoteInput{Note: "@jane.doe hi", NoteType: "project"}, tom)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Empty(t, notifier.requests, "nothing is announced when the note was not saved")
}

func TestCreatePropagationFailureKeepsPrimaryNote(t *testing.T) {
	svc, store, _ := newTestService()
	store.failFor = map[string]error{"P001": errors.New("write conflict")}

	note, err := svc.Create(context.Background(), "20240301_A22FFTLT3", CreateNoteInput{
		Note: "rerun", NoteType: "flowcell",
	}, tom)
	require.NoError(t, err)
	assert.NotNil(t, note)
	assert.Len(t, store.byParent("20240301_A22FFTLT3"), 1)
	assert.Len(t, store.byParent("P002"), 1)
}

func TestCreateIsNotIdempotent(t *testing.T) {
	svc, store, _ := newTestService()
	in := CreateNoteInput{Note: "same", NoteType: "project"}

	a, err := svc.Create(context.Background(), "P001", in, tom)
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), "P001", in, tom)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, store.notes, 2)
}

func TestListAndLatestSticky(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "P001", CreateNoteInput{Note: "first", NoteType: "project", Categories: []string{"sticky"}}, tom)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "P001", CreateNoteInput{Note: "second", NoteType: "project"}, tom)
	require.NoError(t, err)

	timeline, err := svc.List(ctx, "P001")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, "second", timeline[0].Note)
	assert.Equal(t, "first", timeline[1].Note)

	sticky, err := svc.LatestSticky(ctx, "P001")
	require.NoError(t, err)
	require.Len(t, sticky, 1)
	assert.Equal(t, "first", sticky[0].Note)

	none, err := svc.LatestSticky(ctx, "P002")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNoteIDAndTimestamps(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC)
	assert.Equal(t, "P1:1709296200.123456", noteID("P1", created))
	assert.Equal(t, "P1:1709296200", noteID("P1", created.Truncate(time.Second)))
	assert.Equal(t, "2024-03-01T12:30:00.123456+00:00", formatUTC(created))
}
