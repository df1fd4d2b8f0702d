package routing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/destinations"
	"github.com/docflow-systems/docflow-stack/internal/notify"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

type fakeDest struct {
	name string

	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeDest) Name() string { return f.name }

func (f *fakeDest) Deliver(ctx context.Context, doc *models.ClassifyEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New(f.name + ": unavailable")
	}
	return nil
}

func (f *fakeDest) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDest) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

type fakeAlert struct {
	mu      sync.Mutex
	notices []*notify.Notice
	fail    bool
}

func (f *fakeAlert) Type() string { return "fake" }

func (f *fakeAlert) Send(ctx context.Context, n *notify.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("alert channel down")
	}
	f.notices = append(f.notices, n)
	return nil
}

func classifiedDoc() *models.ClassifyEnvelope {
	return &models.ClassifyEnvelope{
		DocumentID: "doc-9",
		Filename:   "report.pdf",
		DocType:    "INVOICE",
		Confidence: 0.91,
	}
}

func newTestRouter(table *Table, alert notify.Channel, dests ...destinations.Destination) *Router {
	return NewRouter(table, dests, alert, logging.New(slog.LevelError, "text"), time.Second)
}

func TestRoute_PrimarySucceeds(t *testing.T) {
	primary := &fakeDest{name: "spreadsheet"}
	secondary := &fakeDest{name: "archive"}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet", "archive"}}, nil)
	r := newTestRouter(table, &fakeAlert{}, primary, secondary)

	out, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)

	assert.Equal(t, "spreadsheet", out.Destination)
	assert.False(t, out.FellBack)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 0, secondary.callCount(), "secondary must not be attempted when primary succeeds")
}

func TestRoute_FallsBackToSecondary(t *testing.T) {
	primary := &fakeDest{name: "spreadsheet", fail: true}
	secondary := &fakeDest{name: "archive"}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet", "archive"}}, nil)
	r := newTestRouter(table, &fakeAlert{}, primary, secondary)

	out, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)

	assert.Equal(t, "archive", out.Destination)
	assert.True(t, out.FellBack)
	assert.Equal(t, []string{"spreadsheet", "archive"}, out.Attempted)
	assert.False(t, r.Healthy("spreadsheet"))
	assert.True(t, r.Healthy("archive"))
}

func TestRoute_EachDestinationAttemptedAtMostOnce(t *testing.T) {
	primary := &fakeDest{name: "spreadsheet", fail: true}
	secondary := &fakeDest{name: "archive", fail: true}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet", "archive"}}, nil)
	r := newTestRouter(table, &fakeAlert{}, primary, secondary)

	_, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)

	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestRoute_ExhaustedChainAlertsOperator(t *testing.T) {
	primary := &fakeDest{name: "spreadsheet", fail: true}
	alert := &fakeAlert{}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet"}}, nil)
	r := newTestRouter(table, alert, primary)

	out, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)

	assert.Equal(t, AlertDestination, out.Destination)
	assert.True(t, out.FellBack)
	require.Len(t, alert.notices, 1)
	assert.Equal(t, "doc-9", alert.notices[0].DocumentID)
	assert.Equal(t, "critical", alert.notices[0].Severity)
}

func TestRoute_AlertFailureIsHardError(t *testing.T) {
	primary := &fakeDest{name: "spreadsheet", fail: true}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet"}}, nil)
	r := newTestRouter(table, &fakeAlert{fail: true}, primary)

	_, err := r.Route(context.Background(), classifiedDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert undeliverable")
}

func TestRoute_UnhealthyDestinationSkippedUntilLast(t *testing.T) {
	primary := &fakeDest{name: "spreadsheet", fail: true}
	secondary := &fakeDest{name: "archive"}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet", "archive"}}, nil)
	r := newTestRouter(table, &fakeAlert{}, primary, secondary)

	_, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)
	require.Equal(t, 1, primary.callCount())

	// Second document skips the known-bad primary entirely.
	out, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)
	assert.Equal(t, "archive", out.Destination)
	assert.Equal(t, 1, primary.callCount())

	// After an operator resets health, traffic returns to the primary.
	primary.setFail(false)
	r.markHealth("spreadsheet", true)

	out, err = r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet", out.Destination)
}

func TestRoute_LastCandidateAlwaysAttempted(t *testing.T) {
	only := &fakeDest{name: "spreadsheet"}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet"}}, nil)
	r := newTestRouter(table, &fakeAlert{}, only)
	r.markHealth("spreadsheet", false)

	out, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet", out.Destination)
	assert.True(t, r.Healthy("spreadsheet"), "successful delivery restores health")
}

func TestRoute_DefaultChainForUnknownType(t *testing.T) {
	archive := &fakeDest{name: "archive"}
	table := NewTable(nil, []string{"archive"})
	r := newTestRouter(table, &fakeAlert{}, archive)

	doc := classifiedDoc()
	doc.DocType = "OTHER"
	out, err := r.Route(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "archive", out.Destination)
}

func TestRoute_UnconfiguredTypeAlertsOperator(t *testing.T) {
	spreadsheet := &fakeDest{name: "spreadsheet"}
	alert := &fakeAlert{}
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet"}}, nil)
	r := newTestRouter(table, alert, spreadsheet)

	doc := classifiedDoc()
	doc.DocType = "BLUEPRINT"
	out, err := r.Route(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, AlertDestination, out.Destination)
	assert.Equal(t, 0, spreadsheet.callCount(), "no rule and no default chain means no destination is tried")
	require.Len(t, alert.notices, 1)
	assert.Equal(t, "BLUEPRINT", alert.notices[0].DocType)
}

func TestRoute_UnknownDestinationNameIsSkipped(t *testing.T) {
	archive := &fakeDest{name: "archive"}
	table := NewTable(map[string][]string{"INVOICE": {"sheets-v2", "archive"}}, nil)
	r := newTestRouter(table, &fakeAlert{}, archive)

	out, err := r.Route(context.Background(), classifiedDoc())
	require.NoError(t, err)
	assert.Equal(t, "archive", out.Destination)
	assert.Equal(t, []string{"archive"}, out.Attempted)
}

func TestTable_HotSwapRules(t *testing.T) {
	table := NewTable(map[string][]string{"INVOICE": {"spreadsheet"}}, []string{"archive"})

	assert.Equal(t, []string{"spreadsheet"}, table.Chain("INVOICE"))

	table.Set("INVOICE", []string{"archive", "spreadsheet"})
	assert.Equal(t, []string{"archive", "spreadsheet"}, table.Chain("INVOICE"))

	table.Set("INVOICE", nil)
	assert.Equal(t, []string{"archive"}, table.Chain("INVOICE"), "removing a rule falls back to default")
}

func TestProcessor_RoutesAndReportsDestination(t *testing.T) {
	archive := &fakeDest{name: "archive"}
	table := NewTable(nil, []string{"archive"})
	r := newTestRouter(table, &fakeAlert{}, archive)
	p := NewProcessor(r)

	payload := []byte(`{"document_id":"doc-9","filename":"report.pdf","doc_type":"INVOICE","confidence":0.91}`)
	res := p.Process(context.Background(), &pipeline.WorkItem{
		DocumentID: "doc-9",
		Stage:      models.StageRoute,
		Payload:    payload,
	})

	require.True(t, res.Success)
	assert.Equal(t, models.StatusRouted, res.Status)
	assert.Equal(t, "archive", res.Details["destination"])
	assert.Equal(t, "INVOICE", res.DocType)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 0.91, *res.Confidence, 0.001)
}

func TestProcessor_MalformedPayloadIsPermanent(t *testing.T) {
	table := NewTable(nil, []string{"archive"})
	r := newTestRouter(table, &fakeAlert{})
	p := NewProcessor(r)

	res := p.Process(context.Background(), &pipeline.WorkItem{Payload: []byte("{}")})
	require.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, pipeline.ErrPermanent))
	assert.Equal(t, models.StatusRoutingFailed, res.Status)
}

func TestProcessor_AlertFailureIsTransient(t *testing.T) {
	dead := &fakeDest{name: "archive", fail: true}
	table := NewTable(nil, []string{"archive"})
	r := newTestRouter(table, &fakeAlert{fail: true}, dead)
	p := NewProcessor(r)

	payload := []byte(`{"document_id":"doc-9","doc_type":"INVOICE"}`)
	res := p.Process(context.Background(), &pipeline.WorkItem{Payload: payload})
	require.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, pipeline.ErrTransient))
}
