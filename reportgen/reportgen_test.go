package reportgen_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/durable"
	"github.com/andrewwormald/durable/adapters/memarchive"
	"github.com/andrewwormald/durable/adapters/memstore"
	"github.com/andrewwormald/durable/reportgen"
)

type stubImporter struct {
	items []reportgen.WorkItem
	err   error
}

func (s *stubImporter) Import(_ context.Context, _ string) ([]reportgen.WorkItem, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.items, nil
}

type stubRenderer struct {
	failID  string
	failMsg string
}

func (s *stubRenderer) Render(_ context.Context, item reportgen.WorkItem) ([]byte, error) {
	if item.ID == s.failID {
		return nil, errors.New(s.failMsg)
	}

	return []byte("%PDF " + item.ID), nil
}

type fixture struct {
	engine  *durable.Engine
	store   *memstore.Store
	archive *memarchive.Store
}

func setup(t *testing.T, imp reportgen.Importer, rend reportgen.Renderer, cfg reportgen.Config) fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	archive := memarchive.New()
	acts := reportgen.NewActivities(imp, rend, archive)

	b := durable.NewBuilder("reportgen")
	reportgen.Register(b, acts, cfg)

	store := memstore.New()
	engine := b.Build(store, store)
	engine.Run(ctx)
	t.Cleanup(engine.Stop)

	return fixture{engine: engine, store: store, archive: archive}
}

func awaitBatch(t *testing.T, f fixture, source string) *durable.Instance {
	t.Helper()

	ctx := context.Background()

	id, err := f.engine.Start(ctx, reportgen.OrchestrationProcessBatch,
		durable.WithInput(source))
	require.Nil(t, err)

	in, err := f.engine.Await(ctx, id, durable.WithPollingFrequency(time.Millisecond))
	require.Nil(t, err)

	return in
}

func threeItems() []reportgen.WorkItem {
	return []reportgen.WorkItem{
		{ID: "A", Name: "Alice", Score: 9.25},
		{ID: "B", Name: "Bob", Score: 7.5},
		{ID: "C", Name: "Cara", Score: 8},
	}
}

func TestBatchAllItemsSucceed(t *testing.T) {
	t.Parallel()

	f := setup(t,
		&stubImporter{items: threeItems()},
		&stubRenderer{},
		reportgen.Config{Mode: reportgen.ModeSplit},
	)

	in := awaitBatch(t, f, "students.json")
	require.Equal(t, durable.StatusCompleted, in.Status)

	var agg reportgen.AggregateResult
	require.Nil(t, durable.Unmarshal(in.Output, &agg))
	require.Equal(t, 3, agg.Count)
	require.Empty(t, agg.Errors)

	require.Equal(t, 3, f.archive.Len())
	for _, id := range []string{"A", "B", "C"} {
		data, ok := f.archive.Get(id + ".pdf")
		require.True(t, ok)
		require.Equal(t, []byte("%PDF "+id), data)
	}
}

func TestBatchItemFailureIsIsolated(t *testing.T) {
	t.Parallel()

	f := setup(t,
		&stubImporter{items: threeItems()},
		&stubRenderer{failID: "B", failMsg: "template missing"},
		reportgen.Config{Mode: reportgen.ModeSplit},
	)

	in := awaitBatch(t, f, "students.json")
	require.Equal(t, durable.StatusCompleted, in.Status)

	var agg reportgen.AggregateResult
	require.Nil(t, durable.Unmarshal(in.Output, &agg))
	require.Equal(t, 3, agg.Count)
	require.Len(t, agg.Errors, 1)
	require.Equal(t, "B", agg.Errors[0].ID)
	require.Contains(t, agg.Errors[0].Message, "template missing")

	// The failed item produced no artifact; its siblings archived normally.
	require.Equal(t, 2, f.archive.Len())
	_, ok := f.archive.Get("B.pdf")
	require.False(t, ok)
	_, ok = f.archive.Get("A.pdf")
	require.True(t, ok)
	_, ok = f.archive.Get("C.pdf")
	require.True(t, ok)
}

func TestBatchImportFailureFailsInstance(t *testing.T) {
	t.Parallel()

	f := setup(t,
		&stubImporter{err: errors.New("data file unreachable")},
		&stubRenderer{},
		reportgen.Config{Mode: reportgen.ModeSplit},
	)

	in := awaitBatch(t, f, "students.json")
	require.Equal(t, durable.StatusFailed, in.Status)
	require.Contains(t, in.ErrMessage, "import")

	// No per-item work was dispatched.
	children, err := f.store.List(context.Background(), durable.KindPerItem)
	require.Nil(t, err)
	require.Empty(t, children)
	require.Equal(t, 0, f.archive.Len())
}

// Split and combined mode must be indistinguishable at the aggregate level.
func TestModesProduceIdenticalAggregates(t *testing.T) {
	t.Parallel()

	var aggs []reportgen.AggregateResult

	for _, mode := range []reportgen.Mode{reportgen.ModeSplit, reportgen.ModeCombined} {
		f := setup(t,
			&stubImporter{items: threeItems()},
			&stubRenderer{failID: "C", failMsg: "corrupt item"},
			reportgen.Config{Mode: mode},
		)

		in := awaitBatch(t, f, "students.json")
		require.Equal(t, durable.StatusCompleted, in.Status)

		var agg reportgen.AggregateResult
		require.Nil(t, durable.Unmarshal(in.Output, &agg))
		agg.Duration = 0
		aggs = append(aggs, agg)

		require.Equal(t, 2, f.archive.Len())
	}

	require.Equal(t, aggs[0], aggs[1])
}

func TestBatchConcurrencyBounds(t *testing.T) {
	t.Parallel()

	items := make([]reportgen.WorkItem, 0, 6)
	for i := 0; i < 6; i++ {
		items = append(items, reportgen.WorkItem{
			ID:    fmt.Sprintf("S%d", i),
			Name:  fmt.Sprintf("Student %d", i),
			Score: float64(i),
		})
	}

	var want reportgen.AggregateResult

	for i, concurrency := range []int{1, 3, 6, 16} {
		f := setup(t,
			&stubImporter{items: items},
			&stubRenderer{failID: "S4", failMsg: "render glitch"},
			reportgen.Config{Mode: reportgen.ModeSplit, Concurrency: concurrency},
		)

		in := awaitBatch(t, f, "students.json")
		require.Equal(t, durable.StatusCompleted, in.Status)

		var agg reportgen.AggregateResult
		require.Nil(t, durable.Unmarshal(in.Output, &agg))
		agg.Duration = 0

		if i == 0 {
			want = agg
			continue
		}

		require.Equal(t, want, agg)
	}
}

func TestArchiveOverwriteIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archive := memarchive.New()

	cmd := reportgen.ArchiveCommand{
		Data:        []byte("%PDF v1"),
		Filename:    "A.pdf",
		ContentType: reportgen.ContentTypePDF,
	}

	first, err := archive.Put(ctx, cmd)
	require.Nil(t, err)
	require.Equal(t, 1, first.Version)

	cmd.Data = []byte("%PDF v2")
	second, err := archive.Put(ctx, cmd)
	require.Nil(t, err)
	require.Equal(t, 2, second.Version)
	require.Equal(t, "A.pdf", second.Filename)

	require.Equal(t, 1, archive.Len())
	data, ok := archive.Get("A.pdf")
	require.True(t, ok)
	require.Equal(t, []byte("%PDF v2"), data)
}
