package resultstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/evaloor/pkg/config"
	"github.com/ethpandaops/evaloor/pkg/resultstore"
)

type stubPipeline struct {
	repr string
	err  error
}

func (p stubPipeline) Repr() (string, error) {
	if p.err != nil {
		return "", p.err
	}

	return p.repr, nil
}

type stubDataset struct {
	code     string
	subjects []string
	sessions int
}

func (d stubDataset) Code() string          { return d.code }
func (d stubDataset) SubjectList() []string { return d.subjects }
func (d stubDataset) Sessions() int         { return d.sessions }

func testID() resultstore.StoreID {
	return resultstore.StoreID{
		Evaluation: "CrossSessionEvaluation",
		Paradigm:   "MotorImagery",
	}
}

func newTestStore(t *testing.T, dir string, overwrite bool) resultstore.Store {
	t.Helper()

	cfg := config.Default()
	cfg.Results.Dir = dir

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := resultstore.New(log, cfg, testID(), overwrite)
	require.NoError(t, s.Init(context.Background()))

	return s
}

func TestStore_AddAndAlreadyComputed(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	d1 := stubDataset{
		code:     "D1",
		subjects: []string{"1", "2", "3", "4", "5"},
		sessions: 2,
	}
	p1 := stubPipeline{repr: "Pipeline(steps=[CSP(8), LDA()])"}

	record := resultstore.Record{
		Dataset:  d1,
		ID:       "1",
		Score:    0.8,
		Time:     1.2,
		Samples:  100,
		Channels: 32,
	}

	require.NoError(t, s.Add(ctx,
		map[string]any{"P1": record},
		map[string]resultstore.Pipeline{"P1": p1},
	))

	computed, err := s.AlreadyComputed(ctx, p1, d1, "1")
	require.NoError(t, err)
	assert.True(t, computed)

	computed, err = s.AlreadyComputed(ctx, p1, d1, "2")
	require.NoError(t, err)
	assert.False(t, computed)

	// An unknown pipeline has nothing recorded.
	computed, err = s.AlreadyComputed(ctx,
		stubPipeline{repr: "Pipeline(steps=[CSP(4), SVM()])"}, d1, "1")
	require.NoError(t, err)
	assert.False(t, computed)

	// An unknown dataset under a known pipeline has nothing recorded.
	computed, err = s.AlreadyComputed(ctx, p1,
		stubDataset{code: "D2", subjects: []string{"1"}, sessions: 1}, "1")
	require.NoError(t, err)
	assert.False(t, computed)

	rows, err := s.ToTable(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, 0.8, rows[0].Score)
	assert.Equal(t, 1.2, rows[0].Time)
	assert.Equal(t, float64(100), rows[0].Samples)
	assert.Equal(t, "1", rows[0].ID)
	assert.Equal(t, 32, rows[0].Channels)
	assert.Equal(t, 2, rows[0].Sessions)
	assert.Equal(t, "D1", rows[0].Dataset)
	assert.Equal(t, "P1", rows[0].Pipeline)
}

func TestStore_AddRecordList(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	dataset := stubDataset{code: "D1", subjects: []string{"1", "2", "3"}, sessions: 1}
	pipeline := stubPipeline{repr: "Pipeline(steps=[Cov(), MDM()])"}

	records := []resultstore.Record{
		{Dataset: dataset, ID: "1", Score: 0.6, Time: 1.0, Samples: 80, Channels: 16},
		// Dataset and channel count are only consulted for the first record.
		{ID: "2", Score: 0.7, Time: 1.1, Samples: 90},
		{ID: "3", Score: 0.9, Time: 0.9, Samples: 70},
	}

	require.NoError(t, s.Add(ctx,
		map[string]any{"MDM": records},
		map[string]resultstore.Pipeline{"MDM": pipeline},
	))

	rows, err := s.ToTable(ctx)
	require.NoError(t, err)
	require.Len(t, rows, len(records))

	// Rows come back in append order with field-for-field fidelity.
	for i, want := range records {
		assert.Equal(t, want.ID, rows[i].ID)
		assert.Equal(t, want.Score, rows[i].Score)
		assert.Equal(t, want.Time, rows[i].Time)
		assert.Equal(t, want.Samples, rows[i].Samples)
		assert.Equal(t, "D1", rows[i].Dataset)
		assert.Equal(t, 16, rows[i].Channels)
	}
}

func TestStore_AddInvalidPayload(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	pipeline := stubPipeline{repr: "Pipeline()"}
	pipelines := map[string]resultstore.Pipeline{"P": pipeline}

	tests := []struct {
		name    string
		payload any
	}{
		{name: "string payload", payload: "not a record"},
		{name: "int payload", payload: 42},
		{name: "empty list", payload: []resultstore.Record{}},
		{name: "nil record pointer", payload: (*resultstore.Record)(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(ctx, map[string]any{"P": tt.payload}, pipelines)
			require.Error(t, err)
			assert.ErrorIs(t, err, resultstore.ErrInvalidResults)
		})
	}
}

func TestStore_AddMissingPipeline(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)

	err := s.Add(context.Background(),
		map[string]any{"P": resultstore.Record{ID: "1"}},
		map[string]resultstore.Pipeline{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pipeline supplied")
}

func TestStore_AddPipelineReprError(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)

	broken := stubPipeline{err: errors.New("no canonical form")}

	err := s.Add(context.Background(),
		map[string]any{"P": resultstore.Record{ID: "1"}},
		map[string]resultstore.Pipeline{"P": broken},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no canonical form")
}

func TestStore_NotYetComputed(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	dataset := stubDataset{code: "D1", subjects: []string{"1", "2"}, sessions: 1}

	computed := stubPipeline{repr: "Pipeline(A)"}
	pendingB := stubPipeline{repr: "Pipeline(B)"}
	pendingC := stubPipeline{repr: "Pipeline(C)"}

	require.NoError(t, s.Add(ctx,
		map[string]any{"A": resultstore.Record{
			Dataset: dataset, ID: "1", Score: 0.5, Time: 1, Samples: 10, Channels: 8,
		}},
		map[string]resultstore.Pipeline{"A": computed},
	))

	pipelines := map[string]resultstore.Pipeline{
		"A": computed,
		"B": pendingB,
		"C": pendingC,
	}

	remaining, err := s.NotYetComputed(ctx, pipelines, dataset, "1")
	require.NoError(t, err)

	// Exactly the non-computed subset, each entry exactly once.
	require.Len(t, remaining, 2)
	assert.Contains(t, remaining, "B")
	assert.Contains(t, remaining, "C")

	// A different subject has no results for any pipeline.
	remaining, err = s.NotYetComputed(ctx, pipelines, dataset, "2")
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}

func TestStore_ReopenPreservesRows(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dataset := stubDataset{code: "D1", subjects: []string{"1"}, sessions: 1}
	pipeline := stubPipeline{repr: "Pipeline(keep)"}

	s := newTestStore(t, dir, false)
	require.NoError(t, s.Add(ctx,
		map[string]any{"P": resultstore.Record{
			Dataset: dataset, ID: "1", Score: 0.8, Time: 1, Samples: 10, Channels: 4,
		}},
		map[string]resultstore.Pipeline{"P": pipeline},
	))

	// Reopening without overwrite keeps previously appended rows.
	reopened := newTestStore(t, dir, false)

	rows, err := reopened.ToTable(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	computed, err := reopened.AlreadyComputed(ctx, pipeline, dataset, "1")
	require.NoError(t, err)
	assert.True(t, computed)
}

func TestStore_OverwriteWipes(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dataset := stubDataset{code: "D1", subjects: []string{"1"}, sessions: 1}
	pipeline := stubPipeline{repr: "Pipeline(wipe)"}

	s := newTestStore(t, dir, false)
	require.NoError(t, s.Add(ctx,
		map[string]any{"P": resultstore.Record{
			Dataset: dataset, ID: "1", Score: 0.8, Time: 1, Samples: 10, Channels: 4,
		}},
		map[string]resultstore.Pipeline{"P": pipeline},
	))

	wiped := newTestStore(t, dir, true)

	_, err := wiped.ToTable(ctx)
	assert.ErrorIs(t, err, resultstore.ErrEmptyStore)

	computed, err := wiped.AlreadyComputed(ctx, pipeline, dataset, "1")
	require.NoError(t, err)
	assert.False(t, computed)
}

func TestStore_ToTableEmpty(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)

	_, err := s.ToTable(context.Background())
	assert.ErrorIs(t, err, resultstore.ErrEmptyStore)
}

func TestStore_ToTableTwoPipelines(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	dataset := stubDataset{code: "D1", subjects: []string{"1", "2"}, sessions: 1}

	results := map[string]any{
		"P1": []resultstore.Record{
			{Dataset: dataset, ID: "1", Score: 0.5, Time: 1, Samples: 10, Channels: 8},
			{Dataset: dataset, ID: "2", Score: 0.6, Time: 1, Samples: 10, Channels: 8},
		},
		"P2": resultstore.Record{
			Dataset: dataset, ID: "1", Score: 0.7, Time: 1, Samples: 10, Channels: 8,
		},
	}
	pipelines := map[string]resultstore.Pipeline{
		"P1": stubPipeline{repr: "Pipeline(one)"},
		"P2": stubPipeline{repr: "Pipeline(two)"},
	}

	require.NoError(t, s.Add(ctx, results, pipelines))

	rows, err := s.ToTable(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	counts := map[string]int{}
	for _, row := range rows {
		counts[row.Pipeline]++
	}

	assert.Equal(t, 2, counts["P1"])
	assert.Equal(t, 1, counts["P2"])
}

func TestStore_LastNameWinsForDigest(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	dataset := stubDataset{code: "D1", subjects: []string{"1", "2"}, sessions: 1}

	// Two pipeline objects with the identical representation share a
	// digest, so they land in the same group and the most recent name
	// wins.
	repr := "Pipeline(steps=[CSP(8), LDA()])"

	require.NoError(t, s.Add(ctx,
		map[string]any{"old-name": resultstore.Record{
			Dataset: dataset, ID: "1", Score: 0.5, Time: 1, Samples: 10, Channels: 8,
		}},
		map[string]resultstore.Pipeline{"old-name": stubPipeline{repr: repr}},
	))

	require.NoError(t, s.Add(ctx,
		map[string]any{"new-name": resultstore.Record{
			Dataset: dataset, ID: "2", Score: 0.6, Time: 1, Samples: 10, Channels: 8,
		}},
		map[string]resultstore.Pipeline{"new-name": stubPipeline{repr: repr}},
	))

	rows, err := s.ToTable(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, "new-name", row.Pipeline)
	}

	// Dedup queries resolve through the digest, regardless of name.
	computed, err := s.AlreadyComputed(ctx, stubPipeline{repr: repr}, dataset, "1")
	require.NoError(t, err)
	assert.True(t, computed)
}

func TestStore_FirstMetadataWins(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	pipeline := stubPipeline{repr: "Pipeline(meta)"}
	pipelines := map[string]resultstore.Pipeline{"P": pipeline}

	require.NoError(t, s.Add(ctx,
		map[string]any{"P": resultstore.Record{
			Dataset: stubDataset{code: "D1", subjects: []string{"1", "2"}, sessions: 2},
			ID:      "1", Score: 0.5, Time: 1, Samples: 10, Channels: 32,
		}},
		pipelines,
	))

	// A later append with disagreeing metadata does not rewrite the table.
	require.NoError(t, s.Add(ctx,
		map[string]any{"P": resultstore.Record{
			Dataset: stubDataset{code: "D1", subjects: []string{"1"}, sessions: 5},
			ID:      "2", Score: 0.6, Time: 1, Samples: 10, Channels: 64,
		}},
		pipelines,
	))

	rows, err := s.ToTable(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, 32, row.Channels)
		assert.Equal(t, 2, row.Sessions)
	}
}

func TestStore_Info(t *testing.T) {
	s := newTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.CreateTime)
	assert.Zero(t, info.Rows)

	dataset := stubDataset{code: "D1", subjects: []string{"1"}, sessions: 1}

	require.NoError(t, s.Add(ctx,
		map[string]any{"P": []resultstore.Record{
			{Dataset: dataset, ID: "1", Score: 0.5, Time: 1, Samples: 10, Channels: 8},
			{ID: "2", Score: 0.6, Time: 1, Samples: 10},
		}},
		map[string]resultstore.Pipeline{"P": stubPipeline{repr: "Pipeline(info)"}},
	))

	info, err = s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Pipelines)
	assert.Equal(t, int64(1), info.Datasets)
	assert.Equal(t, int64(2), info.Rows)
}

func TestStore_PathResolution(t *testing.T) {
	cfg := config.Default()
	cfg.Results.Dir = "/data/results"

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	tests := []struct {
		name string
		id   resultstore.StoreID
		want string
	}{
		{
			name: "no suffix",
			id: resultstore.StoreID{
				Evaluation: "WithinSessionEvaluation",
				Paradigm:   "P300",
			},
			want: filepath.Join("/data/results",
				"P300", "WithinSessionEvaluation", "results.db"),
		},
		{
			name: "with suffix",
			id: resultstore.StoreID{
				Evaluation: "CrossSubjectEvaluation",
				Paradigm:   "SSVEP",
				Suffix:     "grid",
			},
			want: filepath.Join("/data/results",
				"SSVEP", "CrossSubjectEvaluation", "results_grid.db"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := resultstore.New(log, cfg, tt.id, false)
			assert.Equal(t, tt.want, s.Path())
		})
	}
}
