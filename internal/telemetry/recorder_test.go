package telemetry

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/navfusion/internal/ekf"
	"github.com/banshee-data/navfusion/internal/timeutil"
)

// migrate's sqlite driver needs a file-backed database; :memory: gives each
// pooled connection its own empty schema.
func openTestRecorder(t *testing.T) (*Recorder, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r, err := OpenRecorder(filepath.Join(t.TempDir(), "fusion.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, clock
}

func sampleSnapshot(timeUS uint64) ekf.DebugSnapshot {
	snap := ekf.DebugSnapshot{
		TimeUS:            timeUS,
		PosDEstimate:      -12.5,
		HeightSource:      ekf.HeightRange,
		BaroMeasurementD:  -12.1,
		BaroHgtOffset:     0.4,
		RangeMeasurementD: -12.6,
		HgtSensorOffset:   0.05,
		RangeAiding:       true,
		Innov:             [ekf.NumChannels]float64{0.1, -0.2, 0.05, 1.5, -0.7, 0.1},
		InnovVar:          [ekf.NumChannels]float64{0.3, 0.3, 0.6, 0.8, 0.8, 0.02},
		TestRatio:         [ekf.NumChannels]float64{0.0013, 0.0053, 0.0002, 0.1125, 0.0245, 0.02},
		InnovCheck:        ekf.InnovCheckFailStatus{RejectPosNE: true},
		Times: ekf.FusionTimes{
			LastVelFuseUS:    timeUS,
			LastPosFuseUS:    timeUS / 2,
			LastDelPosFuseUS: 0,
			LastHgtFuseUS:    timeUS,
		},
	}
	snap.Faults.BadPosE = true
	snap.Faults.BadState[ekf.WindN] = true
	snap.Faults.BadState[ekf.AccelBiasZ] = true
	return snap
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func TestOpenRecorder_AppliesMigrations(t *testing.T) {
	t.Parallel()
	r, _ := openTestRecorder(t)

	version, dirty, ok, err := r.SchemaVersion()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, r.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('fusion_runs', 'fusion_snapshots')`,
	).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRecorder_MigrateUpIdempotent(t *testing.T) {
	t.Parallel()
	r, _ := openTestRecorder(t)

	require.NoError(t, r.MigrateUp())
	require.NoError(t, r.MigrateUp())
}

func TestOpenRecorder_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fusion.db")
	ctx := context.Background()

	r, err := OpenRecorder(path, nil)
	require.NoError(t, err)
	id, err := r.StartRun(ctx, "first")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, sampleSnapshot(1_000_000)))
	require.NoError(t, r.Close())

	r, err = OpenRecorder(path, nil)
	require.NoError(t, err)
	defer r.Close()

	snaps, err := r.Snapshots(ctx, id)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

// ---------------------------------------------------------------------------
// Runs and snapshots
// ---------------------------------------------------------------------------

func TestRecorder_PublishRequiresRun(t *testing.T) {
	t.Parallel()
	r, _ := openTestRecorder(t)

	err := r.Publish(context.Background(), sampleSnapshot(1))
	assert.ErrorIs(t, err, ErrNoRun)
	assert.Empty(t, r.RunID())
}

func TestRecorder_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	r, _ := openTestRecorder(t)
	ctx := context.Background()

	id, err := r.StartRun(ctx, "roundtrip")
	require.NoError(t, err)
	assert.Equal(t, id, r.RunID())

	want := []ekf.DebugSnapshot{sampleSnapshot(1_000_000), sampleSnapshot(1_100_000)}
	want[1].HeightSource = ekf.HeightBaro
	want[1].RangeAiding = false
	want[1].InnovCheck = ekf.InnovCheckFailStatus{RejectVelNED: true, RejectPosD: true}
	want[1].Faults = ekf.FaultStatus{BadVelN: true, BadPosD: true}
	for _, s := range want {
		require.NoError(t, r.Publish(ctx, s))
	}

	got, err := r.Snapshots(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorder_NaNStoredAsNull(t *testing.T) {
	t.Parallel()
	r, _ := openTestRecorder(t)
	ctx := context.Background()

	id, err := r.StartRun(ctx, "nan")
	require.NoError(t, err)

	snap := sampleSnapshot(5)
	snap.Innov[ekf.ChanPosD] = math.NaN()
	require.NoError(t, r.Publish(ctx, snap))

	var nulls int
	require.NoError(t, r.DB().QueryRow(
		`SELECT COUNT(*) FROM fusion_snapshots WHERE innov_pos_d IS NULL`).Scan(&nulls))
	assert.Equal(t, 1, nulls)

	got, err := r.Snapshots(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if diff := cmp.Diff(snap, got[0], cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorder_Runs(t *testing.T) {
	t.Parallel()
	r, clock := openTestRecorder(t)
	ctx := context.Background()

	first, err := r.StartRun(ctx, "first")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, sampleSnapshot(1)))
	require.NoError(t, r.Publish(ctx, sampleSnapshot(2)))

	clock.Advance(time.Minute)
	second, err := r.StartRun(ctx, "second")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	runs, err := r.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, "second", runs[0].Label)
	assert.Equal(t, 0, runs[0].Snapshots)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, 2, runs[1].Snapshots)
	assert.Equal(t, time.Minute, runs[0].Started.Sub(runs[1].Started))

	// Snapshots from different runs do not mix.
	got, err := r.Snapshots(ctx, second)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecorder_ConcurrentPublish(t *testing.T) {
	t.Parallel()
	r, _ := openTestRecorder(t)
	ctx := context.Background()

	id, err := r.StartRun(ctx, "concurrent")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, r.Publish(ctx, sampleSnapshot(uint64(i*100+j))))
			}
		}(i)
	}
	wg.Wait()

	got, err := r.Snapshots(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got, 80)
}

func TestFaultMasks(t *testing.T) {
	t.Parallel()
	var f ekf.FaultStatus
	f.BadVelE = true
	f.BadPosD = true
	f.BadState[ekf.VelE] = true
	f.BadState[ekf.WindE] = true

	ch, st := channelMask(f), stateMask(f)
	assert.Equal(t, int64(1<<1|1<<5), ch)
	assert.Equal(t, int64(1<<1|1<<13), st)
	assert.Equal(t, f, faultsFromMasks(ch, st))
}
