package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/navfusion/internal/ekf"
	"github.com/banshee-data/navfusion/internal/monitoring"
	"github.com/banshee-data/navfusion/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoRun is returned by Publish before StartRun has been called.
var ErrNoRun = errors.New("telemetry: no active run")

// Run describes one recorded replay or flight.
type Run struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Started   time.Time `json:"started"`
	Snapshots int       `json:"snapshots"`
}

// Recorder is a Sink that persists snapshots to SQLite.
type Recorder struct {
	db    *sql.DB
	clock timeutil.Clock

	mu    sync.Mutex
	runID string
}

// OpenRecorder opens (or creates) the database at path and applies pending
// migrations. A nil clock uses the wall clock.
func OpenRecorder(path string, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	r := &Recorder{db: db, clock: clock}
	if err := r.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// DB exposes the underlying handle for the debug console.
func (r *Recorder) DB() *sql.DB { return r.db }

// Close closes the database.
func (r *Recorder) Close() error { return r.db.Close() }

// MigrateUp applies all pending schema migrations. It is a no-op when the
// schema is current.
func (r *Recorder) MigrateUp() error {
	m, err := r.newMigrate()
	if err != nil {
		return err
	}
	// m.Close would close r.db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version. ok is false on an
// empty database.
func (r *Recorder) SchemaVersion() (version uint, dirty, ok bool, err error) {
	m, err := r.newMigrate()
	if err != nil {
		return 0, false, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, true, nil
}

func (r *Recorder) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return monitoring.Verbose() }

// StartRun begins a new run. Later snapshots are attributed to it.
func (r *Recorder) StartRun(ctx context.Context, label string) (string, error) {
	id := uuid.NewString()
	started := r.clock.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fusion_runs (run_id, label, started_unix_nanos) VALUES (?, ?, ?)`,
		id, label, started.UnixNano())
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}

	r.mu.Lock()
	r.runID = id
	r.mu.Unlock()

	monitoring.Logf("telemetry: started run %s (%s)", id, label)
	return id, nil
}

// RunID returns the active run, or "" before StartRun.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

const snapshotColumns = `time_us, height_source, pos_d_estimate,
	baro_measurement_d, baro_hgt_offset, range_measurement_d, hgt_sensor_offset, range_aiding,
	innov_vel_n, innov_vel_e, innov_vel_d, innov_pos_n, innov_pos_e, innov_pos_d,
	innov_var_vel_n, innov_var_vel_e, innov_var_vel_d, innov_var_pos_n, innov_var_pos_e, innov_var_pos_d,
	test_ratio_vel_n, test_ratio_vel_e, test_ratio_vel_d, test_ratio_pos_n, test_ratio_pos_e, test_ratio_pos_d,
	reject_vel_ned, reject_pos_ne, reject_pos_d, bad_channel_mask, bad_state_mask,
	last_vel_fuse_us, last_pos_fuse_us, last_delpos_fuse_us, last_hgt_fuse_us`

// Publish implements Sink.
func (r *Recorder) Publish(ctx context.Context, snap ekf.DebugSnapshot) error {
	runID := r.RunID()
	if runID == "" {
		return ErrNoRun
	}

	args := []any{
		runID,
		int64(snap.TimeUS), snap.HeightSource.String(), nullable(snap.PosDEstimate),
		nullable(snap.BaroMeasurementD), nullable(snap.BaroHgtOffset),
		nullable(snap.RangeMeasurementD), nullable(snap.HgtSensorOffset), snap.RangeAiding,
	}
	for _, arr := range [][ekf.NumChannels]float64{snap.Innov, snap.InnovVar, snap.TestRatio} {
		for _, v := range arr {
			args = append(args, nullable(v))
		}
	}
	args = append(args,
		snap.InnovCheck.RejectVelNED, snap.InnovCheck.RejectPosNE, snap.InnovCheck.RejectPosD,
		channelMask(snap.Faults), stateMask(snap.Faults),
		int64(snap.Times.LastVelFuseUS), int64(snap.Times.LastPosFuseUS),
		int64(snap.Times.LastDelPosFuseUS), int64(snap.Times.LastHgtFuseUS),
	)

	query := `INSERT INTO fusion_snapshots (run_id, ` + snapshotColumns + `)
		VALUES (?` + repeatPlaceholder(len(args)-1) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Snapshots returns every snapshot of a run in publish order.
func (r *Recorder) Snapshots(ctx context.Context, runID string) ([]ekf.DebugSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM fusion_snapshots WHERE run_id = ? ORDER BY snapshot_id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []ekf.DebugSnapshot
	for rows.Next() {
		var (
			snap                               ekf.DebugSnapshot
			timeUS                             int64
			source                             string
			posD, baroD, baroOff, rngD, sensor sql.NullFloat64
			innov, innovVar, ratio             [ekf.NumChannels]sql.NullFloat64
			chMask, stMask                     int64
			velT, posT, delPosT, hgtT          int64
		)
		dest := []any{&timeUS, &source, &posD, &baroD, &baroOff, &rngD, &sensor, &snap.RangeAiding}
		for i := range innov {
			dest = append(dest, &innov[i])
		}
		for i := range innovVar {
			dest = append(dest, &innovVar[i])
		}
		for i := range ratio {
			dest = append(dest, &ratio[i])
		}
		dest = append(dest,
			&snap.InnovCheck.RejectVelNED, &snap.InnovCheck.RejectPosNE, &snap.InnovCheck.RejectPosD,
			&chMask, &stMask, &velT, &posT, &delPosT, &hgtT)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		hs, err := ekf.ParseHeightSource(source)
		if err != nil {
			return nil, err
		}
		snap.TimeUS = uint64(timeUS)
		snap.HeightSource = hs
		snap.PosDEstimate = fromNullable(posD)
		snap.BaroMeasurementD = fromNullable(baroD)
		snap.BaroHgtOffset = fromNullable(baroOff)
		snap.RangeMeasurementD = fromNullable(rngD)
		snap.HgtSensorOffset = fromNullable(sensor)
		for i := 0; i < ekf.NumChannels; i++ {
			snap.Innov[i] = fromNullable(innov[i])
			snap.InnovVar[i] = fromNullable(innovVar[i])
			snap.TestRatio[i] = fromNullable(ratio[i])
		}
		snap.Faults = faultsFromMasks(chMask, stMask)
		snap.Times = ekf.FusionTimes{
			LastVelFuseUS:    uint64(velT),
			LastPosFuseUS:    uint64(posT),
			LastDelPosFuseUS: uint64(delPosT),
			LastHgtFuseUS:    uint64(hgtT),
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Runs lists recorded runs, newest first.
func (r *Recorder) Runs(ctx context.Context) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.run_id, r.label, r.started_unix_nanos, COUNT(s.snapshot_id)
		FROM fusion_runs r
		LEFT JOIN fusion_snapshots s ON s.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_unix_nanos DESC, r.run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run   Run
			nanos int64
		)
		if err := rows.Scan(&run.ID, &run.Label, &nanos, &run.Snapshots); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Started = time.Unix(0, nanos).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// NaN is stored as NULL.
func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func repeatPlaceholder(n int) string {
	b := make([]byte, 0, 3*n)
	for i := 0; i < n; i++ {
		b = append(b, ", ?"...)
	}
	return string(b)
}

func channelMask(f ekf.FaultStatus) int64 {
	var m int64
	for ch := ekf.ChanVelN; ch < ekf.NumChannels; ch++ {
		if f.Channel(ch) {
			m |= 1 << uint(ch)
		}
	}
	return m
}

func stateMask(f ekf.FaultStatus) int64 {
	var m int64
	for i, bad := range f.BadState {
		if bad {
			m |= 1 << uint(i)
		}
	}
	return m
}

func faultsFromMasks(chMask, stMask int64) ekf.FaultStatus {
	bit := func(m int64, i int) bool { return m&(1<<uint(i)) != 0 }
	f := ekf.FaultStatus{
		BadVelN: bit(chMask, int(ekf.ChanVelN)),
		BadVelE: bit(chMask, int(ekf.ChanVelE)),
		BadVelD: bit(chMask, int(ekf.ChanVelD)),
		BadPosN: bit(chMask, int(ekf.ChanPosN)),
		BadPosE: bit(chMask, int(ekf.ChanPosE)),
		BadPosD: bit(chMask, int(ekf.ChanPosD)),
	}
	for i := range f.BadState {
		f.BadState[i] = bit(stMask, i)
	}
	return f
}
