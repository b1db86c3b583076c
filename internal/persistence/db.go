// Package persistence records simulation runs: a SQLite database of episodes,
// per-tick agent rows and social graph snapshots, and a compressed JSONL
// trace of observations.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/socialgrid/internal/engine"
)

// DB wraps a SQLite connection for run recording.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS episodes (
		run_id TEXT NOT NULL,
		episode INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		group_count INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		returns_json TEXT NOT NULL,
		PRIMARY KEY (run_id, episode)
	);

	CREATE TABLE IF NOT EXISTS agent_steps (
		run_id TEXT NOT NULL,
		episode INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		pos_x INTEGER NOT NULL,
		pos_y INTEGER NOT NULL,
		score REAL NOT NULL,
		reward REAL NOT NULL,
		inventory_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS social_snapshots (
		run_id TEXT NOT NULL,
		episode INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		group_count INTEGER NOT NULL,
		edges INTEGER NOT NULL,
		edges_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_steps_episode ON agent_steps(run_id, episode, agent_id);
	CREATE INDEX IF NOT EXISTS idx_social_episode ON social_snapshots(run_id, episode);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run is a row of the runs table.
type Run struct {
	ID        string `db:"id"`
	Task      string `db:"task"`
	StartedAt int64  `db:"started_at"`
}

// EpisodeRow is a row of the episodes table.
type EpisodeRow struct {
	RunID      string `db:"run_id"`
	Episode    int    `db:"episode"`
	Seed       int64  `db:"seed"`
	Steps      int    `db:"steps"`
	Groups     int    `db:"group_count"`
	DurationMS int64  `db:"duration_ms"`
	Returns    string `db:"returns_json"`
}

// AgentStep is a row of the agent_steps table.
type AgentStep struct {
	Episode   int     `db:"episode"`
	Tick      int     `db:"tick"`
	AgentID   int     `db:"agent_id"`
	Name      string  `db:"name"`
	X         int     `db:"pos_x"`
	Y         int     `db:"pos_y"`
	Score     float64 `db:"score"`
	Reward    float64 `db:"reward"`
	Inventory string  `db:"inventory_json"`
}

// Recorder writes one run into the database. Its hooks match the
// engine.Runner callbacks.
type Recorder struct {
	db    *DB
	runID string
}

// NewRecorder starts a run labelled task.
func (db *DB) NewRecorder(task string) (*Recorder, error) {
	id := uuid.New().String()
	_, err := db.conn.Exec(
		"INSERT INTO runs (id, task, started_at) VALUES (?, ?, ?)",
		id, task, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	slog.Info("recording run", "run", id, "task", task)
	return &Recorder{db: db, runID: id}, nil
}

// RunID returns the identifier of the recorded run.
func (r *Recorder) RunID() string {
	return r.runID
}

// RecordStep writes the agent rows and graph snapshot for the tick g just
// finished.
func (r *Recorder) RecordStep(episode int, g *engine.Game) error {
	tx, err := r.db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO agent_steps
		(run_id, episode, tick, agent_id, name, pos_x, pos_y, score, reward, inventory_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range g.Agents {
		invJSON, _ := json.Marshal(a.Inventory.Items())
		_, err := stmt.Exec(
			r.runID, episode, g.Steps, a.ID, a.Name,
			a.Pos.X, a.Pos.Y, a.Score, a.Reward, string(invJSON),
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	edges := g.Social.Edges()
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("encode edges: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO social_snapshots
		(run_id, episode, tick, group_count, edges, edges_json) VALUES (?, ?, ?, ?, ?, ?)`,
		r.runID, episode, g.Steps, len(g.Social.Groups()), len(edges), string(edgesJSON),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	return tx.Commit()
}

// RecordEpisode writes an episode summary.
func (r *Recorder) RecordEpisode(sum engine.EpisodeSummary) error {
	returnsJSON, _ := json.Marshal(sum.Returns)
	_, err := r.db.conn.Exec(`INSERT OR REPLACE INTO episodes
		(run_id, episode, seed, steps, group_count, duration_ms, returns_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.runID, sum.Episode, sum.Seed, sum.Steps, sum.Groups,
		sum.Duration.Milliseconds(), string(returnsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert episode %d: %w", sum.Episode, err)
	}
	return nil
}

// Attach installs the recorder on runner. Write failures are logged and
// recording continues.
func (r *Recorder) Attach(runner *engine.Runner) {
	prevStep, prevEpisode := runner.OnStep, runner.OnEpisode
	runner.OnStep = func(env *engine.Environment, res *engine.StepResult, elapsed time.Duration) {
		if err := r.RecordStep(env.Episode(), env.Game()); err != nil {
			slog.Warn("record step failed", "run", r.runID, "error", err)
		}
		if prevStep != nil {
			prevStep(env, res, elapsed)
		}
	}
	runner.OnEpisode = func(sum engine.EpisodeSummary) {
		if err := r.RecordEpisode(sum); err != nil {
			slog.Warn("record episode failed", "run", r.runID, "error", err)
		}
		if prevEpisode != nil {
			prevEpisode(sum)
		}
	}
}

// Runs returns every recorded run, newest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT id, task, started_at FROM runs ORDER BY started_at DESC, id")
	return runs, err
}

// Episodes returns the episodes of a run in order.
func (db *DB) Episodes(runID string) ([]EpisodeRow, error) {
	var rows []EpisodeRow
	err := db.conn.Select(&rows,
		`SELECT run_id, episode, seed, steps, group_count, duration_ms, returns_json
		 FROM episodes WHERE run_id = ? ORDER BY episode`,
		runID,
	)
	return rows, err
}

// AgentHistory returns one agent's rows for an episode, by tick.
func (db *DB) AgentHistory(runID string, episode, agentID int) ([]AgentStep, error) {
	var rows []AgentStep
	err := db.conn.Select(&rows,
		`SELECT episode, tick, agent_id, name, pos_x, pos_y, score, reward, inventory_json
		 FROM agent_steps WHERE run_id = ? AND episode = ? AND agent_id = ? ORDER BY tick`,
		runID, episode, agentID,
	)
	return rows, err
}

// GroupCounts returns the number of groups after each tick of an episode.
func (db *DB) GroupCounts(runID string, episode int) ([]int, error) {
	var counts []int
	err := db.conn.Select(&counts,
		"SELECT group_count FROM social_snapshots WHERE run_id = ? AND episode = ? ORDER BY tick",
		runID, episode,
	)
	return counts, err
}
