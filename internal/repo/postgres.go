/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    "github.com/example/boardpulse/internal/config"
    "github.com/example/boardpulse/internal/domain"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
    db  *DB
    log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

// EnsureSchema creates the snapshot tables when missing. The service owns
// its schema; there is no separate migration step for a cache this small.
func (r *Repository) EnsureSchema(ctx context.Context) error {
    const ddl = `
        CREATE TABLE IF NOT EXISTS issues(
            iid INT PRIMARY KEY,
            title TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL DEFAULT 'opened',
            labels TEXT[] NOT NULL DEFAULT '{}',
            assignees JSONB NOT NULL DEFAULT '[]',
            epic_id INT NOT NULL DEFAULT 0,
            milestone_id INT NOT NULL DEFAULT 0,
            iteration JSONB,
            weight INT NOT NULL DEFAULT 0,
            due_date DATE,
            created_at TIMESTAMPTZ,
            updated_at TIMESTAMPTZ,
            closed_at TIMESTAMPTZ,
            description TEXT NOT NULL DEFAULT '',
            web_url TEXT NOT NULL DEFAULT ''
        );
        CREATE TABLE IF NOT EXISTS label_events(
            issue_iid INT NOT NULL,
            action TEXT NOT NULL,
            label TEXT NOT NULL,
            at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (issue_iid, action, label, at)
        );
        CREATE TABLE IF NOT EXISTS milestones(
            id INT PRIMARY KEY,
            title TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL DEFAULT '',
            start_date DATE,
            due_date DATE
        );
        CREATE TABLE IF NOT EXISTS epics(
            id INT PRIMARY KEY,
            title TEXT NOT NULL DEFAULT '',
            start_date DATE,
            end_date DATE
        );
        CREATE TABLE IF NOT EXISTS iterations(
            id INT PRIMARY KEY,
            title TEXT NOT NULL DEFAULT '',
            start_date DATE,
            due_date DATE
        );
        CREATE TABLE IF NOT EXISTS report_metrics(
            week_start DATE NOT NULL,
            name TEXT NOT NULL,
            value DOUBLE PRECISION NOT NULL,
            PRIMARY KEY (week_start, name)
        );
        CREATE TABLE IF NOT EXISTS job_runs(
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ,
            ok BOOLEAN,
            detail TEXT NOT NULL DEFAULT ''
        );
        CREATE TABLE IF NOT EXISTS meta(
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`
    _, err := r.db.Pool.Exec(ctx, ddl)
    return err
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
    return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

func (r *Repository) UpsertIssues(ctx context.Context, issues []domain.Issue) error {
    if len(issues) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `
        INSERT INTO issues(iid, title, state, labels, assignees, epic_id, milestone_id,
            iteration, weight, due_date, created_at, updated_at, closed_at, description, web_url)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT(iid) DO UPDATE SET
            title=EXCLUDED.title,
            state=EXCLUDED.state,
            labels=EXCLUDED.labels,
            assignees=EXCLUDED.assignees,
            epic_id=EXCLUDED.epic_id,
            milestone_id=EXCLUDED.milestone_id,
            iteration=EXCLUDED.iteration,
            weight=EXCLUDED.weight,
            due_date=EXCLUDED.due_date,
            created_at=EXCLUDED.created_at,
            updated_at=EXCLUDED.updated_at,
            closed_at=EXCLUDED.closed_at,
            description=EXCLUDED.description,
            web_url=EXCLUDED.web_url`
    for _, i := range issues {
        assignees, _ := json.Marshal(i.Assignees)
        var iteration any
        if i.Iteration != nil {
            b, _ := json.Marshal(i.Iteration)
            iteration = b
        }
        batch.Queue(q, i.IID, i.Title, i.State, i.Labels, assignees, i.EpicID, i.MilestoneID,
            iteration, i.Weight, i.DueDate, nullTime(i.CreatedAt), nullTime(i.UpdatedAt), i.ClosedAt, i.Description, i.WebURL)
    }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range issues { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

func nullTime(t time.Time) any {
    if t.IsZero() { return nil }
    return t
}

func (r *Repository) BulkInsertLabelEvents(ctx context.Context, events []domain.LabelEvent) error {
    if len(events) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO label_events(issue_iid, action, label, at)
        VALUES($1,$2,$3,$4)
        ON CONFLICT (issue_iid, action, label, at) DO NOTHING`
    for _, e := range events {
        batch.Queue(q, e.IssueIID, e.Action, e.Label, e.At)
    }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range events { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

func (r *Repository) UpsertMilestones(ctx context.Context, ms []domain.Milestone) error {
    if len(ms) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO milestones(id, title, state, start_date, due_date)
        VALUES($1,$2,$3,$4,$5)
        ON CONFLICT(id) DO UPDATE SET title=EXCLUDED.title, state=EXCLUDED.state,
            start_date=EXCLUDED.start_date, due_date=EXCLUDED.due_date`
    for _, m := range ms { batch.Queue(q, m.ID, m.Title, m.State, m.StartDate, m.DueDate) }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range ms { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

func (r *Repository) UpsertEpics(ctx context.Context, es []domain.Epic) error {
    if len(es) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO epics(id, title, start_date, end_date)
        VALUES($1,$2,$3,$4)
        ON CONFLICT(id) DO UPDATE SET title=EXCLUDED.title,
            start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date`
    for _, e := range es { batch.Queue(q, e.ID, e.Title, e.StartDate, e.EndDate) }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range es { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

func (r *Repository) UpsertIterations(ctx context.Context, its []domain.Iteration) error {
    if len(its) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO iterations(id, title, start_date, due_date)
        VALUES($1,$2,$3,$4)
        ON CONFLICT(id) DO UPDATE SET title=EXCLUDED.title,
            start_date=EXCLUDED.start_date, due_date=EXCLUDED.due_date`
    for _, it := range its { batch.Queue(q, it.ID, it.Title, it.StartDate, it.DueDate) }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range its { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

// LoadSnapshot rebuilds the full analytics input from the cache tables.
func (r *Repository) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
    var snap domain.Snapshot

    rows, err := r.db.Pool.Query(ctx, `SELECT iid, title, state, labels, assignees, epic_id,
        milestone_id, iteration, weight, due_date, created_at, updated_at, closed_at, description, web_url
        FROM issues ORDER BY iid`)
    if err != nil { return snap, err }
    defer rows.Close()
    for rows.Next() {
        var i domain.Issue
        var assignees []byte
        var iteration []byte
        var created, updated *time.Time
        if err := rows.Scan(&i.IID, &i.Title, &i.State, &i.Labels, &assignees, &i.EpicID,
            &i.MilestoneID, &iteration, &i.Weight, &i.DueDate, &created, &updated, &i.ClosedAt, &i.Description, &i.WebURL); err != nil {
            return snap, err
        }
        if created != nil { i.CreatedAt = *created }
        if updated != nil { i.UpdatedAt = *updated }
        if len(assignees) > 0 { _ = json.Unmarshal(assignees, &i.Assignees) }
        if len(iteration) > 0 {
            var it domain.Iteration
            if json.Unmarshal(iteration, &it) == nil { i.Iteration = &it }
        }
        snap.Issues = append(snap.Issues, i)
    }
    if err := rows.Err(); err != nil { return snap, err }

    mrows, err := r.db.Pool.Query(ctx, `SELECT id, title, state, start_date, due_date FROM milestones ORDER BY id`)
    if err != nil { return snap, err }
    defer mrows.Close()
    for mrows.Next() {
        var m domain.Milestone
        if err := mrows.Scan(&m.ID, &m.Title, &m.State, &m.StartDate, &m.DueDate); err != nil { return snap, err }
        snap.Milestones = append(snap.Milestones, m)
    }

    erows, err := r.db.Pool.Query(ctx, `SELECT id, title, start_date, end_date FROM epics ORDER BY id`)
    if err != nil { return snap, err }
    defer erows.Close()
    for erows.Next() {
        var e domain.Epic
        if err := erows.Scan(&e.ID, &e.Title, &e.StartDate, &e.EndDate); err != nil { return snap, err }
        snap.Epics = append(snap.Epics, e)
    }

    irows, err := r.db.Pool.Query(ctx, `SELECT id, title, start_date, due_date FROM iterations ORDER BY id`)
    if err != nil { return snap, err }
    defer irows.Close()
    for irows.Next() {
        var it domain.Iteration
        if err := irows.Scan(&it.ID, &it.Title, &it.StartDate, &it.DueDate); err != nil { return snap, err }
        snap.Iterations = append(snap.Iterations, it)
    }

    lrows, err := r.db.Pool.Query(ctx, `SELECT issue_iid, action, label, at FROM label_events ORDER BY at`)
    if err != nil { return snap, err }
    defer lrows.Close()
    for lrows.Next() {
        var e domain.LabelEvent
        if err := lrows.Scan(&e.IssueIID, &e.Action, &e.Label, &e.At); err != nil { return snap, err }
        snap.LabelEvents = append(snap.LabelEvents, e)
    }

    if ts, err := r.GetMeta(ctx, "last_refresh"); err == nil && ts != "" {
        if t, perr := time.Parse(time.RFC3339, ts); perr == nil { snap.FetchedAt = t }
    }
    return snap, nil
}

func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
    _, err := r.db.Pool.Exec(ctx, `INSERT INTO meta(key, value) VALUES($1,$2)
        ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`, key, value)
    return err
}

func (r *Repository) GetMeta(ctx context.Context, key string) (string, error) {
    var v string
    err := r.db.Pool.QueryRow(ctx, `SELECT value FROM meta WHERE key=$1`, key).Scan(&v)
    if errors.Is(err, pgx.ErrNoRows) { return "", nil }
    return v, err
}

// SaveReportMetrics persists the week's KPI values so the next digest can
// show week-over-week deltas.
func (r *Repository) SaveReportMetrics(ctx context.Context, weekStart time.Time, metrics map[string]float64) error {
    if len(metrics) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO report_metrics(week_start, name, value) VALUES($1,$2,$3)
        ON CONFLICT (week_start, name) DO UPDATE SET value=EXCLUDED.value`
    for name, value := range metrics {
        batch.Queue(q, weekStart, name, value)
    }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range metrics { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

func (r *Repository) LoadReportMetrics(ctx context.Context, weekStart time.Time) (map[string]float64, error) {
    rows, err := r.db.Pool.Query(ctx, `SELECT name, value FROM report_metrics WHERE week_start=$1`, weekStart)
    if err != nil { return nil, err }
    defer rows.Close()
    out := map[string]float64{}
    for rows.Next() {
        var name string
        var value float64
        if err := rows.Scan(&name, &value); err != nil { return nil, err }
        out[name] = value
    }
    return out, rows.Err()
}

func (r *Repository) StartJobRun(ctx context.Context, kind string) (int64, error) {
    var id int64
    err := r.db.Pool.QueryRow(ctx, `INSERT INTO job_runs(kind, started_at) VALUES($1, now()) RETURNING id`, kind).Scan(&id)
    return id, err
}

func (r *Repository) FinishJobRun(ctx context.Context, id int64, ok bool, detail string) error {
    _, err := r.db.Pool.Exec(ctx, `UPDATE job_runs SET finished_at=now(), ok=$2, detail=$3 WHERE id=$1`, id, ok, detail)
    return err
}

type JobRun struct {
    ID         int64      `json:"id"`
    Kind       string     `json:"kind"`
    StartedAt  time.Time  `json:"started_at"`
    FinishedAt *time.Time `json:"finished_at,omitempty"`
    OK         *bool      `json:"ok,omitempty"`
    Detail     string     `json:"detail,omitempty"`
}

func (r *Repository) LastJobRun(ctx context.Context, kind string) (*JobRun, error) {
    var jr JobRun
    err := r.db.Pool.QueryRow(ctx, `SELECT id, kind, started_at, finished_at, ok, detail
        FROM job_runs WHERE kind=$1 ORDER BY started_at DESC LIMIT 1`, kind).
        Scan(&jr.ID, &jr.Kind, &jr.StartedAt, &jr.FinishedAt, &jr.OK, &jr.Detail)
    if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return &jr, nil
}
