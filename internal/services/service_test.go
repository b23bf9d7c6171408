/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "strings"
    "testing"
    "time"

    "github.com/example/boardpulse/internal/config"
    "github.com/example/boardpulse/internal/domain"
    "github.com/example/boardpulse/internal/lifecycle"
)

func TestWeekStart(t *testing.T) {
    cases := []struct {
        in   time.Time
        want time.Time
    }{
        {time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC), time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)}, // Monday
        {time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC), time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)}, // Friday
        {time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC), time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)},  // Sunday
    }
    for _, c := range cases {
        if got := weekStart(c.in); !got.Equal(c.want) {
            t.Errorf("weekStart(%v) = %v, want %v", c.in, got, c.want)
        }
    }
}

func TestSelectIteration(t *testing.T) {
    now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
    d := func(y int, m time.Month, day int) *time.Time {
        t := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
        return &t
    }
    iterations := []domain.Iteration{
        {ID: 1, Title: "Sprint 41", StartDate: d(2026, 8, 10), DueDate: d(2026, 8, 21)},
        {ID: 2, Title: "Sprint 42", StartDate: d(2026, 8, 24), DueDate: d(2026, 9, 4)},
    }

    if it := selectIteration(iterations, 1, now); it == nil || it.ID != 1 {
        t.Fatalf("explicit id should win, got %+v", it)
    }
    if it := selectIteration(iterations, 0, now); it == nil || it.ID != 2 {
        t.Fatalf("current iteration should contain now, got %+v", it)
    }
    if it := selectIteration(iterations, 99, now); it != nil {
        t.Fatalf("unknown id should yield nil, got %+v", it)
    }
    if it := selectIteration(nil, 0, now); it != nil {
        t.Fatalf("no iterations should yield nil, got %+v", it)
    }
}

func TestEscapeMDV2(t *testing.T) {
    in := "Lead avg: 6.5d (up!)"
    out := escapeMDV2(in)
    for _, ch := range []string{"\\.", "\\(", "\\)", "\\!"} {
        if !strings.Contains(out, ch) {
            t.Errorf("escaped output missing %q: %s", ch, out)
        }
    }
}

func testSnapshot(now time.Time) domain.Snapshot {
    start := now.AddDate(0, 0, -2)
    due := now.AddDate(0, 0, 9)
    it := domain.Iteration{ID: 7, Title: "Sprint 42", StartDate: &start, DueDate: &due}
    closedAt := now.AddDate(0, 0, -1)
    created := now.AddDate(0, 0, -11)
    return domain.Snapshot{
        Issues: []domain.Issue{
            {IID: 1, Title: "implement payment feature", State: domain.StateOpened,
                Labels:    []string{"status::in progress"},
                Assignees: []domain.User{{Username: "alice"}},
                Weight:    3, CreatedAt: created, UpdatedAt: now,
                Iteration: &it},
            {IID: 2, Title: "test checkout regression", State: domain.StateOpened,
                Labels:    []string{"status::in testing"},
                Assignees: []domain.User{{Username: "bob"}},
                CreatedAt: created, UpdatedAt: now, Iteration: &it},
            {IID: 3, Title: "shipped thing", State: domain.StateClosed,
                CreatedAt: created, UpdatedAt: now, ClosedAt: &closedAt, Iteration: &it},
            {IID: 4, Title: "research caching spike", State: domain.StateOpened,
                CreatedAt: created, UpdatedAt: now},
        },
        Iterations: []domain.Iteration{it},
        FetchedAt:  now.Add(-time.Hour),
    }
}

func TestBuildReport(t *testing.T) {
    now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
    hrs := func(v float64) *float64 { return &v }
    cfg := config.Config{}
    cfg.Team.Members = []domain.TeamMember{
        {Username: "alice", Role: "Developer", WeeklyCapacity: hrs(40)},
        {Username: "bob", Role: "QA Engineer", WeeklyCapacity: hrs(40)},
    }
    cfg.Team.Policy = domain.CapacityPolicy{HoursPerStoryPoint: 8, DefaultHoursPerIssue: 4, DefaultWeeklyCapacity: 40}
    svc := &Service{cfg: cfg}

    rep := svc.buildReport(testSnapshot(now), 0, now)

    if rep.Iteration == nil || rep.Iteration.ID != 7 {
        t.Fatalf("expected current iteration 7, got %+v", rep.Iteration)
    }
    if rep.Summary.Count != 1 {
        t.Errorf("expected 1 closed record in summary, got %d", rep.Summary.Count)
    }
    if got := rep.Distribution[lifecycle.PhaseInProgress]; got != 1 {
        t.Errorf("expected 1 issue in progress, got %d", got)
    }
    if len(rep.Capacity.Members) != 2 {
        t.Fatalf("expected 2 member loads, got %d", len(rep.Capacity.Members))
    }
    if rep.Workflow.Phase == "" {
        t.Error("expected a detected workflow phase")
    }
    if rep.FetchedAt.IsZero() {
        t.Error("expected snapshot fetch time to carry through")
    }
}

func TestReportMetricsWIPExcludesBacklog(t *testing.T) {
    rep := &Report{
        Distribution: map[lifecycle.Phase]int{
            lifecycle.PhaseBacklog:    5,
            lifecycle.PhaseInProgress: 2,
            lifecycle.PhaseInTesting:  1,
        },
    }
    m := reportMetrics(rep)
    if m["wip_count"] != 3 {
        t.Errorf("wip_count = %v, want 3", m["wip_count"])
    }
}

func TestRenderDigestIterationName(t *testing.T) {
    start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
    due := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
    rep := &Report{Iteration: &domain.Iteration{ID: 7, StartDate: &start, DueDate: &due}}
    digest := renderDigest(rep, nil, "")
    // title-less iterations render as their date range, not a numeric id
    if !strings.Contains(digest, "2 Mar – 13 Mar 2026") {
        t.Fatalf("iteration date range missing: %s", digest)
    }
}

func TestRenderDigestEscapesMetrics(t *testing.T) {
    rep := &Report{Summary: lifecycle.Summary{AvgLead: 6.5, AvgCycle: 4.2, Count: 3}}
    rep.Workflow.Phase = "implementation"
    digest := renderDigest(rep, map[string]float64{"lead_time_days_avg": -1.5}, "")
    if !strings.Contains(digest, "*BoardPulse weekly report*") {
        t.Fatalf("missing header: %s", digest)
    }
    if !strings.Contains(digest, "6\\.5d") {
        t.Errorf("metric not escaped for MarkdownV2: %s", digest)
    }
    if !strings.Contains(digest, "Δ\\-1\\.5") {
        t.Errorf("delta not rendered/escaped: %s", digest)
    }
}
