/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/example/boardpulse/internal/adapters/gitlab"
    "github.com/example/boardpulse/internal/capacity"
    "github.com/example/boardpulse/internal/config"
    "github.com/example/boardpulse/internal/deps"
    "github.com/example/boardpulse/internal/domain"
    "github.com/example/boardpulse/internal/labels"
    "github.com/example/boardpulse/internal/lifecycle"
    "github.com/example/boardpulse/internal/repo"
    "github.com/example/boardpulse/internal/workflow"
    "github.com/rs/zerolog"
)

type Tracker interface {
    Issues(ctx context.Context, updatedAfter time.Time) ([]domain.Issue, []gitlab.IssueRef, error)
    Milestones(ctx context.Context) ([]domain.Milestone, error)
    Epics(ctx context.Context) ([]domain.Epic, error)
    Iterations(ctx context.Context) ([]domain.Iteration, error)
    LabelEvents(ctx context.Context, ref gitlab.IssueRef) ([]domain.LabelEvent, error)
}

type LLM interface {
    Summarize(ctx context.Context, report any) (string, error)
}

type Notifier interface {
    SendMessage(ctx context.Context, chatID int64, text string) error
    SendMessagePlain(ctx context.Context, chatID int64, text string) error
    SendMarkdownV2(ctx context.Context, chatID int64, text string) error
}

type Service struct {
    cfg     config.Config
    log     zerolog.Logger
    repo    *repo.Repository
    tracker Tracker
    llm     LLM
    tg      Notifier
}

func New(cfg config.Config, log zerolog.Logger, r *repo.Repository, tracker Tracker, llm LLM, tg Notifier) *Service {
    return &Service{cfg: cfg, log: log, repo: r, tracker: tracker, llm: llm, tg: tg}
}

// RefreshSnapshot pulls the current board state from the tracker and
// persists it. Label events fan out per issue through a small worker pool
// since GitLab only serves them per project+iid.
func (s *Service) RefreshSnapshot(ctx context.Context) error {
    runID, err := s.repo.StartJobRun(ctx, "refresh")
    if err != nil { s.log.Error().Err(err).Msg("start job run failed") }
    var refreshErr error
    defer func() {
        if runID != 0 {
            detail := ""
            if refreshErr != nil { detail = refreshErr.Error() }
            _ = s.repo.FinishJobRun(ctx, runID, refreshErr == nil, detail)
        }
    }()

    s.log.Info().Msg("refresh: start")
    issues, refs, err := s.tracker.Issues(ctx, time.Time{})
    if err != nil { refreshErr = err; return err }
    if err := s.repo.UpsertIssues(ctx, issues); err != nil { refreshErr = err; return err }

    if ms, err := s.tracker.Milestones(ctx); err != nil {
        s.log.Error().Err(err).Msg("refresh: milestones failed")
    } else if err := s.repo.UpsertMilestones(ctx, ms); err != nil {
        refreshErr = err
        return err
    }
    if es, err := s.tracker.Epics(ctx); err != nil {
        s.log.Error().Err(err).Msg("refresh: epics failed")
    } else if err := s.repo.UpsertEpics(ctx, es); err != nil {
        refreshErr = err
        return err
    }
    if its, err := s.tracker.Iterations(ctx); err != nil {
        s.log.Error().Err(err).Msg("refresh: iterations failed")
    } else if err := s.repo.UpsertIterations(ctx, its); err != nil {
        refreshErr = err
        return err
    }

    if s.cfg.GitLabFetchLabelEvents {
        events := s.fetchLabelEvents(ctx, refs)
        if err := s.repo.BulkInsertLabelEvents(ctx, events); err != nil { refreshErr = err; return err }
    }

    if err := s.repo.SetMeta(ctx, "last_refresh", time.Now().UTC().Format(time.RFC3339)); err != nil {
        s.log.Error().Err(err).Msg("refresh: meta write failed")
    }
    s.log.Info().Int("issues", len(issues)).Msg("refresh: done")
    return nil
}

func (s *Service) fetchLabelEvents(ctx context.Context, refs []gitlab.IssueRef) []domain.LabelEvent {
    workers := s.cfg.WorkersGitLab
    if workers <= 0 { workers = 6 }
    jobs := make(chan gitlab.IssueRef)
    var mu sync.Mutex
    var out []domain.LabelEvent
    var wg sync.WaitGroup
    for w := 0; w < workers; w++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for ref := range jobs {
                ev, err := s.tracker.LabelEvents(ctx, ref)
                if err != nil {
                    s.log.Error().Err(err).Int("iid", ref.IID).Msg("label events fetch failed")
                    continue
                }
                mu.Lock()
                out = append(out, ev...)
                mu.Unlock()
            }
        }()
    }
    for _, ref := range refs { jobs <- ref }
    close(jobs)
    wg.Wait()
    return out
}

// Report is the full analytics picture for one iteration, assembled from
// the pure engines over a single snapshot.
type Report struct {
    GeneratedAt time.Time         `json:"generated_at"`
    FetchedAt   time.Time         `json:"fetched_at"`
    Iteration   *domain.Iteration `json:"iteration,omitempty"`

    Summary      lifecycle.Summary                  `json:"summary"`
    Diagnostics  lifecycle.Diagnostics              `json:"diagnostics"`
    Distribution map[lifecycle.Phase]int            `json:"distribution"`
    LeadChart    lifecycle.Chart                    `json:"lead_chart"`
    CycleChart   lifecycle.Chart                    `json:"cycle_chart"`
    Bottlenecks  []lifecycle.Bottleneck             `json:"bottlenecks"`
    Capacity     capacity.Result                    `json:"capacity"`
    Proposals    []capacity.Proposal                `json:"proposals,omitempty"`
    Dependencies deps.Graph                         `json:"dependencies"`
    Workflow     workflow.Detection                 `json:"workflow"`
    Suggestions  []workflow.MemberRecommendation    `json:"suggestions,omitempty"`
    Efficiency   float64                            `json:"efficiency_score"`
}

// BuildReport loads the cached snapshot and runs every engine over it.
// iterationID selects a sprint; zero picks the iteration whose date range
// contains now, falling back to no sprint filter.
func (s *Service) BuildReport(ctx context.Context, iterationID int) (*Report, error) {
    snap, err := s.repo.LoadSnapshot(ctx)
    if err != nil { return nil, err }
    now := time.Now().UTC()
    rep := s.buildReport(snap, iterationID, now)
    return rep, nil
}

// buildReport is the pure assembly step, separated so tests can feed it
// snapshots directly.
func (s *Service) buildReport(snap domain.Snapshot, iterationID int, now time.Time) *Report {
    cfg := s.lifecycleConfig()
    records, diag := lifecycle.Classify(snap.Issues, snap.LabelEvents, cfg, now)

    dist := map[lifecycle.Phase]int{}
    for phase, group := range lifecycle.Distribution(records) {
        dist[phase] = len(group)
    }

    iteration := selectIteration(snap.Iterations, iterationID, now)
    team := s.cfg.Team
    capResult := capacity.Compute(snap.Issues, iteration, team.Members, team.Absences, team.Policy, now)
    proposals := capacity.Rebalance(capResult, s.roleTable())

    sprintIssues := snap.Issues
    if iteration != nil {
        sprintIssues = issuesInIteration(snap.Issues, iteration.ID)
    }
    detection := workflow.DetectPhase(sprintIssues)
    caps := workflow.DefaultCapabilities()
    suggestions := workflow.Recommend(capResult, detection, backlogIssues(records), caps)

    return &Report{
        GeneratedAt:  now,
        FetchedAt:    snap.FetchedAt,
        Iteration:    iteration,
        Summary:      lifecycle.Summarize(records),
        Diagnostics:  diag,
        Distribution: dist,
        LeadChart:    lifecycle.ControlChart(records, lifecycle.MetricLead),
        CycleChart:   lifecycle.ControlChart(records, lifecycle.MetricCycle),
        Bottlenecks:  lifecycle.Bottlenecks(records, cfg),
        Capacity:     capResult,
        Proposals:    proposals,
        Dependencies: deps.Build(snap.Issues, now),
        Workflow:     detection,
        Suggestions:  suggestions,
        Efficiency:   workflow.EfficiencyScore(team.Members, detection.Phase, caps),
    }
}

func (s *Service) lifecycleConfig() lifecycle.Config {
    cfg := lifecycle.DefaultConfig()
    if a := s.cfg.Team.Alpha; a > 0 && a < 1 { cfg.Alpha = a }
    return cfg
}

func (s *Service) roleTable() capacity.RoleTable {
    if len(s.cfg.Team.RoleTable) > 0 {
        return capacity.RoleTable(s.cfg.Team.RoleTable)
    }
    return capacity.DefaultRoleTable()
}

// selectIteration resolves the sprint to analyze: an explicit id wins,
// otherwise the iteration whose dates contain now.
func selectIteration(iterations []domain.Iteration, id int, now time.Time) *domain.Iteration {
    for i := range iterations {
        if id != 0 && iterations[i].ID == id {
            return &iterations[i]
        }
    }
    if id != 0 { return nil }
    for i := range iterations {
        it := iterations[i]
        if it.StartDate == nil || it.DueDate == nil { continue }
        if !now.Before(*it.StartDate) && !now.After(it.DueDate.AddDate(0, 0, 1)) {
            return &iterations[i]
        }
    }
    return nil
}

func issuesInIteration(issues []domain.Issue, iterationID int) []domain.Issue {
    var out []domain.Issue
    for _, issue := range issues {
        if issue.Iteration != nil && issue.Iteration.ID == iterationID {
            out = append(out, issue)
        }
    }
    return out
}

// backlogIssues are the open, unassigned issues still in backlog-ish
// phases; they feed the workflow engine's pickup suggestions.
func backlogIssues(records []lifecycle.Record) []domain.Issue {
    var out []domain.Issue
    for _, r := range records {
        if r.Issue.Closed() || len(r.Issue.Assignees) > 0 { continue }
        switch r.Phase {
        case lifecycle.PhaseBacklog, lifecycle.PhaseRefinement, lifecycle.PhaseReady:
            out = append(out, r.Issue)
        }
    }
    sort.SliceStable(out, func(i, j int) bool { return out[i].IID < out[j].IID })
    return out
}

// reportMetrics flattens the report into the KPI rows the digest compares
// week over week.
func reportMetrics(rep *Report) map[string]float64 {
    m := map[string]float64{
        "lead_time_days_avg":    rep.Summary.AvgLead,
        "cycle_time_days_avg":   rep.Summary.AvgCycle,
        "wait_time_days_avg":    rep.Summary.AvgWait,
        "lead_time_days_median": rep.Summary.MedianLead,
        "closed_count":          float64(rep.Summary.Count),
        "blocked_count":         float64(rep.Dependencies.Stats.BlockedCount),
        "cycle_pairs":           float64(rep.Dependencies.Stats.CycleCount),
        "overloaded_count":      float64(rep.Capacity.Team.OverloadedCount),
        "avg_utilization":       rep.Capacity.Team.AvgUtilization,
        "efficiency_score":      rep.Efficiency,
    }
    wip := 0
    for phase, n := range rep.Distribution {
        if phase != lifecycle.PhaseBacklog { wip += n }
    }
    m["wip_count"] = float64(wip)
    return m
}

// RunWeeklyDigest refreshes the snapshot, rebuilds the report, persists
// the week's KPIs with deltas against last week, and delivers the digest.
func (s *Service) RunWeeklyDigest(ctx context.Context) error {
    s.log.Info().Msg("WeeklyDigest: start")
    if err := s.RefreshSnapshot(ctx); err != nil {
        s.log.Error().Err(err).Msg("WeeklyDigest: refresh failed, reporting from cache")
    }
    rep, err := s.BuildReport(ctx, 0)
    if err != nil { return err }

    ws := weekStart(time.Now())
    metrics := reportMetrics(rep)
    if err := s.repo.SaveReportMetrics(ctx, ws, metrics); err != nil {
        s.log.Error().Err(err).Msg("WeeklyDigest: metrics save failed")
    }
    prev, _ := s.repo.LoadReportMetrics(ctx, ws.Add(-7*24*time.Hour))
    deltas := map[string]float64{}
    for k, v := range metrics {
        if pv, ok := prev[k]; ok { deltas[k] = v - pv }
    }

    narrative := ""
    if s.llm != nil && strings.TrimSpace(s.cfg.OpenAIKey) != "" {
        if text, err := s.llm.Summarize(ctx, rep); err != nil {
            s.log.Error().Err(err).Msg("WeeklyDigest: llm summary failed")
        } else {
            narrative = text
        }
    }

    digest := renderDigest(rep, deltas, narrative)
    s.deliver(ctx, digest)
    s.log.Info().Time("weekStart", ws).Msg("WeeklyDigest: done")
    return nil
}

// RunOnDemandDigest builds a fresh report from the cache and sends it to
// the requesting chat.
func (s *Service) RunOnDemandDigest(ctx context.Context, chatID int64) error {
    if chatID == 0 { return nil }
    rep, err := s.BuildReport(ctx, 0)
    if err != nil { return err }
    return s.tg.SendMarkdownV2(ctx, chatID, renderDigest(rep, nil, ""))
}

func (s *Service) SendHelp(ctx context.Context, chatID int64) error {
    help := "*BoardPulse*\n" +
        "/report — current sprint report\n" +
        "/help — this message"
    return s.tg.SendMessage(ctx, chatID, help)
}

func (s *Service) GetLastRun(ctx context.Context) (any, error) {
    return s.repo.LastJobRun(ctx, "refresh")
}

func (s *Service) deliver(ctx context.Context, digest string) {
    for _, chat := range s.cfg.TelegramChatIDs {
        if err := s.tg.SendMarkdownV2(ctx, chat, digest); err != nil {
            s.log.Error().Err(err).Int64("chat", chat).Msg("telegram send failed")
        }
    }
    type usernameResolver interface {
        ResolveUsername(ctx context.Context, username string) (int64, error)
    }
    if len(s.cfg.TelegramChatIDs) == 0 && len(s.cfg.TelegramChatUsernames) > 0 {
        if r, ok := s.tg.(usernameResolver); ok {
            for _, u := range s.cfg.TelegramChatUsernames {
                id, err := r.ResolveUsername(ctx, u)
                if err != nil { s.log.Error().Err(err).Str("username", u).Msg("resolve username failed"); continue }
                if err := s.tg.SendMarkdownV2(ctx, id, digest); err != nil {
                    s.log.Error().Err(err).Int64("chat", id).Msg("telegram send failed")
                }
            }
        } else {
            s.log.Error().Msg("telegram client does not support username resolution; set TELEGRAM_CHAT_IDS")
        }
    }
}

// weekStart normalizes to Monday 00:00 UTC.
func weekStart(t time.Time) time.Time {
    t = t.UTC()
    wd := (int(t.Weekday()) + 6) % 7
    day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
    return day.AddDate(0, 0, -wd)
}

// mdv2Escaper covers every character MarkdownV2 treats as syntax.
var mdv2Escaper = strings.NewReplacer(
    "_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
    "~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
    "=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

func escapeMDV2(s string) string { return mdv2Escaper.Replace(s) }

func delta(deltas map[string]float64, key string) string {
    d, ok := deltas[key]
    if !ok { return "" }
    return escapeMDV2(fmt.Sprintf(" (Δ%+.1f)", d))
}

func renderDigest(rep *Report, deltas map[string]float64, narrative string) string {
    var b strings.Builder
    b.WriteString("*BoardPulse weekly report*\n")
    if rep.Iteration != nil {
        b.WriteString(escapeMDV2(fmt.Sprintf("Sprint: %s\n", labels.IterationName(rep.Iteration))))
    }
    b.WriteString(escapeMDV2(fmt.Sprintf("Phase: %s (%.0f%% complete)\n", rep.Workflow.Phase, rep.Workflow.CompletionPercent)))
    b.WriteString("\n*Flow*\n")
    b.WriteString(escapeMDV2(fmt.Sprintf("Lead avg: %.1fd", rep.Summary.AvgLead)) + delta(deltas, "lead_time_days_avg") + "\n")
    b.WriteString(escapeMDV2(fmt.Sprintf("Cycle avg: %.1fd", rep.Summary.AvgCycle)) + delta(deltas, "cycle_time_days_avg") + "\n")
    b.WriteString(escapeMDV2(fmt.Sprintf("Closed: %d", rep.Summary.Count)) + delta(deltas, "closed_count") + "\n")
    if len(rep.Bottlenecks) > 0 {
        b.WriteString("\n*Bottlenecks*\n")
        for _, bn := range rep.Bottlenecks {
            b.WriteString(escapeMDV2(fmt.Sprintf("%s: %d issues, %.1fd avg (%s)\n", bn.Phase, bn.Count, bn.AvgDays, bn.Severity)))
        }
    }
    b.WriteString("\n*Capacity*\n")
    b.WriteString(escapeMDV2(fmt.Sprintf("Avg utilization: %.0f%%", rep.Capacity.Team.AvgUtilization)) + delta(deltas, "avg_utilization") + "\n")
    b.WriteString(escapeMDV2(fmt.Sprintf("Overloaded: %d\n", rep.Capacity.Team.OverloadedCount)))
    for _, p := range rep.Proposals {
        b.WriteString(escapeMDV2("• "+p.Note) + "\n")
    }
    if rep.Dependencies.Stats.BlockedCount > 0 || rep.Dependencies.Stats.CycleCount > 0 {
        b.WriteString("\n*Dependencies*\n")
        b.WriteString(escapeMDV2(fmt.Sprintf("Blocked: %d (high: %d), cycles: %d\n",
            rep.Dependencies.Stats.BlockedCount, rep.Dependencies.Stats.HighSeverity, rep.Dependencies.Stats.CycleCount)))
    }
    if narrative != "" {
        b.WriteString("\n*Summary*\n")
        b.WriteString(escapeMDV2(narrative) + "\n")
    }
    return b.String()
}

