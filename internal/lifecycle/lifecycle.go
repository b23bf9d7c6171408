// Package lifecycle reconstructs each issue's workflow phase and time
// metrics from labels, state and (when available) label-change history.
// Everything here is pure: callers pass a snapshot and a clock value.
package lifecycle

import (
    "math"
    "sort"
    "strings"
    "time"

    "github.com/example/boardpulse/internal/domain"
)

type Phase string

const (
    PhaseBacklog         Phase = "backlog"
    PhaseDiscovery       Phase = "discovery"
    PhaseAnalysis        Phase = "analysis"
    PhaseRefinement      Phase = "refinement"
    PhaseReady           Phase = "ready"
    PhaseInProgress      Phase = "in-progress"
    PhaseInReview        Phase = "in-review"
    PhaseInTesting       Phase = "in-testing"
    PhaseAwaitingRelease Phase = "awaiting-release"
    PhaseReleased        Phase = "released"
    PhaseDone            Phase = "done"
    PhaseCancelled       Phase = "cancelled"
)

// Phases lists every phase in declaration order; distribution and
// bottleneck outputs follow this ordering.
var Phases = []Phase{
    PhaseBacklog, PhaseDiscovery, PhaseAnalysis, PhaseRefinement, PhaseReady,
    PhaseInProgress, PhaseInReview, PhaseInTesting, PhaseAwaitingRelease,
    PhaseReleased, PhaseDone, PhaseCancelled,
}

// Estimation quality of the cycle/wait split.
const (
    EstimationAccurate  = "accurate"
    EstimationEstimated = "estimated"
)

// KeywordRule maps a label substring to a phase.
type KeywordRule struct {
    Term  string
    Phase Phase
}

// Config carries the label conventions and tuning knobs. Classification is
// a rule pipeline over these tables, not a type hierarchy; teams with other
// conventions override the tables.
type Config struct {
    // StatusLabels maps exact (lowercased) scoped labels to phases.
    StatusLabels map[string]Phase
    // Keywords maps substrings to phases when no status label matches.
    // Rules are checked in order; the first match wins.
    Keywords []KeywordRule
    // CancelTerms and ReleaseTerms refine closed-issue classification.
    CancelTerms  []string
    ReleaseTerms []string
    // Alpha is the wait-time fraction of lead time assumed when label
    // history is absent. Records computed this way carry
    // Estimation == EstimationEstimated.
    Alpha float64
    // Bottleneck thresholds: a phase is flagged when it holds at least
    // BottleneckMinCount open issues averaging BottleneckMinAvgDays dwell.
    BottleneckMinCount   int
    BottleneckMinAvgDays float64
}

func DefaultConfig() Config {
    return Config{
        StatusLabels: map[string]Phase{
            "status::in discovery":        PhaseDiscovery,
            "status::in analysis":         PhaseAnalysis,
            "status::awaiting refinement": PhaseRefinement,
            "status::ready for work":      PhaseReady,
            "status::in progress":         PhaseInProgress,
            "status::in review":           PhaseInReview,
            "status::in testing":          PhaseInTesting,
            "status::awaiting release":    PhaseAwaitingRelease,
        },
        Keywords: []KeywordRule{
            {"wip", PhaseInProgress},
            {"progress", PhaseInProgress},
            {"review", PhaseInTesting},
            {"testing", PhaseInTesting},
        },
        CancelTerms:          []string{"cancel", "won't do", "wontfix", "invalid", "duplicate"},
        ReleaseTerms:         []string{"released", "awaiting release"},
        Alpha:                0.3,
        BottleneckMinCount:   5,
        BottleneckMinAvgDays: 7,
    }
}

// startedPhases are the phases whose entry marks start-of-work.
var startedPhases = map[Phase]bool{
    PhaseInProgress:      true,
    PhaseInReview:        true,
    PhaseInTesting:       true,
    PhaseAwaitingRelease: true,
}

// Record is the derived lifecycle view of one issue. Lead/cycle/wait are
// whole calendar days (UTC) and only closed issues carry them.
type Record struct {
    IID         int          `json:"iid"`
    Issue       domain.Issue `json:"-"`
    Phase       Phase        `json:"phase"`
    LeadDays    *int         `json:"lead_days,omitempty"`
    CycleDays   *int         `json:"cycle_days,omitempty"`
    WaitDays    *int         `json:"wait_days,omitempty"`
    InPhaseDays float64      `json:"in_phase_days"`
    Estimation  string       `json:"estimation"`
}

// Diagnostics counts records the engine could not fully trust. Nothing
// here is fatal; malformed issues stay in distributions with zeroed times.
type Diagnostics struct {
    MissingTimestamps    int `json:"missing_timestamps"`
    InconsistentClosedAt int `json:"inconsistent_closed_at"`
}

// ClassifyPhase maps a single issue to exactly one phase. Closed issues
// resolve through cancel/release terms; open issues through the status
// label table (exact match first, then substring), then keyword fallback,
// then backlog.
func (c Config) ClassifyPhase(issue domain.Issue) Phase {
    if issue.Closed() {
        for _, l := range issue.Labels {
            ll := strings.ToLower(l)
            for _, term := range c.CancelTerms {
                if strings.Contains(ll, term) { return PhaseCancelled }
            }
        }
        for _, l := range issue.Labels {
            ll := strings.ToLower(l)
            for _, term := range c.ReleaseTerms {
                if strings.Contains(ll, term) { return PhaseReleased }
            }
        }
        return PhaseDone
    }
    for _, l := range issue.Labels {
        if p, ok := c.StatusLabels[strings.ToLower(strings.TrimSpace(l))]; ok {
            return p
        }
    }
    statusKeys := make([]string, 0, len(c.StatusLabels))
    for k := range c.StatusLabels {
        statusKeys = append(statusKeys, k)
    }
    sort.Strings(statusKeys)
    for _, l := range issue.Labels {
        ll := strings.ToLower(l)
        for _, key := range statusKeys {
            if strings.Contains(ll, key) { return c.StatusLabels[key] }
        }
    }
    for _, l := range issue.Labels {
        ll := strings.ToLower(l)
        for _, r := range c.Keywords {
            if strings.Contains(ll, r.Term) { return r.Phase }
        }
    }
    return PhaseBacklog
}

// Classify derives a lifecycle record per issue. history may be nil; the
// cycle/wait split is then estimated via Config.Alpha and marked as such.
// Output order follows input order, so identical inputs yield identical
// outputs.
func Classify(issues []domain.Issue, history []domain.LabelEvent, cfg Config, now time.Time) ([]Record, Diagnostics) {
    byIssue := groupEvents(history)
    records := make([]Record, 0, len(issues))
    var diag Diagnostics
    for _, issue := range issues {
        rec := Record{IID: issue.IID, Issue: issue, Estimation: EstimationAccurate}
        rec.Phase = cfg.ClassifyPhase(issue)
        events := byIssue[issue.IID]

        if issue.CreatedAt.IsZero() {
            diag.MissingTimestamps++
            records = append(records, rec)
            continue
        }

        if issue.Closed() && issue.ClosedAt != nil {
            lead := wholeDays(issue.ClosedAt.Sub(issue.CreatedAt))
            if lead < 0 {
                diag.InconsistentClosedAt++
                lead = 0
            }
            var wait int
            if start, ok := workStartedAt(events, cfg); ok {
                wait = clampInt(wholeDays(start.Sub(issue.CreatedAt)), 0, lead)
            } else {
                wait = int(cfg.Alpha * float64(lead))
                rec.Estimation = EstimationEstimated
            }
            cycle := lead - wait
            rec.LeadDays, rec.CycleDays, rec.WaitDays = &lead, &cycle, &wait
        } else if issue.Closed() && issue.ClosedAt == nil {
            diag.MissingTimestamps++
        }

        entry := lastPhaseEntry(events, rec.Phase, cfg)
        if entry.IsZero() { entry = issue.UpdatedAt }
        if !entry.IsZero() && now.After(entry) {
            rec.InPhaseDays = now.Sub(entry).Hours() / 24
        }
        records = append(records, rec)
    }
    return records, diag
}

// workStartedAt is the earliest label event adding a started-phase label.
func workStartedAt(events []domain.LabelEvent, cfg Config) (time.Time, bool) {
    for _, e := range events {
        if e.Action != domain.LabelAdd { continue }
        if p, ok := cfg.StatusLabels[strings.ToLower(strings.TrimSpace(e.Label))]; ok && startedPhases[p] {
            return e.At, true
        }
    }
    return time.Time{}, false
}

// lastPhaseEntry is the most recent event adding a label that maps to the
// current phase; zero when history holds no such event.
func lastPhaseEntry(events []domain.LabelEvent, phase Phase, cfg Config) time.Time {
    var entry time.Time
    for _, e := range events {
        if e.Action != domain.LabelAdd { continue }
        if p, ok := cfg.StatusLabels[strings.ToLower(strings.TrimSpace(e.Label))]; ok && p == phase {
            if e.At.After(entry) { entry = e.At }
        }
    }
    return entry
}

func groupEvents(history []domain.LabelEvent) map[int][]domain.LabelEvent {
    if len(history) == 0 { return nil }
    out := make(map[int][]domain.LabelEvent)
    for _, e := range history {
        out[e.IssueIID] = append(out[e.IssueIID], e)
    }
    for iid := range out {
        seq := out[iid]
        sort.SliceStable(seq, func(i, j int) bool { return seq[i].At.Before(seq[j].At) })
        out[iid] = seq
    }
    return out
}

// Summary aggregates lead/cycle/wait over closed issues with valid
// timestamps. Empty input yields zeros, never NaN.
type Summary struct {
    AvgLead        float64 `json:"avg_lead_days"`
    AvgCycle       float64 `json:"avg_cycle_days"`
    AvgWait        float64 `json:"avg_wait_days"`
    MedianLead     float64 `json:"median_lead_days"`
    MedianCycle    float64 `json:"median_cycle_days"`
    Count          int     `json:"count"`
    AccurateCount  int     `json:"accurate_count"`
    EstimatedCount int     `json:"estimated_count"`
}

func Summarize(records []Record) Summary {
    var s Summary
    var leads, cycles []float64
    var waitSum float64
    for _, r := range records {
        if r.LeadDays == nil { continue }
        s.Count++
        leads = append(leads, float64(*r.LeadDays))
        cycles = append(cycles, float64(*r.CycleDays))
        waitSum += float64(*r.WaitDays)
        if r.Estimation == EstimationEstimated {
            s.EstimatedCount++
        } else {
            s.AccurateCount++
        }
    }
    if s.Count == 0 { return s }
    n := float64(s.Count)
    s.AvgLead = sum(leads) / n
    s.AvgCycle = sum(cycles) / n
    s.AvgWait = waitSum / n
    sort.Float64s(leads)
    sort.Float64s(cycles)
    s.MedianLead = nearestRank(leads, 50)
    s.MedianCycle = nearestRank(cycles, 50)
    return s
}

// Distribution maps each phase to the open issues currently in it. Closed
// phases (done, released, cancelled) are omitted; iterate Phases for a
// stable order.
func Distribution(records []Record) map[Phase][]domain.Issue {
    out := make(map[Phase][]domain.Issue)
    for _, r := range records {
        if r.Issue.Closed() { continue }
        out[r.Phase] = append(out[r.Phase], r.Issue)
    }
    return out
}

func wholeDays(d time.Duration) int {
    return int(d.Hours() / 24)
}

func clampInt(v, lo, hi int) int {
    if v < lo { return lo }
    if v > hi { return hi }
    return v
}

func sum(vs []float64) float64 {
    t := 0.0
    for _, v := range vs { t += v }
    return t
}

// nearestRank returns the p-th percentile of sorted values using the
// nearest-rank method.
func nearestRank(sorted []float64, p float64) float64 {
    if len(sorted) == 0 { return 0 }
    rank := int(math.Ceil(float64(len(sorted)) * p / 100))
    if rank < 1 { rank = 1 }
    if rank > len(sorted) { rank = len(sorted) }
    return sorted[rank-1]
}
