package lifecycle

import (
    "math"
    "sort"
    "time"
)

// Metrics a control chart can plot.
type Metric string

const (
    MetricLead  Metric = "leadTime"
    MetricCycle Metric = "cycleTime"
)

type ChartPoint struct {
    IID     int       `json:"iid"`
    Title   string    `json:"title"`
    Value   float64   `json:"value"`
    Date    time.Time `json:"date"`
    Outlier bool      `json:"outlier"`
}

// Chart is a control chart over closed issues ordered by closure date.
// Control limits are mean ± 3 population standard deviations; the lower
// limit is floored at zero since day counts cannot go negative.
type Chart struct {
    Points []ChartPoint `json:"points"`
    Mean   float64      `json:"mean"`
    Median float64      `json:"median"`
    StdDev float64      `json:"std_dev"`
    P85    float64      `json:"p85"`
    P95    float64      `json:"p95"`
    UCL    float64      `json:"ucl"`
    LCL    float64      `json:"lcl"`
}

func ControlChart(records []Record, metric Metric) Chart {
    var points []ChartPoint
    for _, r := range records {
        if r.LeadDays == nil || r.Issue.ClosedAt == nil { continue }
        v := float64(*r.LeadDays)
        if metric == MetricCycle { v = float64(*r.CycleDays) }
        points = append(points, ChartPoint{IID: r.IID, Title: r.Issue.Title, Value: v, Date: *r.Issue.ClosedAt})
    }
    sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

    chart := Chart{Points: points}
    if len(points) == 0 { return chart }

    values := make([]float64, len(points))
    for i, p := range points { values[i] = p.Value }
    n := float64(len(values))
    chart.Mean = sum(values) / n

    variance := 0.0
    for _, v := range values {
        d := v - chart.Mean
        variance += d * d
    }
    chart.StdDev = math.Sqrt(variance / n)

    sorted := append([]float64(nil), values...)
    sort.Float64s(sorted)
    chart.Median = nearestRank(sorted, 50)
    chart.P85 = nearestRank(sorted, 85)
    chart.P95 = nearestRank(sorted, 95)
    chart.UCL = chart.Mean + 3*chart.StdDev
    chart.LCL = math.Max(0, chart.Mean-3*chart.StdDev)

    for i := range chart.Points {
        v := chart.Points[i].Value
        chart.Points[i].Outlier = v > chart.UCL || v < chart.LCL
    }
    return chart
}

// Bottleneck severities.
const (
    SeverityHigh   = "high"
    SeverityMedium = "medium"
    SeverityLow    = "low"
)

type Bottleneck struct {
    Phase      Phase    `json:"phase"`
    Count      int      `json:"count"`
    AvgDays    float64  `json:"avg_days"`
    Severity   string   `json:"severity"`
    RootCauses []string `json:"root_causes"`
    Actions    []string `json:"actions"`
}

// phasePlaybook maps each open phase to likely causes and remedies; the
// bottleneck report attaches these verbatim.
var phasePlaybook = map[Phase][2][]string{
    PhaseBacklog: {
        {"intake outpaces refinement", "missing acceptance criteria"},
        {"schedule a backlog triage", "close stale items"},
    },
    PhaseDiscovery: {
        {"unclear problem statements", "waiting on stakeholder input"},
        {"timebox discovery spikes", "assign a single owner per spike"},
    },
    PhaseAnalysis: {
        {"requirements churn", "analyst capacity shortfall"},
        {"pair analysts with product owner", "split oversized issues"},
    },
    PhaseRefinement: {
        {"refinement sessions skipped", "estimates missing"},
        {"hold a weekly refinement session", "require weights before ready"},
    },
    PhaseReady: {
        {"work picked up slower than planned", "WIP limits downstream"},
        {"rebalance assignees", "check sprint scope"},
    },
    PhaseInProgress: {
        {"issues too large", "hidden blockers", "context switching"},
        {"split issues over the WIP ceiling", "surface blockers daily"},
    },
    PhaseInReview: {
        {"reviewer shortage", "review rounds ping-pong"},
        {"rotate reviewers", "cap review response time at one day"},
    },
    PhaseInTesting: {
        {"test environment contention", "late defect discovery"},
        {"parallelize test environments", "shift tests left"},
    },
    PhaseAwaitingRelease: {
        {"release train frequency too low"},
        {"consider on-demand releases"},
    },
}

// Bottlenecks flags open phases that are both crowded and slow. A phase is
// flagged when count and average dwell both meet the configured thresholds;
// severity escalates to high when both exceed 1.5x. Results follow phase
// declaration order.
func Bottlenecks(records []Record, cfg Config) []Bottleneck {
    counts := make(map[Phase]int)
    dwell := make(map[Phase]float64)
    for _, r := range records {
        if r.Issue.Closed() { continue }
        counts[r.Phase]++
        dwell[r.Phase] += r.InPhaseDays
    }
    var out []Bottleneck
    for _, phase := range Phases {
        count := counts[phase]
        if count == 0 { continue }
        avg := dwell[phase] / float64(count)
        if count < cfg.BottleneckMinCount || avg < cfg.BottleneckMinAvgDays { continue }
        severity := SeverityMedium
        if float64(count) >= 1.5*float64(cfg.BottleneckMinCount) && avg >= 1.5*cfg.BottleneckMinAvgDays {
            severity = SeverityHigh
        }
        b := Bottleneck{Phase: phase, Count: count, AvgDays: avg, Severity: severity}
        if pb, ok := phasePlaybook[phase]; ok {
            b.RootCauses, b.Actions = pb[0], pb[1]
        }
        out = append(out, b)
    }
    return out
}
