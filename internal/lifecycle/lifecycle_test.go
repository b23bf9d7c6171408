package lifecycle

import (
    "math"
    "testing"
    "time"

    "github.com/example/boardpulse/internal/domain"
)

var testNow = time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

func closedIssue(iid, leadDays int, labels ...string) domain.Issue {
    created := testNow.AddDate(0, 0, -leadDays-10)
    closed := created.AddDate(0, 0, leadDays)
    return domain.Issue{
        IID: iid, State: domain.StateClosed, Labels: labels,
        CreatedAt: created, UpdatedAt: closed, ClosedAt: &closed,
    }
}

func TestClassifyPhaseFallbacks(t *testing.T) {
    cfg := DefaultConfig()
    cases := []struct {
        issue domain.Issue
        want  Phase
    }{
        {closedIssue(1, 5, "status::cancelled"), PhaseCancelled},
        {closedIssue(2, 5, "Released"), PhaseReleased},
        {closedIssue(3, 5), PhaseDone},
        {domain.Issue{IID: 4, State: domain.StateOpened, Labels: []string{"status::in progress"}}, PhaseInProgress},
        {domain.Issue{IID: 5, State: domain.StateOpened, Labels: []string{"Status::In Review"}}, PhaseInReview},
        {domain.Issue{IID: 6, State: domain.StateOpened, Labels: []string{"wip feature"}}, PhaseInProgress},
        {domain.Issue{IID: 7, State: domain.StateOpened, Labels: []string{"needs review"}}, PhaseInTesting},
        {domain.Issue{IID: 8, State: domain.StateOpened, Labels: []string{"backend"}}, PhaseBacklog},
        {domain.Issue{IID: 9, State: domain.StateOpened}, PhaseBacklog},
    }
    for _, c := range cases {
        if got := cfg.ClassifyPhase(c.issue); got != c.want {
            t.Errorf("issue #%d: phase = %q, want %q", c.issue.IID, got, c.want)
        }
    }
}

func TestClassifyPhaseDeterministic(t *testing.T) {
    cfg := DefaultConfig()
    cases := []struct {
        issue domain.Issue
        want  Phase
    }{
        // Labels matching several keyword rules resolve by rule order:
        // wip/progress before review/testing.
        {domain.Issue{IID: 1, State: domain.StateOpened, Labels: []string{"wip testing"}}, PhaseInProgress},
        {domain.Issue{IID: 2, State: domain.StateOpened, Labels: []string{"review in progress"}}, PhaseInProgress},
        {domain.Issue{IID: 3, State: domain.StateOpened, Labels: []string{"review testing"}}, PhaseInTesting},
    }
    for _, c := range cases {
        for i := 0; i < 200; i++ {
            if got := cfg.ClassifyPhase(c.issue); got != c.want {
                t.Fatalf("issue #%d run %d: phase = %q, want %q", c.issue.IID, i, got, c.want)
            }
        }
    }
}

func TestClassifyTimesWithHistory(t *testing.T) {
    created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
    closed := created.AddDate(0, 0, 10)
    issue := domain.Issue{
        IID: 1, State: domain.StateClosed,
        CreatedAt: created, UpdatedAt: closed, ClosedAt: &closed,
    }
    history := []domain.LabelEvent{
        {IssueIID: 1, Action: domain.LabelAdd, Label: "status::in progress", At: created.AddDate(0, 0, 4)},
        {IssueIID: 1, Action: domain.LabelAdd, Label: "status::in review", At: created.AddDate(0, 0, 8)},
    }
    records, diag := Classify([]domain.Issue{issue}, history, DefaultConfig(), testNow)
    if diag.MissingTimestamps != 0 || diag.InconsistentClosedAt != 0 {
        t.Fatalf("unexpected diagnostics: %+v", diag)
    }
    r := records[0]
    if r.LeadDays == nil || *r.LeadDays != 10 {
        t.Fatalf("lead = %v, want 10", r.LeadDays)
    }
    if *r.WaitDays != 4 || *r.CycleDays != 6 {
        t.Fatalf("wait/cycle = %d/%d, want 4/6", *r.WaitDays, *r.CycleDays)
    }
    if r.Estimation != EstimationAccurate {
        t.Fatalf("estimation = %q, want accurate", r.Estimation)
    }
}

func TestClassifyTimesEstimated(t *testing.T) {
    records, _ := Classify([]domain.Issue{closedIssue(1, 10)}, nil, DefaultConfig(), testNow)
    r := records[0]
    if r.Estimation != EstimationEstimated {
        t.Fatalf("estimation = %q, want estimated", r.Estimation)
    }
    if *r.WaitDays != 3 {
        t.Fatalf("wait = %d, want 3 (alpha 0.3 of 10)", *r.WaitDays)
    }
    if *r.WaitDays+*r.CycleDays != *r.LeadDays {
        t.Fatalf("wait %d + cycle %d != lead %d", *r.WaitDays, *r.CycleDays, *r.LeadDays)
    }
}

func TestClassifyInconsistentClosedAt(t *testing.T) {
    created := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
    closed := created.AddDate(0, 0, -3)
    issue := domain.Issue{IID: 1, State: domain.StateClosed, CreatedAt: created, UpdatedAt: created, ClosedAt: &closed}
    records, diag := Classify([]domain.Issue{issue}, nil, DefaultConfig(), testNow)
    if diag.InconsistentClosedAt != 1 {
        t.Fatalf("InconsistentClosedAt = %d, want 1", diag.InconsistentClosedAt)
    }
    if *records[0].LeadDays != 0 {
        t.Fatalf("lead = %d, want 0 for inconsistent timestamps", *records[0].LeadDays)
    }
}

func TestClassifyMissingCreatedAt(t *testing.T) {
    issue := domain.Issue{IID: 1, State: domain.StateOpened}
    records, diag := Classify([]domain.Issue{issue}, nil, DefaultConfig(), testNow)
    if diag.MissingTimestamps != 1 {
        t.Fatalf("MissingTimestamps = %d, want 1", diag.MissingTimestamps)
    }
    if len(records) != 1 || records[0].Phase != PhaseBacklog {
        t.Fatal("malformed issue must stay in the distribution")
    }
}

func TestSummarizeEmpty(t *testing.T) {
    s := Summarize(nil)
    if s.Count != 0 || s.AvgLead != 0 || s.MedianLead != 0 {
        t.Fatalf("empty summary must be zeroed, got %+v", s)
    }
}

func TestSummarize(t *testing.T) {
    issues := []domain.Issue{closedIssue(1, 4), closedIssue(2, 6), closedIssue(3, 8)}
    records, _ := Classify(issues, nil, DefaultConfig(), testNow)
    s := Summarize(records)
    if s.Count != 3 {
        t.Fatalf("count = %d, want 3", s.Count)
    }
    if s.AvgLead != 6 {
        t.Fatalf("avg lead = %v, want 6", s.AvgLead)
    }
    if s.MedianLead != 6 {
        t.Fatalf("median lead = %v, want 6", s.MedianLead)
    }
    if s.EstimatedCount != 3 || s.AccurateCount != 0 {
        t.Fatalf("estimation counts = %d/%d", s.AccurateCount, s.EstimatedCount)
    }
}

func TestControlChartNoOutlier(t *testing.T) {
    var records []Record
    for i, lead := range []int{4, 5, 6, 5, 40} {
        issue := closedIssue(i+1, lead)
        l := lead
        c := lead
        w := 0
        records = append(records, Record{IID: issue.IID, Issue: issue, LeadDays: &l, CycleDays: &c, WaitDays: &w})
    }
    chart := ControlChart(records, MetricLead)
    if chart.Mean != 12 {
        t.Fatalf("mean = %v, want 12", chart.Mean)
    }
    if math.Abs(chart.StdDev-14.014) > 0.01 {
        t.Fatalf("stddev = %v, want ~14.01", chart.StdDev)
    }
    for _, p := range chart.Points {
        if p.Outlier {
            t.Fatalf("point %v flagged as outlier below UCL %v", p.Value, chart.UCL)
        }
    }
}

func TestControlChartOutlierRule(t *testing.T) {
    var records []Record
    for i, lead := range []int{4, 5, 6, 5, 40, 80} {
        issue := closedIssue(i+1, lead)
        l := lead
        records = append(records, Record{IID: issue.IID, Issue: issue, LeadDays: &l, CycleDays: &l, WaitDays: new(int)})
    }
    chart := ControlChart(records, MetricLead)
    for _, p := range chart.Points {
        flagged := p.Value > chart.UCL || p.Value < chart.LCL
        if p.Outlier != flagged {
            t.Fatalf("point %v: outlier=%v disagrees with limits [%v, %v]", p.Value, p.Outlier, chart.LCL, chart.UCL)
        }
    }
    if chart.LCL < 0 {
        t.Fatalf("LCL = %v, must be floored at zero", chart.LCL)
    }
}

func TestControlChartSinglePoint(t *testing.T) {
    issue := closedIssue(1, 7)
    l := 7
    chart := ControlChart([]Record{{IID: 1, Issue: issue, LeadDays: &l, CycleDays: &l, WaitDays: new(int)}}, MetricLead)
    if len(chart.Points) != 1 {
        t.Fatalf("points = %d, want 1", len(chart.Points))
    }
    if chart.StdDev != 0 || chart.UCL != chart.Mean || chart.LCL != chart.Mean {
        t.Fatalf("single point must give stddev 0 and UCL=LCL=mean, got %+v", chart)
    }
    if chart.Points[0].Outlier {
        t.Fatal("single point must not be an outlier")
    }
}

func TestControlChartOrdering(t *testing.T) {
    records, _ := Classify([]domain.Issue{closedIssue(2, 20), closedIssue(1, 3)}, nil, DefaultConfig(), testNow)
    chart := ControlChart(records, MetricCycle)
    for i := 1; i < len(chart.Points); i++ {
        if chart.Points[i].Date.Before(chart.Points[i-1].Date) {
            t.Fatal("points must be ordered by closure date ascending")
        }
    }
}

func TestBottlenecks(t *testing.T) {
    cfg := DefaultConfig()
    open := func(iid int) domain.Issue {
        return domain.Issue{IID: iid, State: domain.StateOpened}
    }
    var records []Record
    for i := 0; i < 5; i++ {
        records = append(records, Record{IID: i, Issue: open(i), Phase: PhaseInReview, InPhaseDays: 8})
    }
    // below both thresholds, must not be flagged
    records = append(records, Record{IID: 90, Issue: open(90), Phase: PhaseBacklog, InPhaseDays: 30})

    out := Bottlenecks(records, cfg)
    if len(out) != 1 {
        t.Fatalf("bottlenecks = %d, want 1", len(out))
    }
    b := out[0]
    if b.Phase != PhaseInReview || b.Count != 5 || b.AvgDays != 8 {
        t.Fatalf("unexpected bottleneck %+v", b)
    }
    if b.Severity != SeverityMedium {
        t.Fatalf("severity = %q, want medium", b.Severity)
    }
    if len(b.RootCauses) == 0 || len(b.Actions) == 0 {
        t.Fatal("playbook causes and actions must be attached")
    }
}

func TestBottleneckHighSeverity(t *testing.T) {
    var records []Record
    for i := 0; i < 8; i++ {
        records = append(records, Record{IID: i, Issue: domain.Issue{IID: i, State: domain.StateOpened}, Phase: PhaseInProgress, InPhaseDays: 12})
    }
    out := Bottlenecks(records, DefaultConfig())
    if len(out) != 1 || out[0].Severity != SeverityHigh {
        t.Fatalf("want one high-severity bottleneck, got %+v", out)
    }
}

func TestDistributionOpenOnly(t *testing.T) {
    issues := []domain.Issue{
        closedIssue(1, 5),
        {IID: 2, State: domain.StateOpened, Labels: []string{"status::in progress"}, CreatedAt: testNow.AddDate(0, 0, -3), UpdatedAt: testNow.AddDate(0, 0, -1)},
    }
    records, _ := Classify(issues, nil, DefaultConfig(), testNow)
    dist := Distribution(records)
    if len(dist[PhaseInProgress]) != 1 {
        t.Fatalf("in-progress = %d, want 1", len(dist[PhaseInProgress]))
    }
    for phase, group := range dist {
        for _, issue := range group {
            if issue.Closed() {
                t.Fatalf("closed issue leaked into phase %q", phase)
            }
        }
    }
}
