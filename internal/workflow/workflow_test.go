package workflow

import (
    "testing"

    "github.com/example/boardpulse/internal/capacity"
    "github.com/example/boardpulse/internal/domain"
)

func open(iid int, title string, labels ...string) domain.Issue {
    return domain.Issue{IID: iid, Title: title, State: domain.StateOpened, Labels: labels}
}

func closed(iid int) domain.Issue {
    return domain.Issue{IID: iid, State: domain.StateClosed}
}

func TestDetectPhaseByKeywords(t *testing.T) {
    issues := []domain.Issue{
        open(1, "implement payment feature"),
        open(2, "build export endpoint"),
        open(3, "research caching options"),
    }
    d := DetectPhase(issues)
    if d.Phase != PhaseImplementation {
        t.Fatalf("phase = %q, want Implementation (scores %v)", d.Phase, d.Scores)
    }
}

func TestDetectPhaseTieBreak(t *testing.T) {
    // one discovery hit, one testing hit: earlier phase wins the tie
    issues := []domain.Issue{
        open(1, "research options"),
        open(2, "regression run"),
    }
    d := DetectPhase(issues)
    if d.Phase != PhaseDiscovery {
        t.Fatalf("phase = %q, want Discovery on tie", d.Phase)
    }
}

func TestDetectPhaseCompletionOverrides(t *testing.T) {
    var issues []domain.Issue
    for i := 0; i < 9; i++ {
        issues = append(issues, closed(i))
    }
    issues = append(issues, open(100, "implement the last feature"))
    d := DetectPhase(issues)
    if d.CompletionPercent != 90 {
        t.Fatalf("completion = %v, want 90", d.CompletionPercent)
    }
    if d.Phase != PhaseDeployment {
        t.Fatalf("phase = %q, want Deployment at 90%%", d.Phase)
    }

    issues = append(issues, open(101, "implement another feature"))
    d = DetectPhase(issues)
    if d.Phase != PhaseTesting {
        t.Fatalf("phase = %q, want Testing at ~82%%", d.Phase)
    }
}

func TestDetectPhaseEarlyAnalysisOverride(t *testing.T) {
    issues := []domain.Issue{
        open(1, "implement checkout", "analysis"),
        open(2, "implement search", "requirement"),
        open(3, "implement login"),
        open(4, "implement signup"),
    }
    d := DetectPhase(issues)
    if d.CompletionPercent != 0 {
        t.Fatalf("completion = %v, want 0", d.CompletionPercent)
    }
    if d.Phase != PhaseAnalysis {
        t.Fatalf("phase = %q, want Analysis override on an unstarted analysis-heavy sprint", d.Phase)
    }
}

func TestDetectPhaseEmpty(t *testing.T) {
    d := DetectPhase(nil)
    if d.Phase != PhaseDiscovery || d.CompletionPercent != 0 {
        t.Fatalf("empty snapshot should default to Discovery: %+v", d)
    }
}

func TestRecommendUnderutilizedOnly(t *testing.T) {
    result := capacity.Result{Members: []capacity.MemberLoad{
        {Username: "alice", Role: "Developer", WeeklyCapacity: 40, Utilization: 90, Status: capacity.StatusAtCapacity},
        {Username: "bob", Role: "QA Engineer", WeeklyCapacity: 40, Utilization: 30, Status: capacity.StatusAvailable},
        {Username: "observer", Role: "Developer", WeeklyCapacity: 0, Utilization: 0, Status: capacity.StatusNotAvailable},
    }}
    detection := Detection{Phase: PhaseImplementation}
    recs := Recommend(result, detection, nil, DefaultCapabilities())

    if len(recs) != 1 {
        t.Fatalf("recommendations = %d, want only bob", len(recs))
    }
    rec := recs[0]
    if rec.Username != "bob" {
        t.Fatalf("recommended member = %q, want bob", rec.Username)
    }
    if len(rec.Suggestions) == 0 || len(rec.Suggestions) > 4 {
        t.Fatalf("suggestions = %d, want 1..4", len(rec.Suggestions))
    }
    // Implementation is outside a QA Engineer's primary phases
    if rec.Suggestions[0].Type != SuggestNextPhase {
        t.Fatalf("first suggestion = %q, want next-phase prep", rec.Suggestions[0].Type)
    }
}

func TestRecommendBacklogPicks(t *testing.T) {
    result := capacity.Result{Members: []capacity.MemberLoad{
        {Username: "bob", Role: "QA Engineer", WeeklyCapacity: 40, Utilization: 20, Status: capacity.StatusAvailable},
    }}
    backlog := []domain.Issue{
        open(1, "write regression test suite"),
        open(2, "qa checklist for release"),
        open(3, "refactor billing module"),
    }
    assignedAway := open(4, "test data fixtures")
    assignedAway.Assignees = []domain.User{{Username: "alice"}}
    backlog = append(backlog, assignedAway)

    recs := Recommend(result, Detection{Phase: PhaseTesting}, backlog, DefaultCapabilities())
    if len(recs) != 1 {
        t.Fatalf("recommendations = %d, want 1", len(recs))
    }
    var picks []domain.Issue
    for _, s := range recs[0].Suggestions {
        if s.Type == SuggestBacklog {
            picks = s.SuggestedWork
        }
    }
    if len(picks) != 2 {
        t.Fatalf("backlog picks = %v, want the two unassigned matching issues", picks)
    }
    for _, p := range picks {
        if p.IID == 3 {
            t.Fatal("non-matching issue suggested")
        }
        if p.IID == 4 {
            t.Fatal("assigned issue suggested")
        }
    }
}

func TestRecommendCrossTraining(t *testing.T) {
    result := capacity.Result{Members: []capacity.MemberLoad{
        {Username: "alice", Role: "Developer", WeeklyCapacity: 40, Utilization: 150, Status: capacity.StatusOverloaded},
        {Username: "bob", Role: "QA Engineer", WeeklyCapacity: 40, Utilization: 30, Status: capacity.StatusAvailable},
    }}
    recs := Recommend(result, Detection{Phase: PhaseImplementation}, nil, DefaultCapabilities())
    found := false
    for _, s := range recs[0].Suggestions {
        if s.Type == SuggestCrossTraining {
            found = true
        }
    }
    if !found {
        t.Fatalf("want a cross-training pairing with the overloaded developer: %+v", recs[0].Suggestions)
    }
}

func TestEfficiencyScore(t *testing.T) {
    caps := DefaultCapabilities()
    members := []domain.TeamMember{
        {Username: "alice", Role: "Developer"},   // primary: Implementation
        {Username: "bob", Role: "QA Engineer"},   // secondary: Implementation
        {Username: "carol", Role: "Product Owner"}, // neither
    }
    got := EfficiencyScore(members, PhaseImplementation, caps)
    want := float64(100+50) / 3
    if got != want {
        t.Fatalf("score = %v, want %v", got, want)
    }
    if EfficiencyScore(nil, PhaseImplementation, caps) != 0 {
        t.Fatal("empty team must score 0")
    }
}
