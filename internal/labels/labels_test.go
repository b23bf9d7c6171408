package labels

import (
    "testing"
    "time"

    "github.com/example/boardpulse/internal/domain"
)

func TestPriority(t *testing.T) {
    cases := []struct {
        labels []string
        want   string
    }{
        {[]string{"priority::high"}, PriorityHigh},
        {[]string{"P1"}, PriorityHigh},
        {[]string{"priority::low"}, PriorityLow},
        {[]string{"p2", "backend"}, PriorityMedium},
        {[]string{"backend"}, PriorityMedium},
        {nil, PriorityMedium},
    }
    for _, c := range cases {
        if got := Priority(c.labels); got != c.want {
            t.Errorf("Priority(%v) = %q, want %q", c.labels, got, c.want)
        }
    }
}

func TestIsBlocked(t *testing.T) {
    if !IsBlocked([]string{"status::blocked"}) {
        t.Fatal("blocked label not detected")
    }
    if !IsBlocked([]string{"Blocker"}) {
        t.Fatal("blocker label not detected")
    }
    if IsBlocked([]string{"backend", "wip"}) {
        t.Fatal("false positive on unrelated labels")
    }
}

func TestWorkingDays(t *testing.T) {
    mon := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
    fri := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
    nextMon := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)

    if got := WorkingDays(mon, fri); got != 5 {
        t.Fatalf("Mon..Fri = %d, want 5", got)
    }
    if got := WorkingDays(mon, nextMon); got != 6 {
        t.Fatalf("Mon..next Mon = %d, want 6", got)
    }
    if got := WorkingDays(mon, mon); got != 1 {
        t.Fatalf("single weekday = %d, want 1", got)
    }
    sat := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
    if got := WorkingDays(sat, sat.AddDate(0, 0, 1)); got != 0 {
        t.Fatalf("weekend only = %d, want 0", got)
    }
    if got := WorkingDays(fri, mon); got != 0 {
        t.Fatalf("reversed range = %d, want 0", got)
    }
}

func TestIterationName(t *testing.T) {
    if got := IterationName(nil); got != "" {
        t.Fatalf("nil iteration = %q, want empty", got)
    }
    start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
    due := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
    it := &domain.Iteration{ID: 7, StartDate: &start, DueDate: &due}
    if got := IterationName(it); got != "2 Mar – 13 Mar 2026" {
        t.Fatalf("date range name = %q", got)
    }
    it.Title = "Sprint 12"
    if got := IterationName(it); got != "Sprint 12" {
        t.Fatalf("title should win, got %q", got)
    }
    if got := IterationName(&domain.Iteration{ID: 9}); got != "Iteration 9" {
        t.Fatalf("fallback name = %q", got)
    }
}

func TestSprintName(t *testing.T) {
    issue := domain.Issue{Labels: []string{"backend", "Sprint 12"}}
    if got := SprintName(issue); got != "Sprint 12" {
        t.Fatalf("label sprint = %q", got)
    }
    issue.Iteration = &domain.Iteration{Title: "Iteration A"}
    if got := SprintName(issue); got != "Iteration A" {
        t.Fatalf("iteration should win, got %q", got)
    }
    if got := SprintName(domain.Issue{Labels: []string{"backend"}}); got != "" {
        t.Fatalf("no sprint hint = %q, want empty", got)
    }
}

func TestOverdueAndDueSoon(t *testing.T) {
    now := time.Date(2026, 1, 7, 15, 0, 0, 0, time.UTC) // Wednesday
    yesterday := now.AddDate(0, 0, -1)
    friday := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)

    open := domain.Issue{State: domain.StateOpened, DueDate: &yesterday}
    if !Overdue(open, now) {
        t.Fatal("past due date not flagged")
    }
    if DueSoon(open, now) {
        t.Fatal("overdue issue must not be due soon")
    }

    soon := domain.Issue{State: domain.StateOpened, DueDate: &friday}
    if !DueSoon(soon, now) {
        t.Fatal("due Friday from Wednesday should be due soon")
    }
    if Overdue(soon, now) {
        t.Fatal("future due date flagged overdue")
    }

    closedAt := now
    closed := domain.Issue{State: domain.StateClosed, DueDate: &yesterday, ClosedAt: &closedAt}
    if Overdue(closed, now) || DueSoon(closed, now) {
        t.Fatal("closed issues never overdue or due soon")
    }
}

func TestNormalizeLabels(t *testing.T) {
    got := NormalizeLabels([]string{"Backend", "backend", " ", "WIP", "wip", "qa"})
    want := []string{"Backend", "WIP", "qa"}
    if len(got) != len(want) {
        t.Fatalf("got %v, want %v", got, want)
    }
    for i := range want {
        if got[i] != want[i] {
            t.Fatalf("got %v, want %v", got, want)
        }
    }
    if NormalizeLabels(nil) != nil {
        t.Fatal("nil input should stay nil")
    }
}
