// Package labels holds the shared label and date predicates used by every
// analytics engine. All functions are pure; empty or missing inputs return
// sentinel defaults and never panic.
package labels

import (
    "fmt"
    "strings"
    "time"

    "github.com/example/boardpulse/internal/domain"
)

// Priority classes.
const (
    PriorityHigh   = "High"
    PriorityMedium = "Medium"
    PriorityLow    = "Low"
)

// Priority derives the priority class from issue labels. Recognizes scoped
// labels (priority::high) and the short P1/P2/P3 convention; anything else
// defaults to Medium.
func Priority(lbls []string) string {
    for _, l := range lbls {
        switch strings.ToLower(strings.TrimSpace(l)) {
        case "priority::high", "p1":
            return PriorityHigh
        case "priority::medium", "p2":
            return PriorityMedium
        case "priority::low", "p3":
            return PriorityLow
        }
    }
    return PriorityMedium
}

// IsBlocked reports whether any label marks the issue as blocked or a blocker.
func IsBlocked(lbls []string) bool {
    for _, l := range lbls {
        ll := strings.ToLower(l)
        if strings.Contains(ll, "blocker") || strings.Contains(ll, "blocked") {
            return true
        }
    }
    return false
}

// IterationName renders a deterministic display name for an iteration:
// the title when present, a date range when only dates exist, and a
// positional fallback otherwise. Same-year ranges collapse the first year.
func IterationName(it *domain.Iteration) string {
    if it == nil { return "" }
    if t := strings.TrimSpace(it.Title); t != "" { return t }
    if it.StartDate != nil {
        start := it.StartDate.UTC()
        if it.DueDate != nil {
            due := it.DueDate.UTC()
            if start.Year() == due.Year() {
                return fmt.Sprintf("%d %s – %d %s %d", start.Day(), start.Month().String()[:3], due.Day(), due.Month().String()[:3], due.Year())
            }
            return fmt.Sprintf("%d %s %d – %d %s %d", start.Day(), start.Month().String()[:3], start.Year(), due.Day(), due.Month().String()[:3], due.Year())
        }
        return fmt.Sprintf("%d %s %d", start.Day(), start.Month().String()[:3], start.Year())
    }
    return fmt.Sprintf("Iteration %d", it.ID)
}

// SprintName resolves which sprint an issue belongs to. An iteration object
// always wins; otherwise the first label prefixed sprint/iteration is
// returned verbatim.
func SprintName(issue domain.Issue) string {
    if issue.Iteration != nil { return IterationName(issue.Iteration) }
    for _, l := range issue.Labels {
        ll := strings.ToLower(strings.TrimSpace(l))
        if strings.HasPrefix(ll, "sprint") || strings.HasPrefix(ll, "iteration") {
            return l
        }
    }
    return ""
}

// WorkingDays counts weekdays between from and to, endpoints inclusive.
// Saturdays and Sundays are excluded; no holiday calendar is applied.
func WorkingDays(from, to time.Time) int {
    from = dateOnly(from)
    to = dateOnly(to)
    if to.Before(from) { return 0 }
    n := 0
    for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
        if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
            n++
        }
    }
    return n
}

// Overdue reports whether an open issue's due date has passed, comparing
// UTC calendar dates.
func Overdue(issue domain.Issue, now time.Time) bool {
    if issue.Closed() || issue.DueDate == nil { return false }
    return dateOnly(*issue.DueDate).Before(dateOnly(now))
}

// DueSoon reports whether an open issue is due within the next three
// working days (today included). Overdue issues are not "soon".
func DueSoon(issue domain.Issue, now time.Time) bool {
    if issue.Closed() || issue.DueDate == nil { return false }
    if Overdue(issue, now) { return false }
    return WorkingDays(now, *issue.DueDate) <= 3
}

// NormalizeLabels deduplicates labels case-insensitively, keeping the first
// spelling seen. Input order is preserved.
func NormalizeLabels(lbls []string) []string {
    if len(lbls) == 0 { return nil }
    seen := make(map[string]struct{}, len(lbls))
    out := make([]string, 0, len(lbls))
    for _, l := range lbls {
        key := strings.ToLower(strings.TrimSpace(l))
        if key == "" { continue }
        if _, ok := seen[key]; ok { continue }
        seen[key] = struct{}{}
        out = append(out, l)
    }
    return out
}

func dateOnly(t time.Time) time.Time {
    t = t.UTC()
    return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
