// Package capacity turns issues and story points into per-member workload
// under a configurable estimation policy, with absence-adjusted capacity,
// overload diagnostics and role-gated rebalancing proposals.
package capacity

import (
    "fmt"
    "sort"
    "strings"
    "time"

    "github.com/example/boardpulse/internal/domain"
    "github.com/example/boardpulse/internal/labels"
)

// Status bands, applied in order; the first match wins.
const (
    StatusNotAvailable = "Not Available"
    StatusOverloaded   = "Overloaded"
    StatusAtCapacity   = "At Capacity"
    StatusBusy         = "Busy"
    StatusAvailable    = "Available"
)

// Root cause severities.
const (
    CauseCritical = "critical"
    CauseWarning  = "warning"
)

type RootCause struct {
    Kind        string  `json:"kind"`
    Severity    string  `json:"severity"`
    Detail      string  `json:"detail"`
    ExcessHours float64 `json:"excess_hours,omitempty"`
}

type MemberLoad struct {
    Username       string         `json:"username"`
    Role           string         `json:"role"`
    WeeklyCapacity float64        `json:"weekly_capacity"`
    AllocatedHours float64        `json:"allocated_hours"`
    AvailableHours float64        `json:"available_hours"`
    Utilization    float64        `json:"utilization"`
    Status         string         `json:"status"`
    OpenIssues     []domain.Issue `json:"open_issues"`
    EpicCount      int            `json:"epic_count"`
    BlockedHours   float64        `json:"blocked_hours"`
    RootCauses     []RootCause    `json:"root_causes,omitempty"`
}

type TeamMetrics struct {
    TotalCapacity   float64 `json:"total_capacity"`
    TotalAllocated  float64 `json:"total_allocated"`
    OverloadedCount int     `json:"overloaded_count"`
    AtCapacityCount int     `json:"at_capacity_count"`
    AvgUtilization  float64 `json:"avg_utilization"`
}

type Result struct {
    Members         []MemberLoad      `json:"members"`
    Team            TeamMetrics       `json:"team"`
    UnassignedCount int               `json:"unassigned_count"`
    Iteration       *domain.Iteration `json:"iteration,omitempty"`
}

// EstimateHours applies the estimation rule to one issue: weighted issues
// cost weight x hoursPerStoryPoint, unweighted ones the policy default.
// With multiple assignees the full amount is attributed to every assignee
// unless the policy's split toggle is set.
func EstimateHours(issue domain.Issue, policy domain.CapacityPolicy) float64 {
    hours := policy.DefaultHoursPerIssue
    if issue.Weight > 0 {
        hours = float64(issue.Weight) * policy.HoursPerStoryPoint
    }
    if policy.SplitHoursAcrossAssignees && len(issue.Assignees) > 1 {
        hours /= float64(len(issue.Assignees))
    }
    return hours
}

// Compute builds the workload picture for a team against the open issues of
// the selected iteration (or all open issues when iteration is nil).
// Capacity uses working-day arithmetic; issue estimation uses the policy.
// Members are returned sorted by utilization, highest first.
func Compute(issues []domain.Issue, iteration *domain.Iteration, team []domain.TeamMember, absences []domain.Absence, policy domain.CapacityPolicy, now time.Time) Result {
    open := filterOpen(issues, iteration)

    byMember := make(map[string][]domain.Issue, len(team))
    unassigned := 0
    for _, issue := range open {
        if len(issue.Assignees) == 0 {
            unassigned++
            continue
        }
        for _, a := range issue.Assignees {
            byMember[a.Username] = append(byMember[a.Username], issue)
        }
    }

    members := make([]MemberLoad, 0, len(team))
    var tm TeamMetrics
    for _, m := range team {
        load := computeMember(m, byMember[m.Username], iteration, absences, policy)
        tm.TotalCapacity += load.WeeklyCapacity
        tm.TotalAllocated += load.AllocatedHours
        tm.AvgUtilization += load.Utilization
        switch load.Status {
        case StatusOverloaded:
            tm.OverloadedCount++
        case StatusAtCapacity:
            tm.AtCapacityCount++
        }
        members = append(members, load)
    }
    if len(members) > 0 {
        tm.AvgUtilization /= float64(len(members))
    }
    sort.SliceStable(members, func(i, j int) bool {
        if members[i].Utilization != members[j].Utilization {
            return members[i].Utilization > members[j].Utilization
        }
        return members[i].Username < members[j].Username
    })
    return Result{Members: members, Team: tm, UnassignedCount: unassigned, Iteration: iteration}
}

func computeMember(m domain.TeamMember, assigned []domain.Issue, iteration *domain.Iteration, absences []domain.Absence, policy domain.CapacityPolicy) MemberLoad {
    load := MemberLoad{Username: m.Username, Role: m.Role, OpenIssues: assigned}

    weekly := policy.DefaultWeeklyCapacity
    if m.WeeklyCapacity != nil { weekly = *m.WeeklyCapacity }
    if iteration != nil && iteration.StartDate != nil && iteration.DueDate != nil && weekly > 0 {
        weekly = sprintWeekly(m, weekly, iteration, absences)
    }
    load.WeeklyCapacity = weekly

    epics := make(map[int]struct{})
    for _, issue := range assigned {
        hours := EstimateHours(issue, policy)
        load.AllocatedHours += hours
        if issue.EpicID != 0 {
            epics[issue.EpicID] = struct{}{}
        }
        if issueBlocked(issue) {
            load.BlockedHours += hours
        }
    }
    load.EpicCount = len(epics)
    load.AvailableHours = weekly - load.AllocatedHours

    switch {
    case weekly <= 0:
        load.Utilization = 0
        load.Status = StatusNotAvailable
    default:
        load.Utilization = load.AllocatedHours / weekly * 100
        switch {
        case load.Utilization >= 100:
            load.Status = StatusOverloaded
        case load.Utilization >= 80:
            load.Status = StatusAtCapacity
        case load.Utilization >= 60:
            load.Status = StatusBusy
        default:
            load.Status = StatusAvailable
        }
    }
    if load.Status == StatusOverloaded {
        load.RootCauses = rootCauses(load)
    }
    return load
}

// sprintWeekly scales the member's weekly rate over the sprint's working
// days, subtracts absence losses at one fifth of the weekly rate per
// working day, and normalizes back to a weekly figure. A sprint capacity
// override on the member replaces the computed value.
func sprintWeekly(m domain.TeamMember, weekly float64, iteration *domain.Iteration, absences []domain.Absence) float64 {
    days := labels.WorkingDays(*iteration.StartDate, *iteration.DueDate)
    if days == 0 { return weekly }
    weeks := float64(days) / 5

    sprintHours := weeks * weekly
    for _, a := range absences {
        if a.Username != m.Username { continue }
        lost := overlapWorkingDays(a, *iteration.StartDate, *iteration.DueDate)
        sprintHours -= float64(lost) * weekly / 5
    }
    if sprintHours < 0 { sprintHours = 0 }
    if m.SprintOverride != nil { sprintHours = *m.SprintOverride }
    return sprintHours / weeks
}

func overlapWorkingDays(a domain.Absence, start, due time.Time) int {
    from := a.StartDate
    if start.After(from) { from = start }
    to := a.EndDate
    if due.Before(to) { to = due }
    return labels.WorkingDays(from, to)
}

func filterOpen(issues []domain.Issue, iteration *domain.Iteration) []domain.Issue {
    var out []domain.Issue
    for _, issue := range issues {
        if issue.Closed() { continue }
        if iteration != nil {
            if issue.Iteration == nil || issue.Iteration.ID != iteration.ID { continue }
        }
        out = append(out, issue)
    }
    return out
}

func issueBlocked(issue domain.Issue) bool {
    if labels.IsBlocked(issue.Labels) { return true }
    for _, l := range issue.Labels {
        if strings.Contains(strings.ToLower(l), "waiting") { return true }
    }
    return false
}

// rootCauses applies the overload diagnostic rules: epic spread, raw WIP
// count, and hours stuck behind blockers.
func rootCauses(load MemberLoad) []RootCause {
    var causes []RootCause
    if load.EpicCount > 2 {
        causes = append(causes, RootCause{
            Kind:     "multi-epic",
            Severity: CauseCritical,
            Detail:   fmt.Sprintf("work spread across %d epics; consolidate onto at most two", load.EpicCount),
        })
    }
    if len(load.OpenIssues) > 8 {
        causes = append(causes, RootCause{
            Kind:     "wip-excess",
            Severity: CauseCritical,
            Detail:   fmt.Sprintf("%d open issues in flight; move roughly 30%% to teammates", len(load.OpenIssues)),
        })
    }
    if load.BlockedHours > 0 {
        causes = append(causes, RootCause{
            Kind:        "blocker-drag",
            Severity:    CauseWarning,
            Detail:      "blocked or waiting issues are inflating the allocation; escalate the blockers",
            ExcessHours: load.BlockedHours,
        })
    }
    return causes
}
