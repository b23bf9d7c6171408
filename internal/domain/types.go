package domain

import "time"

// Issue states as reported by the tracker.
const (
    StateOpened = "opened"
    StateClosed = "closed"
)

type User struct {
    Username  string `json:"username"`
    Name      string `json:"name"`
    AvatarURL string `json:"avatar_url,omitempty"`
}

type Issue struct {
    IID         int        `json:"iid"`
    Title       string     `json:"title"`
    State       string     `json:"state"`
    Labels      []string   `json:"labels"`
    Assignees   []User     `json:"assignees"`
    EpicID      int        `json:"epic_id,omitempty"`
    MilestoneID int        `json:"milestone_id,omitempty"`
    Iteration   *Iteration `json:"iteration,omitempty"`
    Weight      int        `json:"weight"`
    DueDate     *time.Time `json:"due_date,omitempty"`
    CreatedAt   time.Time  `json:"created_at"`
    UpdatedAt   time.Time  `json:"updated_at"`
    ClosedAt    *time.Time `json:"closed_at,omitempty"`
    Description string     `json:"description,omitempty"`
    WebURL      string     `json:"web_url,omitempty"`
}

func (i Issue) Closed() bool { return i.State == StateClosed }
func (i Issue) Open() bool   { return i.State != StateClosed }

type Milestone struct {
    ID        int        `json:"id"`
    Title     string     `json:"title"`
    State     string     `json:"state"`
    StartDate *time.Time `json:"start_date,omitempty"`
    DueDate   *time.Time `json:"due_date,omitempty"`
}

type Epic struct {
    ID        int        `json:"id"`
    Title     string     `json:"title"`
    StartDate *time.Time `json:"start_date,omitempty"`
    EndDate   *time.Time `json:"end_date,omitempty"`
}

type Iteration struct {
    ID        int        `json:"id"`
    Title     string     `json:"title,omitempty"`
    StartDate *time.Time `json:"start_date,omitempty"`
    DueDate   *time.Time `json:"due_date,omitempty"`
}

// TeamMember comes from the workspace config, not the tracker.
// An absent WeeklyCapacity falls back to the policy's default weekly
// capacity; an explicit zero marks an observer: never a rebalancing target.
type TeamMember struct {
    Username       string   `json:"username" yaml:"username"`
    Role           string   `json:"role" yaml:"role"`
    WeeklyCapacity *float64 `json:"weekly_capacity,omitempty" yaml:"weeklyCapacity"`
    GPN            string  `json:"gpn,omitempty" yaml:"gpn"`
    TNumber        string  `json:"t_number,omitempty" yaml:"tNumber"`
    // SprintOverride, when set, replaces the computed sprint capacity in
    // hours for the selected iteration.
    SprintOverride *float64 `json:"sprint_override,omitempty" yaml:"sprintOverride"`
}

// Absence is a closed date interval; only the working days that intersect
// the selected sprint reduce capacity.
type Absence struct {
    Username  string    `json:"username" yaml:"username"`
    StartDate time.Time `json:"start_date" yaml:"startDate"`
    EndDate   time.Time `json:"end_date" yaml:"endDate"`
    Reason    string    `json:"reason,omitempty" yaml:"reason"`
}

type CapacityPolicy struct {
    HoursPerStoryPoint    float64 `json:"hours_per_story_point" yaml:"hoursPerStoryPoint"`
    DefaultHoursPerIssue  float64 `json:"default_hours_per_issue" yaml:"defaultHoursPerIssue"`
    DefaultWeeklyCapacity float64 `json:"default_weekly_capacity" yaml:"defaultWeeklyCapacity"`
    // SplitHoursAcrossAssignees switches multi-assignee attribution from
    // full hours per assignee to an even fractional split. Full attribution
    // matches the tracker's own workload view and stays the default.
    SplitHoursAcrossAssignees bool `json:"split_hours_across_assignees" yaml:"splitHoursAcrossAssignees"`
}

// Label event actions.
const (
    LabelAdd    = "add"
    LabelRemove = "remove"
)

// LabelEvent is one entry of an issue's label history, ordered by At.
type LabelEvent struct {
    IssueIID int       `json:"issue_iid"`
    Action   string    `json:"action"`
    Label    string    `json:"label"`
    At       time.Time `json:"at"`
}

// Snapshot is the immutable input every engine consumes. Nothing in the
// analytics packages mutates it.
type Snapshot struct {
    Issues      []Issue      `json:"issues"`
    Milestones  []Milestone  `json:"milestones"`
    Epics       []Epic       `json:"epics"`
    Iterations  []Iteration  `json:"iterations"`
    LabelEvents []LabelEvent `json:"label_events,omitempty"`
    FetchedAt   time.Time    `json:"fetched_at"`
}
