// Package deps derives the blocker graph of a snapshot from free-text
// references in issue descriptions ("blocked by #7", "depends on #7",
// "blocks #12") and reports blocked issues, cycles and suggested actions.
package deps

import (
    "fmt"
    "regexp"
    "sort"
    "strings"
    "time"

    "github.com/example/boardpulse/internal/domain"
    "github.com/example/boardpulse/internal/labels"
)

var (
    // blocker references: this issue is blocked by #N.
    incomingRe = regexp.MustCompile(`(?i)(?:blocked\s+by|depends\s+on)\s+#(\d+)`)
    // outgoing references: this issue blocks #N.
    outgoingRe = regexp.MustCompile(`(?i)\bblocks\s+#(\d+)`)
)

// Edge points from the blocking issue to the issue it blocks.
type Edge struct {
    Blocker int `json:"blocker"`
    Blocked int `json:"blocked"`
}

// Action priorities.
const (
    PriorityUrgent = "urgent"
    PriorityNormal = "normal"
)

type Action struct {
    Action   string `json:"action"`
    Details  string `json:"details"`
    Priority string `json:"priority"`
}

// BlockedIssue is an issue with at least one open incoming edge.
type BlockedIssue struct {
    IID            int      `json:"iid"`
    Title          string   `json:"title"`
    OpenBlockers   []int    `json:"open_blockers"`
    ClosedBlockers []int    `json:"closed_blockers,omitempty"`
    Blocks         []int    `json:"blocks,omitempty"`
    Severity       string   `json:"severity"`
    Actions        []Action `json:"actions,omitempty"`
}

// Blocked severities.
const (
    SeverityHigh   = "high"
    SeverityMedium = "medium"
    SeverityLow    = "low"
)

type Stats struct {
    BlockedCount int `json:"blocked_count"`
    OpenEdges    int `json:"open_edges"`
    HighSeverity int `json:"high_severity"`
    CycleCount   int `json:"cycle_count"`
}

// Graph holds the dependency picture as a node table plus edge and
// adjacency data indexed by iid; nodes never point at each other, so a
// cyclic graph still serializes cleanly.
type Graph struct {
    Nodes     map[int]domain.Issue `json:"-"`
    Edges     []Edge               `json:"edges"`
    BlockedBy map[int][]int        `json:"blocked_by"`
    BlocksOut map[int][]int        `json:"blocks"`
    Blocked   []BlockedIssue       `json:"blocked_issues"`
    Cycles    [][]int              `json:"cycles,omitempty"`
    Stats     Stats                `json:"stats"`
}

// Build parses every issue's text, keeps edges whose endpoints both exist
// in the snapshot, and derives blocked records, cycles and statistics.
// Self-references and duplicate edges are dropped.
func Build(issues []domain.Issue, now time.Time) Graph {
    nodes := make(map[int]domain.Issue, len(issues))
    for _, issue := range issues {
        nodes[issue.IID] = issue
    }

    seen := make(map[Edge]bool)
    var edges []Edge
    add := func(blocker, blocked int) {
        if blocker == blocked { return }
        if _, ok := nodes[blocker]; !ok { return }
        if _, ok := nodes[blocked]; !ok { return }
        e := Edge{Blocker: blocker, Blocked: blocked}
        if seen[e] { return }
        seen[e] = true
        edges = append(edges, e)
    }
    for _, issue := range issues {
        text := issue.Title + "\n" + issue.Description
        for _, m := range incomingRe.FindAllStringSubmatch(text, -1) {
            add(atoi(m[1]), issue.IID)
        }
        for _, m := range outgoingRe.FindAllStringSubmatch(text, -1) {
            add(issue.IID, atoi(m[1]))
        }
    }
    sort.SliceStable(edges, func(i, j int) bool {
        if edges[i].Blocker != edges[j].Blocker { return edges[i].Blocker < edges[j].Blocker }
        return edges[i].Blocked < edges[j].Blocked
    })

    blockedBy := make(map[int][]int)
    blocksOut := make(map[int][]int)
    openEdges := 0
    for _, e := range edges {
        blockedBy[e.Blocked] = append(blockedBy[e.Blocked], e.Blocker)
        blocksOut[e.Blocker] = append(blocksOut[e.Blocker], e.Blocked)
        if nodes[e.Blocker].Open() { openEdges++ }
    }

    g := Graph{Nodes: nodes, Edges: edges, BlockedBy: blockedBy, BlocksOut: blocksOut}
    g.Cycles = cycles(nodes, blocksOut)
    g.Blocked = blockedRecords(g, now)
    g.Stats = Stats{
        BlockedCount: len(g.Blocked),
        OpenEdges:    openEdges,
        CycleCount:   len(g.Cycles),
    }
    for _, b := range g.Blocked {
        if b.Severity == SeverityHigh { g.Stats.HighSeverity++ }
    }
    return g
}

func blockedRecords(g Graph, now time.Time) []BlockedIssue {
    iids := make([]int, 0, len(g.BlockedBy))
    for iid := range g.BlockedBy {
        iids = append(iids, iid)
    }
    sort.Ints(iids)

    var out []BlockedIssue
    for _, iid := range iids {
        issue := g.Nodes[iid]
        if issue.Closed() { continue }
        rec := BlockedIssue{IID: iid, Title: issue.Title, Blocks: g.BlocksOut[iid]}
        for _, b := range g.BlockedBy[iid] {
            if g.Nodes[b].Open() {
                rec.OpenBlockers = append(rec.OpenBlockers, b)
            } else {
                rec.ClosedBlockers = append(rec.ClosedBlockers, b)
            }
        }
        if len(rec.OpenBlockers) == 0 { continue }
        rec.Severity = severity(g, rec)
        rec.Actions = actions(g, rec, now)
        out = append(out, rec)
    }
    return out
}

// severity escalates when a blocker is itself flagged urgent by labels and
// the blocked issue has downstream dependents of its own.
func severity(g Graph, rec BlockedIssue) string {
    if len(rec.Blocks) > 0 {
        for _, b := range rec.OpenBlockers {
            if urgentBlocker(g.Nodes[b]) { return SeverityHigh }
        }
    }
    if len(rec.OpenBlockers) >= 2 { return SeverityMedium }
    return SeverityLow
}

func urgentBlocker(issue domain.Issue) bool {
    if labels.Priority(issue.Labels) == labels.PriorityHigh { return true }
    return labels.IsBlocked(issue.Labels)
}

// staleBlockerAge is how long a blocker may stay open before the report
// recommends escalation regardless of priority.
const staleBlockerAge = 14 * 24 * time.Hour

func actions(g Graph, rec BlockedIssue, now time.Time) []Action {
    var out []Action
    for _, b := range rec.OpenBlockers {
        blocker := g.Nodes[b]
        switch {
        case urgentBlocker(blocker):
            out = append(out, Action{
                Action:   "escalate",
                Details:  fmt.Sprintf("blocker #%d (%s) is high priority; escalate to unblock #%d", b, shorten(blocker.Title), rec.IID),
                Priority: PriorityUrgent,
            })
        case len(blocker.Assignees) == 0:
            out = append(out, Action{
                Action:   "assign",
                Details:  fmt.Sprintf("blocker #%d has no assignee; assign an owner", b),
                Priority: PriorityUrgent,
            })
        case !blocker.CreatedAt.IsZero() && now.Sub(blocker.CreatedAt) > staleBlockerAge:
            out = append(out, Action{
                Action:   "escalate",
                Details:  fmt.Sprintf("blocker #%d has been open more than two weeks; raise it in standup", b),
                Priority: PriorityUrgent,
            })
        case len(g.BlockedBy[b]) > 0:
            out = append(out, Action{
                Action:   "resolve-chain",
                Details:  fmt.Sprintf("blocker #%d is itself blocked; resolve the chain upstream", b),
                Priority: PriorityNormal,
            })
        default:
            out = append(out, Action{
                Action:   "follow-up",
                Details:  fmt.Sprintf("check progress on blocker #%d with %s", b, blocker.Assignees[0].Username),
                Priority: PriorityNormal,
            })
        }
    }
    return out
}

// cycles runs Tarjan's strongly connected components over the directed
// graph and returns every component of size two or more, members sorted
// ascending, components ordered by smallest member. Iteration over the
// node table is sorted first so output is deterministic.
func cycles(nodes map[int]domain.Issue, adj map[int][]int) [][]int {
    iids := make([]int, 0, len(nodes))
    for iid := range nodes { iids = append(iids, iid) }
    sort.Ints(iids)

    index := make(map[int]int, len(nodes))
    lowlink := make(map[int]int, len(nodes))
    onStack := make(map[int]bool, len(nodes))
    var stack []int
    next := 0
    var out [][]int

    var strongconnect func(v int)
    strongconnect = func(v int) {
        index[v] = next
        lowlink[v] = next
        next++
        stack = append(stack, v)
        onStack[v] = true

        for _, w := range adj[v] {
            if _, visited := index[w]; !visited {
                strongconnect(w)
                if lowlink[w] < lowlink[v] { lowlink[v] = lowlink[w] }
            } else if onStack[w] {
                if index[w] < lowlink[v] { lowlink[v] = index[w] }
            }
        }

        if lowlink[v] == index[v] {
            var comp []int
            for {
                w := stack[len(stack)-1]
                stack = stack[:len(stack)-1]
                onStack[w] = false
                comp = append(comp, w)
                if w == v { break }
            }
            if len(comp) > 1 {
                sort.Ints(comp)
                out = append(out, comp)
            }
        }
    }
    for _, iid := range iids {
        if _, visited := index[iid]; !visited {
            strongconnect(iid)
        }
    }
    sort.SliceStable(out, func(i, j int) bool { return out[i][0] < out[j][0] })
    return out
}

func atoi(s string) int {
    n := 0
    for _, c := range s {
        n = n*10 + int(c-'0')
    }
    return n
}

func shorten(s string) string {
    s = strings.TrimSpace(s)
    if r := []rune(s); len(r) > 40 { return string(r[:40]) + "…" }
    return s
}
