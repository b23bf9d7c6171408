package capacity

import (
    "fmt"
    "math"
    "sort"
)

// RoleTable is the asymmetric role-compatibility relation: the value lists
// the roles whose members may take over work from the keyed role.
type RoleTable map[string][]string

// DefaultRoleTable covers the nine workspace roles. It is configuration,
// not behavior; teams override it via the team file.
func DefaultRoleTable() RoleTable {
    return RoleTable{
        "Developer":          {"Developer", "Data Engineer"},
        "Data Engineer":      {"Data Engineer", "Developer"},
        "Business Analyst":   {"Business Analyst", "Product Owner"},
        "Product Owner":      {"Product Owner", "Business Analyst"},
        "QA Engineer":        {"QA Engineer", "Developer"},
        "DevOps Engineer":    {"DevOps Engineer", "SRE", "Developer"},
        "SRE":                {"SRE", "DevOps Engineer"},
        "Scrum Master":       {"Scrum Master", "Initiative Manager"},
        "Initiative Manager": {"Initiative Manager", "Scrum Master"},
    }
}

func (t RoleTable) Compatible(from, to string) bool {
    for _, r := range t[from] {
        if r == to { return true }
    }
    return false
}

// DefaultRebalanceFraction is the share of an overloaded member's open
// issues a proposal suggests moving.
const DefaultRebalanceFraction = 0.3

// Proposal suggests moving a fraction of an overloaded member's work to a
// role-compatible teammate. When no compatible teammate has spare capacity
// the proposal degrades to a warning naming the roles that could help.
type Proposal struct {
    From            string   `json:"from"`
    FromRole        string   `json:"from_role"`
    To              string   `json:"to,omitempty"`
    ToRole          string   `json:"to_role,omitempty"`
    IssueCount      int      `json:"issue_count,omitempty"`
    Fraction        float64  `json:"fraction"`
    TargetUtilAfter float64  `json:"target_util_after,omitempty"`
    Warning         bool     `json:"warning,omitempty"`
    RequiredRoles   []string `json:"required_roles,omitempty"`
    Note            string   `json:"note"`
}

// Rebalance emits at most one proposal per overloaded member, picking the
// compatible candidate with the lowest utilization (username breaks ties
// so identical inputs give identical output). Candidates must sit under
// 80% utilization with non-zero capacity.
func Rebalance(result Result, table RoleTable) []Proposal {
    candidates := make([]MemberLoad, 0, len(result.Members))
    for _, m := range result.Members {
        if m.WeeklyCapacity > 0 && m.Utilization < 80 {
            candidates = append(candidates, m)
        }
    }
    sort.SliceStable(candidates, func(i, j int) bool {
        if candidates[i].Utilization != candidates[j].Utilization {
            return candidates[i].Utilization < candidates[j].Utilization
        }
        return candidates[i].Username < candidates[j].Username
    })

    var out []Proposal
    for _, over := range result.Members {
        if over.Status != StatusOverloaded { continue }

        var target *MemberLoad
        for i := range candidates {
            c := &candidates[i]
            if c.Username == over.Username { continue }
            if table.Compatible(over.Role, c.Role) {
                target = c
                break
            }
        }
        if target == nil {
            out = append(out, Proposal{
                From:          over.Username,
                FromRole:      over.Role,
                Fraction:      DefaultRebalanceFraction,
                Warning:       true,
                RequiredRoles: table[over.Role],
                Note:          fmt.Sprintf("%s is overloaded (%.0f%%) but no available member matches roles %v", over.Username, over.Utilization, table[over.Role]),
            })
            continue
        }

        moveCount := int(math.Ceil(DefaultRebalanceFraction * float64(len(over.OpenIssues))))
        moveHours := DefaultRebalanceFraction * over.AllocatedHours
        utilAfter := target.Utilization
        if target.WeeklyCapacity > 0 {
            utilAfter = (target.AllocatedHours + moveHours) / target.WeeklyCapacity * 100
        }
        out = append(out, Proposal{
            From:            over.Username,
            FromRole:        over.Role,
            To:              target.Username,
            ToRole:          target.Role,
            IssueCount:      moveCount,
            Fraction:        DefaultRebalanceFraction,
            TargetUtilAfter: utilAfter,
            Note:            fmt.Sprintf("move ~%d issues (%.0fh) from %s to %s; %s would land at %.0f%%", moveCount, moveHours, over.Username, target.Username, target.Username, utilAfter),
        })
    }
    return out
}
