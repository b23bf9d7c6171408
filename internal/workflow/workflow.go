// Package workflow classifies a sprint's dominant delivery phase from the
// text of its open issues and turns spare capacity into concrete work
// suggestions for underutilized members.
package workflow

import (
    "fmt"
    "sort"
    "strings"

    "github.com/example/boardpulse/internal/capacity"
    "github.com/example/boardpulse/internal/domain"
)

type Phase string

const (
    PhaseDiscovery      Phase = "Discovery"
    PhaseAnalysis       Phase = "Analysis"
    PhasePlanning       Phase = "Planning"
    PhaseImplementation Phase = "Implementation"
    PhaseTesting        Phase = "Testing"
    PhaseDeployment     Phase = "Deployment"
)

// Phases in delivery order; ties in scoring resolve to the earlier phase.
var Phases = []Phase{
    PhaseDiscovery, PhaseAnalysis, PhasePlanning,
    PhaseImplementation, PhaseTesting, PhaseDeployment,
}

// indicators are the phase-specific keywords counted across each open
// issue's title, description and labels.
var indicators = map[Phase][]string{
    PhaseDiscovery:      {"discovery", "research", "spike", "explore", "investigat", "poc"},
    PhaseAnalysis:       {"analysis", "requirement", "specification", "clarif", "define"},
    PhasePlanning:       {"planning", "estimate", "breakdown", "roadmap", "refinement"},
    PhaseImplementation: {"implement", "develop", "build", "feature", "code", "fix"},
    PhaseTesting:        {"test", "qa", "verify", "regression", "defect", "bug"},
    PhaseDeployment:     {"deploy", "release", "rollout", "launch", "migration"},
}

// Detection is the sprint phase verdict plus the raw evidence behind it.
type Detection struct {
    Phase             Phase         `json:"phase"`
    CompletionPercent float64       `json:"completion_percent"`
    Scores            map[Phase]int `json:"scores"`
}

// DetectPhase scores open issues by indicator keywords and picks the
// winner, then applies completion overrides: a nearly finished sprint is
// in Deployment or Testing regardless of issue wording, and a barely
// started sprint dominated by analysis-flavored labels is in Analysis.
func DetectPhase(issues []domain.Issue) Detection {
    d := Detection{Phase: PhaseDiscovery, Scores: make(map[Phase]int)}
    if len(issues) == 0 { return d }

    closed := 0
    open := make([]domain.Issue, 0, len(issues))
    for _, issue := range issues {
        if issue.Closed() {
            closed++
            continue
        }
        open = append(open, issue)
    }
    d.CompletionPercent = float64(closed) / float64(len(issues)) * 100

    for _, issue := range open {
        text := issueText(issue)
        for _, phase := range Phases {
            d.Scores[phase] += countIndicators(text, indicators[phase])
        }
    }
    best := PhaseDiscovery
    for _, phase := range Phases {
        if d.Scores[phase] > d.Scores[best] { best = phase }
    }
    d.Phase = best

    switch {
    case d.CompletionPercent >= 90:
        d.Phase = PhaseDeployment
    case d.CompletionPercent >= 80:
        d.Phase = PhaseTesting
    case d.CompletionPercent < 10 && analysisHeavy(open):
        d.Phase = PhaseAnalysis
    }
    return d
}

// analysisHeavy reports whether at least half the open issues carry a
// discovery, analysis or requirement label.
func analysisHeavy(open []domain.Issue) bool {
    if len(open) == 0 { return false }
    n := 0
    for _, issue := range open {
        for _, l := range issue.Labels {
            ll := strings.ToLower(l)
            if strings.Contains(ll, "discovery") || strings.Contains(ll, "analysis") || strings.Contains(ll, "requirement") {
                n++
                break
            }
        }
    }
    return float64(n) >= float64(len(open))/2
}

func issueText(issue domain.Issue) string {
    parts := []string{issue.Title, issue.Description}
    parts = append(parts, issue.Labels...)
    return strings.ToLower(strings.Join(parts, " "))
}

func countIndicators(text string, kws []string) int {
    n := 0
    for _, kw := range kws {
        n += strings.Count(text, kw)
    }
    return n
}

// Capability describes what a role is best at: the phases it owns, the
// phases it can reasonably help with, and the keywords used to match
// backlog issues to the role.
type Capability struct {
    Primary   []Phase
    Secondary []Phase
    Keywords  []string
}

func DefaultCapabilities() map[string]Capability {
    return map[string]Capability{
        "Developer":          {Primary: []Phase{PhaseImplementation}, Secondary: []Phase{PhaseTesting, PhaseDeployment}, Keywords: []string{"implement", "feature", "fix", "refactor", "api"}},
        "Data Engineer":      {Primary: []Phase{PhaseImplementation}, Secondary: []Phase{PhaseAnalysis}, Keywords: []string{"pipeline", "data", "etl", "schema", "migration"}},
        "Business Analyst":   {Primary: []Phase{PhaseAnalysis, PhaseDiscovery}, Secondary: []Phase{PhasePlanning}, Keywords: []string{"requirement", "analysis", "process", "specification"}},
        "Product Owner":      {Primary: []Phase{PhaseDiscovery, PhasePlanning}, Secondary: []Phase{PhaseAnalysis}, Keywords: []string{"roadmap", "priorit", "stakeholder", "scope"}},
        "QA Engineer":        {Primary: []Phase{PhaseTesting}, Secondary: []Phase{PhaseImplementation}, Keywords: []string{"test", "qa", "regression", "automation", "bug"}},
        "DevOps Engineer":    {Primary: []Phase{PhaseDeployment}, Secondary: []Phase{PhaseImplementation, PhaseTesting}, Keywords: []string{"deploy", "pipeline", "infrastructure", "ci", "docker"}},
        "SRE":                {Primary: []Phase{PhaseDeployment}, Secondary: []Phase{PhaseTesting}, Keywords: []string{"monitoring", "alert", "reliability", "incident", "slo"}},
        "Scrum Master":       {Primary: []Phase{PhasePlanning}, Secondary: []Phase{PhaseDiscovery}, Keywords: []string{"process", "retro", "ceremony", "impediment"}},
        "Initiative Manager": {Primary: []Phase{PhasePlanning, PhaseDiscovery}, Secondary: nil, Keywords: []string{"initiative", "milestone", "report", "dependency"}},
    }
}

func containsPhase(phases []Phase, p Phase) bool {
    for _, x := range phases {
        if x == p { return true }
    }
    return false
}

// Suggestion kinds and priorities.
const (
    SuggestNextPhase     = "next-phase-prep"
    SuggestBacklog       = "backlog-pickup"
    SuggestCrossTraining = "cross-training"
    SuggestKnowledge     = "knowledge-sharing"
)

type Suggestion struct {
    Type          string         `json:"type"`
    Priority      string         `json:"priority"`
    Title         string         `json:"title"`
    Description   string         `json:"description"`
    Impact        string         `json:"impact"`
    SuggestedWork []domain.Issue `json:"suggested_work,omitempty"`
}

type MemberRecommendation struct {
    Username    string       `json:"username"`
    Role        string       `json:"role"`
    Utilization float64      `json:"utilization"`
    Suggestions []Suggestion `json:"suggestions"`
}

const maxSuggestions = 4

// Recommend produces up to four suggestions for every member running under
// 60% utilization with non-zero capacity. Backlog picks are the open,
// unassigned issues whose text matches the member's role keywords, ordered
// primary-phase matches first and denser keyword matches before sparser.
func Recommend(result capacity.Result, detection Detection, backlog []domain.Issue, caps map[string]Capability) []MemberRecommendation {
    var out []MemberRecommendation
    for _, m := range result.Members {
        if m.WeeklyCapacity <= 0 || m.Utilization >= 60 { continue }
        ability := caps[m.Role]
        rec := MemberRecommendation{Username: m.Username, Role: m.Role, Utilization: m.Utilization}

        if !containsPhase(ability.Primary, detection.Phase) {
            next := nextPhase(detection.Phase)
            rec.Suggestions = append(rec.Suggestions, Suggestion{
                Type:        SuggestNextPhase,
                Priority:    "high",
                Title:       fmt.Sprintf("Prepare %s work", next),
                Description: fmt.Sprintf("the sprint is in %s, outside your primary focus; get ahead on %s items so the handoff is ready", detection.Phase, next),
                Impact:      "smoother phase transition",
            })
        }

        if picks := matchBacklog(backlog, ability); len(picks) > 0 {
            rec.Suggestions = append(rec.Suggestions, Suggestion{
                Type:          SuggestBacklog,
                Priority:      "medium",
                Title:         "Pick up matching backlog work",
                Description:   fmt.Sprintf("%d unassigned backlog issues match the %s role", len(picks), m.Role),
                Impact:        "raises utilization toward a healthy band",
                SuggestedWork: picks,
            })
        }

        if partner := overloadedPrimary(result, detection.Phase, caps, m.Username); partner != "" {
            rec.Suggestions = append(rec.Suggestions, Suggestion{
                Type:        SuggestCrossTraining,
                Priority:    "medium",
                Title:       fmt.Sprintf("Pair with %s", partner),
                Description: fmt.Sprintf("%s is overloaded on %s work; pairing relieves them and grows your coverage", partner, detection.Phase),
                Impact:      "reduces overload and bus factor",
            })
        }

        rec.Suggestions = append(rec.Suggestions, Suggestion{
            Type:        SuggestKnowledge,
            Priority:    "low",
            Title:       "Document or demo recent work",
            Description: "use the slack time to write up or demo something only you currently understand",
            Impact:      "spreads knowledge across the team",
        })

        if len(rec.Suggestions) > maxSuggestions {
            rec.Suggestions = rec.Suggestions[:maxSuggestions]
        }
        out = append(out, rec)
    }
    return out
}

func nextPhase(p Phase) Phase {
    for i, x := range Phases {
        if x == p && i+1 < len(Phases) { return Phases[i+1] }
    }
    return Phases[len(Phases)-1]
}

const maxSuggestedWork = 5

// matchBacklog returns the top open unassigned issues whose text matches
// the role's keywords, primary-phase matches first, then by match count.
func matchBacklog(backlog []domain.Issue, ability Capability) []domain.Issue {
    type scored struct {
        issue   domain.Issue
        primary bool
        count   int
    }
    var matches []scored
    for _, issue := range backlog {
        if issue.Closed() || len(issue.Assignees) > 0 { continue }
        text := issueText(issue)
        count := countIndicators(text, ability.Keywords)
        if count == 0 { continue }
        primary := false
        for _, p := range ability.Primary {
            if countIndicators(text, indicators[p]) > 0 { primary = true; break }
        }
        matches = append(matches, scored{issue: issue, primary: primary, count: count})
    }
    sort.SliceStable(matches, func(i, j int) bool {
        if matches[i].primary != matches[j].primary { return matches[i].primary }
        if matches[i].count != matches[j].count { return matches[i].count > matches[j].count }
        return matches[i].issue.IID < matches[j].issue.IID
    })
    if len(matches) > maxSuggestedWork { matches = matches[:maxSuggestedWork] }
    out := make([]domain.Issue, len(matches))
    for i, m := range matches { out[i] = m.issue }
    return out
}

// overloadedPrimary finds an overloaded teammate whose role owns the
// current phase, for cross-training pairings.
func overloadedPrimary(result capacity.Result, phase Phase, caps map[string]Capability, exclude string) string {
    for _, m := range result.Members {
        if m.Username == exclude || m.Status != capacity.StatusOverloaded { continue }
        if containsPhase(caps[m.Role].Primary, phase) { return m.Username }
    }
    return ""
}

// EfficiencyScore grades how well the team's roles fit the detected phase:
// members whose primary capabilities cover it count full, secondary count
// half, everyone else zero.
func EfficiencyScore(members []domain.TeamMember, phase Phase, caps map[string]Capability) float64 {
    if len(members) == 0 { return 0 }
    optimal, suboptimal := 0, 0
    for _, m := range members {
        ability := caps[m.Role]
        switch {
        case containsPhase(ability.Primary, phase):
            optimal++
        case containsPhase(ability.Secondary, phase):
            suboptimal++
        }
    }
    return float64(optimal*100+suboptimal*50) / float64(len(members))
}
