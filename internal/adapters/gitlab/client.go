/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package gitlab

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/example/boardpulse/internal/config"
    "github.com/example/boardpulse/internal/domain"
    "github.com/rs/zerolog"
)

type Client struct {
    baseURL  string
    token    string
    groupID  string
    projects []string
    http     *http.Client
    log      zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        baseURL:  strings.TrimRight(cfg.GitLabBaseURL, "/"),
        token:    cfg.GitLabToken,
        groupID:  cfg.GitLabGroupID,
        projects: cfg.GitLabProjects,
        http:     &http.Client{Timeout: cfg.HTTPTimeout},
        log:      log,
    }
}

func (c *Client) apiURL(path string, q url.Values) string {
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    u := c.baseURL + "/api/v4" + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}

// getJSON fetches one page into out and returns the next page number, zero
// when the listing is exhausted. Retries on 429 and 5xx with backoff.
func (c *Client) getJSON(ctx context.Context, u string, out any) (int, error) {
    if c.baseURL == "" { return 0, errors.New("gitlab: empty baseURL") }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        if attempt > 0 {
            time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
        }
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
        if err != nil { return 0, err }
        if c.token != "" { req.Header.Set("PRIVATE-TOKEN", c.token) }
        resp, err := c.http.Do(req)
        if err != nil { lastErr = err; continue }
        if resp.StatusCode >= 300 {
            b, _ := io.ReadAll(resp.Body)
            resp.Body.Close()
            err = fmt.Errorf("gitlab api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
            // retry on 429/5xx
            if resp.StatusCode == 429 || resp.StatusCode >= 500 { lastErr = err; continue }
            return 0, err
        }
        decodeErr := json.NewDecoder(resp.Body).Decode(out)
        next, _ := strconv.Atoi(resp.Header.Get("X-Next-Page"))
        resp.Body.Close()
        if decodeErr != nil { return 0, decodeErr }
        return next, nil
    }
    return 0, lastErr
}

type issueDTO struct {
    IID       int      `json:"iid"`
    ProjectID int      `json:"project_id"`
    Title     string   `json:"title"`
    State     string   `json:"state"`
    Labels    []string `json:"labels"`
    Assignees []struct {
        Username  string `json:"username"`
        Name      string `json:"name"`
        AvatarURL string `json:"avatar_url"`
    } `json:"assignees"`
    Epic *struct {
        ID int `json:"id"`
    } `json:"epic"`
    Milestone *struct {
        ID int `json:"id"`
    } `json:"milestone"`
    Iteration *struct {
        ID        int    `json:"id"`
        Title     string `json:"title"`
        StartDate string `json:"start_date"`
        DueDate   string `json:"due_date"`
    } `json:"iteration"`
    Weight      int        `json:"weight"`
    DueDate     string     `json:"due_date"`
    CreatedAt   time.Time  `json:"created_at"`
    UpdatedAt   time.Time  `json:"updated_at"`
    ClosedAt    *time.Time `json:"closed_at"`
    Description string     `json:"description"`
    WebURL      string     `json:"web_url"`
}

func (d issueDTO) toDomain() domain.Issue {
    issue := domain.Issue{
        IID: d.IID, Title: d.Title, State: d.State, Labels: d.Labels,
        Weight: d.Weight, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
        ClosedAt: d.ClosedAt, Description: d.Description, WebURL: d.WebURL,
    }
    for _, a := range d.Assignees {
        issue.Assignees = append(issue.Assignees, domain.User{Username: a.Username, Name: a.Name, AvatarURL: a.AvatarURL})
    }
    if d.Epic != nil { issue.EpicID = d.Epic.ID }
    if d.Milestone != nil { issue.MilestoneID = d.Milestone.ID }
    if d.Iteration != nil {
        it := domain.Iteration{ID: d.Iteration.ID, Title: d.Iteration.Title}
        it.StartDate = parseDate(d.Iteration.StartDate)
        it.DueDate = parseDate(d.Iteration.DueDate)
        issue.Iteration = &it
    }
    issue.DueDate = parseDate(d.DueDate)
    return issue
}

// parseDate handles GitLab's bare yyyy-mm-dd date fields.
func parseDate(s string) *time.Time {
    if s == "" { return nil }
    t, err := time.Parse("2006-01-02", s)
    if err != nil { return nil }
    return &t
}

// IssueRef ties an issue back to its project for follow-up label event
// fetches. Group-level listings mix projects, so the mapping is per issue.
type IssueRef struct {
    ProjectID int
    IID       int
}

// Issues pulls every issue visible under the configured group or project
// list, following pagination to the end.
func (c *Client) Issues(ctx context.Context, updatedAfter time.Time) ([]domain.Issue, []IssueRef, error) {
    paths := c.issuePaths()
    if len(paths) == 0 { return nil, nil, errors.New("gitlab: no group or projects configured") }

    var issues []domain.Issue
    var refs []IssueRef
    for _, path := range paths {
        page := 1
        for page > 0 {
            q := url.Values{}
            q.Set("per_page", "100")
            q.Set("page", strconv.Itoa(page))
            q.Set("scope", "all")
            q.Set("with_labels_details", "false")
            if !updatedAfter.IsZero() { q.Set("updated_after", updatedAfter.Format(time.RFC3339)) }
            var batch []issueDTO
            next, err := c.getJSON(ctx, c.apiURL(path, q), &batch)
            if err != nil { return nil, nil, err }
            for _, d := range batch {
                issues = append(issues, d.toDomain())
                refs = append(refs, IssueRef{ProjectID: d.ProjectID, IID: d.IID})
            }
            page = next
        }
    }
    return issues, refs, nil
}

func (c *Client) issuePaths() []string {
    if c.groupID != "" {
        return []string{"/groups/" + url.PathEscape(c.groupID) + "/issues"}
    }
    var out []string
    for _, p := range c.projects {
        out = append(out, "/projects/"+url.PathEscape(p)+"/issues")
    }
    return out
}

type milestoneDTO struct {
    ID        int    `json:"id"`
    Title     string `json:"title"`
    State     string `json:"state"`
    StartDate string `json:"start_date"`
    DueDate   string `json:"due_date"`
}

func (c *Client) Milestones(ctx context.Context) ([]domain.Milestone, error) {
    var out []domain.Milestone
    err := c.listGroup(ctx, "milestones", func(q url.Values) (int, error) {
        var batch []milestoneDTO
        next, err := c.getJSON(ctx, c.apiURL(c.groupPath("milestones"), q), &batch)
        if err != nil { return 0, err }
        for _, d := range batch {
            out = append(out, domain.Milestone{
                ID: d.ID, Title: d.Title, State: d.State,
                StartDate: parseDate(d.StartDate), DueDate: parseDate(d.DueDate),
            })
        }
        return next, nil
    })
    return out, err
}

type epicDTO struct {
    ID        int    `json:"id"`
    Title     string `json:"title"`
    StartDate string `json:"start_date"`
    EndDate   string `json:"end_date"`
}

func (c *Client) Epics(ctx context.Context) ([]domain.Epic, error) {
    if c.groupID == "" { return nil, nil }
    var out []domain.Epic
    err := c.listGroup(ctx, "epics", func(q url.Values) (int, error) {
        var batch []epicDTO
        next, err := c.getJSON(ctx, c.apiURL(c.groupPath("epics"), q), &batch)
        if err != nil { return 0, err }
        for _, d := range batch {
            out = append(out, domain.Epic{
                ID: d.ID, Title: d.Title,
                StartDate: parseDate(d.StartDate), EndDate: parseDate(d.EndDate),
            })
        }
        return next, nil
    })
    return out, err
}

type iterationDTO struct {
    ID        int    `json:"id"`
    Title     string `json:"title"`
    StartDate string `json:"start_date"`
    DueDate   string `json:"due_date"`
}

func (c *Client) Iterations(ctx context.Context) ([]domain.Iteration, error) {
    if c.groupID == "" { return nil, nil }
    var out []domain.Iteration
    err := c.listGroup(ctx, "iterations", func(q url.Values) (int, error) {
        var batch []iterationDTO
        next, err := c.getJSON(ctx, c.apiURL(c.groupPath("iterations"), q), &batch)
        if err != nil { return 0, err }
        for _, d := range batch {
            out = append(out, domain.Iteration{
                ID: d.ID, Title: d.Title,
                StartDate: parseDate(d.StartDate), DueDate: parseDate(d.DueDate),
            })
        }
        return next, nil
    })
    return out, err
}

func (c *Client) groupPath(resource string) string {
    return "/groups/" + url.PathEscape(c.groupID) + "/" + resource
}

func (c *Client) listGroup(ctx context.Context, resource string, fetch func(q url.Values) (int, error)) error {
    if c.groupID == "" { return nil }
    page := 1
    for page > 0 {
        q := url.Values{}
        q.Set("per_page", "100")
        q.Set("page", strconv.Itoa(page))
        next, err := fetch(q)
        if err != nil { return err }
        page = next
    }
    return nil
}

type labelEventDTO struct {
    Action string `json:"action"`
    Label  *struct {
        Name string `json:"name"`
    } `json:"label"`
    CreatedAt time.Time `json:"created_at"`
}

// LabelEvents fetches the label history of one issue. GitLab reports these
// per project, so group snapshots fan out per issue ref.
func (c *Client) LabelEvents(ctx context.Context, ref IssueRef) ([]domain.LabelEvent, error) {
    path := fmt.Sprintf("/projects/%d/issues/%d/resource_label_events", ref.ProjectID, ref.IID)
    var out []domain.LabelEvent
    page := 1
    for page > 0 {
        q := url.Values{}
        q.Set("per_page", "100")
        q.Set("page", strconv.Itoa(page))
        var batch []labelEventDTO
        next, err := c.getJSON(ctx, c.apiURL(path, q), &batch)
        if err != nil { return nil, err }
        for _, d := range batch {
            if d.Label == nil { continue }
            out = append(out, domain.LabelEvent{
                IssueIID: ref.IID,
                Action:   d.Action,
                Label:    d.Label.Name,
                At:       d.CreatedAt,
            })
        }
        page = next
    }
    return out, nil
}
