package board

// WorkflowStatus is a named state an issue can be in. Column buckets are
// keyed by status id, not column id, because the server uses the status as
// the source of truth for which column an issue lives in.
type WorkflowStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	IsInitial bool   `json:"is_initial"`
	IsFinal   bool   `json:"is_final"`
}

// Column is a visual bucket on a board backed by one workflow status.
type Column struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Order  int            `json:"order"`
	Status WorkflowStatus `json:"status"`
	MinWIP *int           `json:"min_wip,omitempty"`
	MaxWIP *int           `json:"max_wip,omitempty"`
}

// Board types.
const (
	TypeKanban = "kanban"
	TypeScrum  = "scrum"
)

// Board is a kanban/scrum container of columns for one project. Column
// order is significant and kept ascending by Order.
type Board struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	ProjectID string   `json:"project_id"`
	Columns   []Column `json:"columns"`
}

// UserRef identifies the user attached to an issue or event.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Issue is a single work item. Status.ID determines which column bucket it
// lives in client-side.
type Issue struct {
	ID             string         `json:"id"`
	Key            string         `json:"key"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Priority       string         `json:"priority"`
	Assignee       *UserRef       `json:"assignee"`
	Status         WorkflowStatus `json:"status"`
	StoryPoints    int            `json:"story_points"`
	EstimatedHours float64        `json:"estimated_hours"`
	ActualHours    float64        `json:"actual_hours"`
	TypeID         string         `json:"type_id"`
}
