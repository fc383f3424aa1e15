package dto

// RegenerateRequest optionally overrides the configured scheduler behaviour.
type RegenerateRequest struct {
	RebuildAll *bool `json:"rebuild_all"`
	MaxNodes   *int  `json:"max_nodes" validate:"omitempty,min=1"`
}

// UnplaceableCourse reports demand the scheduler could not satisfy.
type UnplaceableCourse struct {
	CourseID   string `json:"course_id"`
	CourseCode string `json:"course_code"`
	Remaining  int    `json:"remaining"`
}

// RegenerateResult summarises a regenerate run. When Complete is false the
// ledger was left untouched and Unplaceable lists the unmet courses.
type RegenerateResult struct {
	Complete      bool                `json:"complete"`
	Placed        int                 `json:"placed"`
	NodesExplored int                 `json:"nodes_explored"`
	Unplaceable   []UnplaceableCourse `json:"unplaceable,omitempty"`
}
