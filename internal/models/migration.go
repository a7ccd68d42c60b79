package models

import "time"

// ProjectPair links a source project to the project it maps to in the target workspace.
type ProjectPair struct {
	Source   string `json:"source_code"`
	Target   string `json:"target_code"`
	SourceID int    `json:"source_id,omitempty"`
	TargetID int    `json:"target_id,omitempty"`
}

// StepReport holds the outcome of one orchestrator step.
type StepReport struct {
	Name     string        `json:"name"`
	Project  string        `json:"project,omitempty"`
	Status   string        `json:"status"` // "done" or "failed"
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}
