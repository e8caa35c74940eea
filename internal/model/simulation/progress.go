package simulation

// Progress counts how publish chains ended since the last reset.
type Progress struct {
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
	Lost      int `json:"lost"`
}

// LabStep is one entry of the student checklist.
type LabStep struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Status is the read-only view handed to renderers.
type Status struct {
	State    State     `json:"state"`
	Progress Progress  `json:"progress"`
	Steps    []LabStep `json:"steps"`
	NextStep int       `json:"nextStep"`
}
