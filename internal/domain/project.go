package domain

// Project groups boards for a team.
type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TeamName    string `json:"team_name,omitempty"`
}
