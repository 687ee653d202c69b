package query

import "time"

type PostDTO struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Hits  int    `json:"hits"`
}

type UserDTO struct {
	Name      string    `json:"name"`
	Icon      string    `json:"icon"`
	Posts     []PostDTO `json:"posts"`
	CreatedAt time.Time `json:"createdAt"`
	Friends   []*UserDTO
	Extra     map[string]any `json:"extra"`
	internal  int
}

type ErrorDTO struct {
	Message string `json:"message"`
}

type QueryUserVariables struct {
	ID string `json:"id"`
}

type EditPostVariables struct {
	ID    string  `json:"id"`
	Title *string `json:"title,omitempty"`
}
