package zone

import "time"

// Zone is an administrative area of the city. Employees are assigned to
// exactly one zone and office staff manage a set of zones; both are
// referenced by name in access-token claims.
type Zone struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
