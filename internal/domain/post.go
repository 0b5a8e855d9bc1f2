package domain

import "time"

// Post is a published feed item. Style-transfer jobs reference one as the
// style seed; only its artifact location matters here.
type Post struct {
	ID        string
	OwnerID   string
	ImagePool string
	ImagePath string
	CreatedAt time.Time
}
