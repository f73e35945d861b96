package model

import "time"

// ThreadNote is one message of a discussion thread, as returned by the
// platform API.
type ThreadNote struct {
	Author    string
	Body      string
	CreatedAt time.Time
	System    bool
}
