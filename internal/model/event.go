package model

import "time"

// Event represents a class instance members can check in to. Live events
// with a start date and a capacity are reservable; recorded events carry a
// RecordedURL and no capacity.
//
// Fields:
//
//	ID                  – primary key identifier.
//	Title               – display title.
//	IsLive              – whether the event happens live.
//	StartDate           – when the event begins (nullable).
//	Duration            – length of the event in minutes.
//	CheckInsMaxQuantity – seat capacity (nullable, fixed at edit time).
//	RecordedURL         – link for on-demand events (nullable).
//	CreatedAt           – creation timestamp.
//	UpdatedAt           – last update timestamp.
type Event struct {
	ID                  string     `json:"id"`                     // events.id
	Title               string     `json:"title"`                  // events.title
	IsLive              bool       `json:"is_live"`                // events.is_live
	StartDate           *time.Time `json:"start_date"`             // events.start_date (nullable)
	Duration            int        `json:"duration"`               // events.duration
	CheckInsMaxQuantity *int       `json:"check_ins_max_quantity"` // events.check_ins_max_quantity (nullable)
	RecordedURL         *string    `json:"recorded_url,omitempty"` // events.recorded_url (nullable)
	CreatedAt           time.Time  `json:"created_at"`             // events.created_at
	UpdatedAt           time.Time  `json:"updated_at"`             // events.updated_at
}

// EndsAt returns the end of the event, or the zero time when no start is set.
func (e Event) EndsAt() time.Time {
	if e.StartDate == nil {
		return time.Time{}
	}
	return e.StartDate.Add(time.Duration(e.Duration) * time.Minute)
}

// EventAvailability is the public view of an event with its current
// occupancy.
type EventAvailability struct {
	Event
	CheckInsCount int  `json:"check_ins_count"`
	SeatsLeft     *int `json:"seats_left,omitempty"`
}
