// Package model defines the core domain types for the volunteer sign-up system.
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// DateLayout is the calendar-date format used for Event.Date.
const DateLayout = "2006-01-02"

// Event is a sign-up sheet published by an organizer.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Slots       []Slot `json:"slots"`
}

// Slot is a capacity-bounded volunteer role within an Event.
type Slot struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	ClaimedBy []Claim `json:"claimedBy"`
}

// Remaining returns the number of open places left in the slot.
func (s *Slot) Remaining() int {
	return s.Count - len(s.ClaimedBy)
}

// IsFull returns true when no places remain.
func (s *Slot) IsFull() bool {
	return len(s.ClaimedBy) >= s.Count
}

// Claim is one person's sign-up against a Slot.
type Claim struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Notes      string    `json:"notes"`
	PublicName string    `json:"publicName"`
	Timestamp  time.Time `json:"timestamp"`
}

// claimFields breaks the UnmarshalJSON recursion.
type claimFields Claim

// UnmarshalJSON accepts both the object form and the bare-name string the
// first version of the front end stored in claimedBy.
func (c *Claim) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return err
		}
		*c = Claim{PublicName: name}
		return nil
	}
	var f claimFields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return err
	}
	*c = Claim(f)
	return nil
}

// Claimant is the structured payload a member of the public submits to claim a slot.
type Claimant struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes"`
}

// Document is the persisted snapshot layout and the body of GET/PUT /api/events.
type Document struct {
	Events []Event `json:"events"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Date        string              `json:"date"`
	Slots       []CreateSlotRequest `json:"slots"`
}

// CreateSlotRequest describes one slot of a new event.
type CreateSlotRequest struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse acknowledges a successful mutation.
type OKResponse struct {
	OK bool `json:"ok"`
}

// CloneEvents returns a deep copy of events so callers can mutate the result
// without touching the original snapshot.
func CloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e
		if e.Slots != nil {
			out[i].Slots = make([]Slot, len(e.Slots))
			for j, s := range e.Slots {
				out[i].Slots[j] = s
				if s.ClaimedBy != nil {
					out[i].Slots[j].ClaimedBy = make([]Claim, len(s.ClaimedBy))
					copy(out[i].Slots[j].ClaimedBy, s.ClaimedBy)
				}
			}
		}
	}
	return out
}

// Normalize replaces absent slot and claim lists with empty ones, so every
// stored event keeps the {slots: [], claimedBy: []} shape.
func Normalize(events []Event) []Event {
	if events == nil {
		return []Event{}
	}
	for i := range events {
		if events[i].Slots == nil {
			events[i].Slots = []Slot{}
		}
		for j := range events[i].Slots {
			if events[i].Slots[j].ClaimedBy == nil {
				events[i].Slots[j].ClaimedBy = []Claim{}
			}
		}
	}
	return events
}

// FindEvent returns the index of the event with id, or -1.
func FindEvent(events []Event, id string) int {
	for i := range events {
		if events[i].ID == id {
			return i
		}
	}
	return -1
}

// FindSlot returns the index of the slot with id inside e, or -1.
func (e *Event) FindSlot(id string) int {
	for i := range e.Slots {
		if e.Slots[i].ID == id {
			return i
		}
	}
	return -1
}
