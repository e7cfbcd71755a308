// Package arbiter decides whether a claim against a slot succeeds.
//
// Everything here is pure over its inputs: ids and time are injected through
// Options and the caller's snapshot is never mutated. Serializing concurrent
// claims is the caller's job (see repository.Store.Update).
package arbiter

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
	"github.com/google/uuid"
)

// Outcome is the result of one arbitration.
type Outcome int

const (
	Claimed Outcome = iota
	EventNotFound
	SlotNotFound
	SlotFull
	ValidationFailed
	ClaimNotFound
	Removed
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case EventNotFound:
		return "event_not_found"
	case SlotNotFound:
		return "slot_not_found"
	case SlotFull:
		return "slot_full"
	case ValidationFailed:
		return "validation_failed"
	case ClaimNotFound:
		return "claim_not_found"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Options supplies the side-effecting inputs of a claim.
type Options struct {
	NewID func() string
	Now   func() time.Time
}

// DefaultOptions uses random UUIDs and the UTC wall clock.
func DefaultOptions() Options {
	return Options{
		NewID: func() string { return uuid.New().String() },
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Result carries the outcome of Claim together with the data the caller needs
// to report it.
type Result struct {
	Outcome   Outcome
	Claim     model.Claim
	Remaining int
	Errors    []FieldError
}

// Claim arbitrates one claim attempt. On success it returns a copy of events
// with the new claim appended to the slot; on any other outcome it returns
// events itself, untouched.
func Claim(events []model.Event, eventID, slotID string, c model.Claimant, opts Options) ([]model.Event, Result) {
	ei := model.FindEvent(events, eventID)
	if ei < 0 {
		return events, Result{Outcome: EventNotFound}
	}
	si := events[ei].FindSlot(slotID)
	if si < 0 {
		return events, Result{Outcome: SlotNotFound}
	}

	remaining := events[ei].Slots[si].Remaining()
	if remaining <= 0 {
		return events, Result{Outcome: SlotFull, Remaining: 0}
	}

	if errs := ValidateClaimant(c); len(errs) > 0 {
		return events, Result{Outcome: ValidationFailed, Remaining: remaining, Errors: errs}
	}

	claim := model.Claim{
		ID:        opts.NewID(),
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Email:     strings.TrimSpace(c.Email),
		Phone:     strings.TrimSpace(c.Phone),
		Notes:     strings.TrimSpace(c.Notes),
		Timestamp: opts.Now(),
	}
	claim.PublicName = PublicName(claim.FirstName, claim.LastName)

	updated := model.CloneEvents(events)
	slot := &updated[ei].Slots[si]
	slot.ClaimedBy = append(slot.ClaimedBy, claim)

	return updated, Result{Outcome: Claimed, Claim: claim, Remaining: slot.Remaining()}
}

// Unclaim removes the claim with claimID from the slot. Like Claim it never
// mutates its input.
func Unclaim(events []model.Event, eventID, slotID, claimID string) ([]model.Event, Result) {
	ei := model.FindEvent(events, eventID)
	if ei < 0 {
		return events, Result{Outcome: EventNotFound}
	}
	si := events[ei].FindSlot(slotID)
	if si < 0 {
		return events, Result{Outcome: SlotNotFound}
	}
	claims := events[ei].Slots[si].ClaimedBy
	ci := -1
	for i := range claims {
		if claims[i].ID == claimID {
			ci = i
			break
		}
	}
	if ci < 0 {
		return events, Result{Outcome: ClaimNotFound, Remaining: events[ei].Slots[si].Remaining()}
	}

	updated := model.CloneEvents(events)
	slot := &updated[ei].Slots[si]
	removed := slot.ClaimedBy[ci]
	slot.ClaimedBy = append(slot.ClaimedBy[:ci], slot.ClaimedBy[ci+1:]...)

	return updated, Result{Outcome: Removed, Claim: removed, Remaining: slot.Remaining()}
}

// PublicName derives the name shown next to a claim: "A. Lovelace" for
// Ada Lovelace, "Anonymous" when both parts are blank.
func PublicName(firstName, lastName string) string {
	first := strings.TrimSpace(firstName)
	last := strings.TrimSpace(lastName)
	switch {
	case first == "" && last == "":
		return "Anonymous"
	case first == "":
		return last
	case last == "":
		return first
	}
	r, _ := utf8.DecodeRuneInString(first)
	return string(unicode.ToUpper(r)) + ". " + last
}
