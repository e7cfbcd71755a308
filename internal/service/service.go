// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the event store.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shivanand-hulikatti/teamsignups/internal/arbiter"
	"github.com/Shivanand-hulikatti/teamsignups/internal/export"
	"github.com/Shivanand-hulikatti/teamsignups/internal/logger"
	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
	"github.com/Shivanand-hulikatti/teamsignups/internal/repository"
)

// MaxSlotCapacity caps a single slot's capacity.
const MaxSlotCapacity = 100_000

// ErrNotFound is returned when a requested event, slot or claim does not exist.
var ErrNotFound = errors.New("not found")

var (
	ErrEventNotFound = fmt.Errorf("event %w", ErrNotFound)
	ErrSlotNotFound  = fmt.Errorf("slot %w", ErrNotFound)
	ErrClaimNotFound = fmt.Errorf("claim %w", ErrNotFound)
)

// ErrSlotFull is returned when a slot has no remaining capacity.
var ErrSlotFull = errors.New("slot is full")

// ErrMalformedInput is returned when a submitted document is not a valid
// event collection.
var ErrMalformedInput = errors.New("malformed input")

// ValidationError lists every invalid field of a request.
type ValidationError struct {
	Fields []arbiter.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StorageStatus is the explicit storage health handed to the presentation
// layer for its online/offline messaging.
type StorageStatus struct {
	Online bool   `json:"online"`
	Driver string `json:"driver"`
	Error  string `json:"error,omitempty"`
}

// ClaimResult is returned for a successful claim.
type ClaimResult struct {
	Claim     model.Claim `json:"claim"`
	Remaining int         `json:"remaining"`
}

// SignupService orchestrates event and claim operations.
type SignupService struct {
	store  repository.Store
	mirror *export.Mirror
	driver string
	opts   arbiter.Options
	log    *logger.Logger

	// version is bumped inside each Update cycle, so it follows commit order.
	version  atomic.Uint64
	mirrorMu sync.Mutex
	mirrored uint64
}

// errUnchanged aborts an Update cycle that only needed a locked read.
var errUnchanged = errors.New("snapshot unchanged")

// Option customises a SignupService.
type Option func(*SignupService)

// WithMirror regenerates a CSV copy of the snapshot after every write.
func WithMirror(m *export.Mirror) Option {
	return func(s *SignupService) { s.mirror = m }
}

// WithArbiterOptions overrides id generation and the clock.
func WithArbiterOptions(o arbiter.Options) Option {
	return func(s *SignupService) { s.opts = o }
}

// WithDriverName labels the store in StorageStatus.
func WithDriverName(name string) Option {
	return func(s *SignupService) { s.driver = name }
}

// NewSignupService constructs a SignupService with its dependencies.
func NewSignupService(store repository.Store, log *logger.Logger, opts ...Option) *SignupService {
	s := &SignupService{
		store: store,
		opts:  arbiter.DefaultOptions(),
		log:   log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListEvents returns the current snapshot.
func (s *SignupService) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// ReplaceEvents validates and stores events as the whole new snapshot.
func (s *SignupService) ReplaceEvents(ctx context.Context, events []model.Event) error {
	events = model.Normalize(model.CloneEvents(events))
	if err := ValidateDocument(events); err != nil {
		return err
	}
	var ver uint64
	err := s.store.Update(ctx, func([]model.Event) ([]model.Event, error) {
		ver = s.version.Add(1)
		return events, nil
	})
	if err != nil {
		return fmt.Errorf("replace events: %w", err)
	}
	s.log.Info("events replaced", "events", len(events))
	s.refreshMirror(ver, events)
	return nil
}

// CreateEvent validates req and appends a new event with fresh ids.
func (s *SignupService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event, err := s.buildEvent(req)
	if err != nil {
		return nil, err
	}

	var (
		snapshot []model.Event
		ver      uint64
	)
	err = s.store.Update(ctx, func(events []model.Event) ([]model.Event, error) {
		snapshot = append(events, event)
		ver = s.version.Add(1)
		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.log.Info("event created", "event_id", event.ID, "slots", len(event.Slots))
	s.refreshMirror(ver, snapshot)
	return &event, nil
}

// DeleteEvent removes the event with id.
func (s *SignupService) DeleteEvent(ctx context.Context, id string) error {
	var (
		snapshot []model.Event
		ver      uint64
	)
	err := s.store.Update(ctx, func(events []model.Event) ([]model.Event, error) {
		i := model.FindEvent(events, id)
		if i < 0 {
			return nil, ErrEventNotFound
		}
		snapshot = append(events[:i], events[i+1:]...)
		ver = s.version.Add(1)
		return snapshot, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete event: %w", err)
	}
	s.log.Info("event deleted", "event_id", id)
	s.refreshMirror(ver, snapshot)
	return nil
}

// ClaimSlot runs one arbitration inside the store's locked update cycle, so
// concurrent claims against the same slot observe each other.
func (s *SignupService) ClaimSlot(ctx context.Context, eventID, slotID string, c model.Claimant) (*ClaimResult, error) {
	var (
		res      arbiter.Result
		snapshot []model.Event
		ver      uint64
	)
	err := s.store.Update(ctx, func(events []model.Event) ([]model.Event, error) {
		snapshot, res = arbiter.Claim(events, eventID, slotID, c, s.opts)
		if res.Outcome != arbiter.Claimed {
			return nil, outcomeError(res)
		}
		ver = s.version.Add(1)
		return snapshot, nil
	})
	if err != nil {
		var verr *ValidationError
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSlotFull) || errors.As(err, &verr) {
			s.log.Debug("claim rejected", "event_id", eventID, "slot_id", slotID, "outcome", res.Outcome.String())
			return nil, err
		}
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	s.log.Info("slot claimed", "event_id", eventID, "slot_id", slotID, "claim_id", res.Claim.ID, "remaining", res.Remaining)
	s.refreshMirror(ver, snapshot)
	return &ClaimResult{Claim: res.Claim, Remaining: res.Remaining}, nil
}

// RemoveClaim deletes one claim, freeing its place in the slot.
func (s *SignupService) RemoveClaim(ctx context.Context, eventID, slotID, claimID string) error {
	var (
		res      arbiter.Result
		snapshot []model.Event
		ver      uint64
	)
	err := s.store.Update(ctx, func(events []model.Event) ([]model.Event, error) {
		snapshot, res = arbiter.Unclaim(events, eventID, slotID, claimID)
		if res.Outcome != arbiter.Removed {
			return nil, outcomeError(res)
		}
		ver = s.version.Add(1)
		return snapshot, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("remove claim: %w", err)
	}
	s.log.Info("claim removed", "event_id", eventID, "slot_id", slotID, "claim_id", claimID)
	s.refreshMirror(ver, snapshot)
	return nil
}

// ExportCSV renders the current snapshot as CSV.
func (s *SignupService) ExportCSV(ctx context.Context) ([]byte, error) {
	events, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, events); err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Status reports whether the store is reachable and its snapshot readable.
func (s *SignupService) Status(ctx context.Context) StorageStatus {
	st := StorageStatus{Online: true, Driver: s.driver}
	if err := s.store.Ping(ctx); err != nil {
		return StorageStatus{Driver: s.driver, Error: "storage unreachable"}
	}
	if _, err := s.store.ReadAll(ctx); err != nil {
		st.Online = false
		st.Error = "snapshot unreadable"
		if errors.Is(err, repository.ErrCorruptSnapshot) {
			st.Error = "snapshot is malformed"
		}
	}
	return st
}

// SyncMirror regenerates the CSV copy from the stored snapshot. Run it once
// at startup so an existing snapshot gets a matching mirror before the first
// write.
func (s *SignupService) SyncMirror(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	var (
		snapshot []model.Event
		ver      uint64
	)
	err := s.store.Update(ctx, func(events []model.Event) ([]model.Event, error) {
		snapshot = events
		ver = s.version.Add(1)
		return nil, errUnchanged
	})
	if !errors.Is(err, errUnchanged) {
		return fmt.Errorf("sync mirror: %w", err)
	}
	if err := s.writeMirror(ver, snapshot); err != nil {
		return fmt.Errorf("sync mirror: %w", err)
	}
	return nil
}

// refreshMirror regenerates the CSV copy after a committed write. A failure is
// logged and never undoes the committed write.
func (s *SignupService) refreshMirror(ver uint64, events []model.Event) {
	if s.mirror == nil {
		return
	}
	if err := s.writeMirror(ver, events); err != nil {
		s.log.Error("csv mirror write failed", "path", s.mirror.Path(), "version", ver, "error", err)
	}
}

// writeMirror writes the snapshot taken at version ver unless a later one has
// already been written.
func (s *SignupService) writeMirror(ver uint64, events []model.Event) error {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	if ver <= s.mirrored {
		s.log.Debug("csv mirror skipped, newer snapshot already written", "version", ver, "mirrored", s.mirrored)
		return nil
	}
	s.mirrored = ver
	return s.mirror.Write(events)
}

func outcomeError(res arbiter.Result) error {
	switch res.Outcome {
	case arbiter.EventNotFound:
		return ErrEventNotFound
	case arbiter.SlotNotFound:
		return ErrSlotNotFound
	case arbiter.ClaimNotFound:
		return ErrClaimNotFound
	case arbiter.SlotFull:
		return ErrSlotFull
	case arbiter.ValidationFailed:
		return &ValidationError{Fields: res.Errors}
	default:
		return fmt.Errorf("unexpected arbitration outcome %s", res.Outcome)
	}
}

func (s *SignupService) buildEvent(req model.CreateEventRequest) (model.Event, error) {
	var errs []arbiter.FieldError

	title := strings.TrimSpace(req.Title)
	if title == "" {
		errs = append(errs, arbiter.FieldError{Field: "title", Msg: "required"})
	}
	date := strings.TrimSpace(req.Date)
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		errs = append(errs, arbiter.FieldError{Field: "date", Msg: "must be a calendar date (YYYY-MM-DD)"})
	}
	if len(req.Slots) == 0 {
		errs = append(errs, arbiter.FieldError{Field: "slots", Msg: "at least one slot is required"})
	}

	slots := make([]model.Slot, 0, len(req.Slots))
	for i, sr := range req.Slots {
		name := strings.TrimSpace(sr.Name)
		if name == "" {
			errs = append(errs, arbiter.FieldError{Field: fmt.Sprintf("slots[%d].name", i), Msg: "required"})
		}
		if sr.Count <= 0 || sr.Count > MaxSlotCapacity {
			errs = append(errs, arbiter.FieldError{Field: fmt.Sprintf("slots[%d].count", i), Msg: fmt.Sprintf("must be between 1 and %d", MaxSlotCapacity)})
		}
		slots = append(slots, model.Slot{ID: s.opts.NewID(), Name: name, Count: sr.Count, ClaimedBy: []model.Claim{}})
	}
	if len(errs) > 0 {
		return model.Event{}, &ValidationError{Fields: errs}
	}

	return model.Event{
		ID:          s.opts.NewID(),
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Date:        date,
		Slots:       slots,
	}, nil
}

// ValidateDocument checks that events is a well-formed collection: ids
// present and unique in their scope, calendar dates, positive capacities and
// no slot holding more claims than its capacity.
func ValidateDocument(events []model.Event) error {
	eventIDs := make(map[string]struct{}, len(events))
	for i, e := range events {
		where := fmt.Sprintf("events[%d]", i)
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("%w: %s.id is required", ErrMalformedInput, where)
		}
		if _, dup := eventIDs[e.ID]; dup {
			return fmt.Errorf("%w: duplicate event id %q", ErrMalformedInput, e.ID)
		}
		eventIDs[e.ID] = struct{}{}
		if _, err := time.Parse(model.DateLayout, e.Date); err != nil {
			return fmt.Errorf("%w: %s.date must be YYYY-MM-DD", ErrMalformedInput, where)
		}

		slotIDs := make(map[string]struct{}, len(e.Slots))
		for j, sl := range e.Slots {
			swhere := fmt.Sprintf("%s.slots[%d]", where, j)
			if strings.TrimSpace(sl.ID) == "" {
				return fmt.Errorf("%w: %s.id is required", ErrMalformedInput, swhere)
			}
			if _, dup := slotIDs[sl.ID]; dup {
				return fmt.Errorf("%w: duplicate slot id %q in event %q", ErrMalformedInput, sl.ID, e.ID)
			}
			slotIDs[sl.ID] = struct{}{}
			if sl.Count <= 0 {
				return fmt.Errorf("%w: %s.count must be positive", ErrMalformedInput, swhere)
			}
			if len(sl.ClaimedBy) > sl.Count {
				return fmt.Errorf("%w: %s has %d claims for capacity %d", ErrMalformedInput, swhere, len(sl.ClaimedBy), sl.Count)
			}

			claimIDs := make(map[string]struct{}, len(sl.ClaimedBy))
			for _, c := range sl.ClaimedBy {
				// Legacy name-only claims carry no id.
				if c.ID == "" {
					continue
				}
				if _, dup := claimIDs[c.ID]; dup {
					return fmt.Errorf("%w: duplicate claim id %q in %s", ErrMalformedInput, c.ID, swhere)
				}
				claimIDs[c.ID] = struct{}{}
			}
		}
	}
	return nil
}
