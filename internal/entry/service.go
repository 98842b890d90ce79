package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/grocery-tracker/internal/scanning"
)

// ErrScanningDisabled is returned by ScanReceipt when no scanner is configured
var ErrScanningDisabled = errors.New("receipt scanning is not configured")

// IDGenerator generates unique IDs for entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return newID()
}

type systemTime struct{}

func (systemTime) Now() time.Time {
	return time.Now().UTC()
}

// Service implements the grocery entry operations for an authenticated subject
type Service struct {
	db          DB
	scanner     scanning.Scanner
	validator   Validator
	feed        *Feed
	idGenerator IDGenerator
	timeSource  TimeSource

	refreshMu sync.Mutex
	refreshes map[string]*sync.Mutex
}

// NewService creates a Service with UUID ids and the system clock. scanner may be nil.
func NewService(db DB, scanner scanning.Scanner, validator Validator) *Service {
	return NewServiceWithDeps(db, scanner, validator, uuidGenerator{}, systemTime{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, validator Validator, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		validator:   validator,
		feed:        NewFeed(),
		idGenerator: idGen,
		timeSource:  timeSrc,
		refreshes:   make(map[string]*sync.Mutex),
	}
}

// CanScan reports whether receipt scanning is available
func (s *Service) CanScan() bool {
	return s.scanner != nil
}

// CreateEntry validates the payload and stores a new entry for the subject
func (s *Service) CreateEntry(ctx context.Context, subject string, p Payload) (*Entry, error) {
	entry, err := s.validator.ValidateCreate(p)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	entry.ID = s.idGenerator.Generate()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := s.db.CreateEntry(ctx, subject, entry); err != nil {
		return nil, fmt.Errorf("creating entry: %w", err)
	}

	s.notify(ctx, subject)
	return entry, nil
}

// ListEntries returns every entry of the subject, unordered
func (s *Service) ListEntries(ctx context.Context, subject string) ([]*Entry, error) {
	entries, err := s.db.ListEntries(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

// UpdateEntry applies the fields present in p to an existing entry.
// UpdatedAt always moves forward, even if the clock has not.
func (s *Service) UpdateEntry(ctx context.Context, subject, id string, p Payload) (*Entry, error) {
	patch, err := s.validator.ValidatePatch(p)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	entry, err := s.db.UpdateEntry(ctx, subject, id, func(e *Entry) {
		patch.Apply(e)
		if now.After(e.UpdatedAt) {
			e.UpdatedAt = now
		} else {
			e.UpdatedAt = e.UpdatedAt.Add(time.Nanosecond)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("updating entry %s: %w", id, err)
	}

	s.notify(ctx, subject)
	return entry, nil
}

// DeleteEntry removes an entry of the subject
func (s *Service) DeleteEntry(ctx context.Context, subject, id string) error {
	if err := s.db.DeleteEntry(ctx, subject, id); err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}

	s.notify(ctx, subject)
	return nil
}

// Subscribe starts a feed of the subject's entry list. Stop must be called on the result.
func (s *Service) Subscribe(subject string) *Subscription {
	return s.feed.Subscribe(subject)
}

// refreshLock returns the lock serializing feed refreshes of subject
func (s *Service) refreshLock(subject string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	mu, ok := s.refreshes[subject]
	if !ok {
		mu = &sync.Mutex{}
		s.refreshes[subject] = mu
	}
	return mu
}

// notify pushes a fresh snapshot to the subject's subscribers, if any.
// Reading and publishing happen under the subject's refresh lock, so the
// last snapshot published is never older than the last write.
func (s *Service) notify(ctx context.Context, subject string) {
	if !s.feed.Watched(subject) {
		return
	}
	mu := s.refreshLock(subject)
	mu.Lock()
	defer mu.Unlock()

	entries, err := s.db.ListEntries(ctx, subject)
	if err != nil {
		slog.Warn("Failed to refresh entry feed", "subject", subject, "error", err)
		return
	}
	s.feed.Publish(subject, entries)
}

// ScanReceipt reads a receipt image and suggests a create payload. Nothing is stored.
func (s *Service) ScanReceipt(ctx context.Context, data []byte, contentType string) (*Payload, error) {
	if s.scanner == nil {
		return nil, ErrScanningDisabled
	}

	receipt, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if errors.Is(err, scanning.ErrUnsupportedFormat) {
		slog.Warn("Unsupported receipt upload", "content_type", contentType, "error", err)
		return nil, invalid("Unsupported receipt format")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	return &Payload{
		Date:           &receipt.Date,
		TotalAmount:    &receipt.TotalAmount,
		DiscountAmount: &receipt.DiscountAmount,
	}, nil
}
