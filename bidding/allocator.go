package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/models"
)

// Bidder numbers are the 3-digit paddle identifiers handed out per
// event.
const (
	BidderNumberMin = 100
	BidderNumberMax = 999
)

// NumberAllocator hands out bidder numbers from the per-event pool.
// The first-free scan and the assignment run in one transaction; the
// composite unique index on (event_id, bidder_number) is the last line
// of defense, and an insert that trips it is retried with a fresh
// scan rather than surfaced.
type NumberAllocator struct {
	db         *gorm.DB
	logger     *slog.Logger
	maxRetries int
}

type AllocatorOption func(*NumberAllocator)

func WithAllocatorLogger(l *slog.Logger) AllocatorOption {
	return func(a *NumberAllocator) {
		a.logger = l
	}
}

func WithAllocatorMaxRetries(n int) AllocatorOption {
	return func(a *NumberAllocator) {
		a.maxRetries = n
	}
}

func NewNumberAllocator(db *gorm.DB, opts ...AllocatorOption) *NumberAllocator {
	a := &NumberAllocator{
		db:         db,
		logger:     slog.Default(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("caller", "NumberAllocator"))
	return a
}

// AssignNext gives the guest the lowest unused number in the event.
func (a *NumberAllocator) AssignNext(ctx context.Context, eventID, guestID uuid.UUID) (int, error) {
	const op = "NumberAllocator.AssignNext"
	var number int
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			guest, err := loadGuest(tx, eventID, guestID)
			if err != nil {
				return err
			}
			if guest.BidderNumber != nil {
				return ErrAlreadyAssigned
			}
			number, err = firstFreeNumber(tx, eventID, 0)
			if err != nil {
				return err
			}
			return assignNumber(tx, guest, number)
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			a.logger.Debug("number taken under us, rescanning",
				slog.String("op", op),
				slog.String("eventID", eventID.String()),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return 0, err
		}
		a.logger.Info("bidder number assigned",
			slog.String("eventID", eventID.String()),
			slog.String("guestID", guestID.String()),
			slog.Int("number", number))
		return number, nil
	}
	return 0, ErrConcurrentModification
}

// ReassignResult reports a forced reassignment, including where the
// displaced holder (if any) ended up.
type ReassignResult struct {
	Number             int
	DisplacedGuestID   *uuid.UUID
	DisplacedNewNumber *int
}

// Reassign gives the guest a specific number. A different guest
// already holding it is moved to the next free number first, inside
// the same transaction, so no concurrent reader ever observes two
// holders of one number.
func (a *NumberAllocator) Reassign(ctx context.Context, eventID, guestID uuid.UUID, requested int) (ReassignResult, error) {
	const op = "NumberAllocator.Reassign"
	if requested < BidderNumberMin || requested > BidderNumberMax {
		return ReassignResult{}, ErrInvalidBidderNum
	}
	var result ReassignResult
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result = ReassignResult{Number: requested}
			guest, err := loadGuest(tx, eventID, guestID)
			if err != nil {
				return err
			}
			if guest.BidderNumber != nil && *guest.BidderNumber == requested {
				return nil
			}

			var holder models.EventGuest
			err = tx.Where("event_id = ? AND bidder_number = ? AND id <> ?", eventID, requested, guestID).
				First(&holder).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				// number is free
			case err != nil:
				return fmt.Errorf("[%s] Fail to look up current holder, err=%w", op, err)
			default:
				// move the holder out of the way before the target
				// takes the number, so the unique index never sees a
				// duplicate even mid-transaction
				displacedTo, err := firstFreeNumber(tx, eventID, requested)
				if err != nil {
					return err
				}
				if err := assignNumber(tx, &holder, displacedTo); err != nil {
					return err
				}
				result.DisplacedGuestID = &holder.ID
				result.DisplacedNewNumber = &displacedTo
			}
			return assignNumber(tx, guest, requested)
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			return ReassignResult{}, err
		}
		a.logger.Info("bidder number reassigned",
			slog.String("eventID", eventID.String()),
			slog.String("guestID", guestID.String()),
			slog.Int("number", requested))
		return result, nil
	}
	return ReassignResult{}, ErrConcurrentModification
}

// Release clears the guest's number. Releasing an already-unassigned
// guest is a no-op.
func (a *NumberAllocator) Release(ctx context.Context, guestID uuid.UUID) error {
	const op = "NumberAllocator.Release"
	res := a.db.WithContext(ctx).Model(&models.EventGuest{}).
		Where("id = ?", guestID).
		Updates(map[string]any{"bidder_number": nil, "assigned_at": nil})
	if res.Error != nil {
		return fmt.Errorf("[%s] Fail to release bidder number, err=%w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrGuestNotFound
	}
	return nil
}

// Available lists the first limit unused numbers ascending. It is a
// read for UI pre-population, not a reservation.
func (a *NumberAllocator) Available(ctx context.Context, eventID uuid.UUID, limit int) ([]int, error) {
	const op = "NumberAllocator.Available"
	used, err := usedNumbers(a.db.WithContext(ctx), eventID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list used numbers, err=%w", op, err)
	}
	free := make([]int, 0, limit)
	for n := BidderNumberMin; n <= BidderNumberMax && len(free) < limit; n++ {
		if !used[n] {
			free = append(free, n)
		}
	}
	return free, nil
}

func loadGuest(tx *gorm.DB, eventID, guestID uuid.UUID) (*models.EventGuest, error) {
	const op = "loadGuest"
	var guest models.EventGuest
	if err := tx.Where("id = ? AND event_id = ?", guestID, eventID).First(&guest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuestNotFound
		}
		return nil, fmt.Errorf("[%s] Fail to load guest, err=%w", op, err)
	}
	return &guest, nil
}

func assignNumber(tx *gorm.DB, guest *models.EventGuest, number int) error {
	const op = "assignNumber"
	now := time.Now()
	if err := tx.Model(guest).
		Updates(map[string]any{"bidder_number": number, "assigned_at": now}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		return fmt.Errorf("[%s] Fail to assign number %d, err=%w", op, number, err)
	}
	return nil
}

func usedNumbers(tx *gorm.DB, eventID uuid.UUID) (map[int]bool, error) {
	var numbers []int
	if err := tx.Model(&models.EventGuest{}).
		Where("event_id = ? AND bidder_number IS NOT NULL", eventID).
		Pluck("bidder_number", &numbers).Error; err != nil {
		return nil, err
	}
	used := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		used[n] = true
	}
	return used, nil
}

// firstFreeNumber scans ascending for the lowest unused number,
// treating exclude (when non-zero) as taken.
func firstFreeNumber(tx *gorm.DB, eventID uuid.UUID, exclude int) (int, error) {
	const op = "firstFreeNumber"
	used, err := usedNumbers(tx, eventID)
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to list used numbers, err=%w", op, err)
	}
	for n := BidderNumberMin; n <= BidderNumberMax; n++ {
		if n == exclude || used[n] {
			continue
		}
		return n, nil
	}
	return 0, ErrNumberPoolDrained
}
