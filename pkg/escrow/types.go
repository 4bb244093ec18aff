package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is an integer currency amount in cents.
type AmountCents int64

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Nights counts the billed nights of a booking.
type Nights int64

// NewNights validates a strictly positive night count.
func NewNights(raw int64) (Nights, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidNights)
	}
	return Nights(raw), nil
}

// Int64 returns the raw night count.
func (nights Nights) Int64() int64 {
	return int64(nights)
}

// ClassID is the handle of a room class; zero means "does not exist".
type ClassID int64

// NewClassID validates a class handle.
func NewClassID(raw int64) (ClassID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidClassID)
	}
	return ClassID(raw), nil
}

// Int64 returns the raw handle.
func (id ClassID) Int64() int64 {
	return int64(id)
}

// HotelID is the handle of a hotel; zero means "does not exist".
type HotelID int64

// NewHotelID validates a hotel handle.
func NewHotelID(raw int64) (HotelID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidHotelID)
	}
	return HotelID(raw), nil
}

// Int64 returns the raw handle.
func (id HotelID) Int64() int64 {
	return int64(id)
}

// BookingID is the handle of a booking; zero means "does not exist".
type BookingID int64

// NewBookingID validates a booking handle.
func NewBookingID(raw int64) (BookingID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidBookingID)
	}
	return BookingID(raw), nil
}

// Int64 returns the raw handle.
func (id BookingID) Int64() int64 {
	return int64(id)
}

// Address identifies a principal on the value-transfer service.
type Address struct {
	value string
}

// NewAddress validates and normalizes an address.
func NewAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty value", ErrInvalidAddress)
	}
	return Address{value: trimmed}, nil
}

// String returns the normalized address.
func (address Address) String() string {
	return address.value
}

// Equal reports whether two addresses name the same principal.
func (address Address) Equal(other Address) bool {
	return address.value == other.value
}

// IsZero reports whether the address is unset.
func (address Address) IsZero() bool {
	return address.value == ""
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// RoomClass is an immutable catalog entry with flat nightly pricing.
type RoomClass struct {
	ClassID            ClassID
	Name               string
	PricePerNightCents AmountCents
}

// Hotel is a registered payout destination offering a subset of classes.
type Hotel struct {
	HotelID       HotelID
	Name          string
	PayoutAddress Address
}

// HotelWithClasses pairs a hotel with its resolved offered classes.
type HotelWithClasses struct {
	Hotel   Hotel
	Classes []RoomClass
}

// Booking is one custody record with two independently released sub-ledgers.
type Booking struct {
	BookingID       BookingID
	Customer        Address
	HotelID         HotelID
	ClassID         ClassID
	Nights          Nights
	RoomCostCents   AmountCents
	DepositCents    AmountCents
	PaidRoom        bool
	RoomReleased    bool
	DepositReleased bool
	Metadata        MetadataJSON
	CreatedUnixUTC  int64
}

// CustodyCents returns the funds still held for the booking.
func (booking Booking) CustodyCents() AmountCents {
	custody := AmountCents(0)
	if !booking.RoomReleased {
		custody += booking.RoomCostCents
	}
	if !booking.DepositReleased {
		custody += booking.DepositCents
	}
	return custody
}

// RoomClassInput carries the fields of a class to be appended.
type RoomClassInput struct {
	Name               string
	PricePerNightCents AmountCents
}

// HotelInput carries the fields of a hotel to be registered.
type HotelInput struct {
	Name          string
	PayoutAddress Address
}

// BookingInput carries the fields of a booking to be recorded.
type BookingInput struct {
	Customer       Address
	HotelID        HotelID
	ClassID        ClassID
	Nights         Nights
	RoomCostCents  AmountCents
	DepositCents   AmountCents
	PaidRoom       bool
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// Store is the persistence contract used by Service. Stores assign handles
// sequentially starting at 1 and never delete rows.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	InsertRoomClass(ctx context.Context, input RoomClassInput) (ClassID, error)
	GetRoomClass(ctx context.Context, classID ClassID) (RoomClass, error)
	ListRoomClasses(ctx context.Context) ([]RoomClass, error)

	InsertHotel(ctx context.Context, input HotelInput) (HotelID, error)
	GetHotel(ctx context.Context, hotelID HotelID) (Hotel, error)
	ListHotels(ctx context.Context) ([]Hotel, error)
	AppendHotelClass(ctx context.Context, hotelID HotelID, classID ClassID) error
	ListHotelClassIDs(ctx context.Context, hotelID HotelID) ([]ClassID, error)
	HotelOffersClass(ctx context.Context, hotelID HotelID, classID ClassID) (bool, error)

	InsertBooking(ctx context.Context, input BookingInput) (BookingID, error)
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID BookingID) (Booking, error)

	// MarkRoomReleased and MarkDepositReleased flip a flag that is still
	// false and report the matching already-released error when no such row
	// exists. They do not distinguish an unknown booking; callers load the
	// booking first (GetBookingForUpdate) within the same transaction.
	MarkRoomReleased(ctx context.Context, bookingID BookingID) error
	MarkDepositReleased(ctx context.Context, bookingID BookingID) error

	// ListBookings returns bookings ordered by handle ascending; a limit of
	// zero or less means no limit.
	ListBookings(ctx context.Context, limit int) ([]Booking, error)
}

// Transferor is the external value-transfer collaborator. Transfer moves
// custodied funds out of the escrow pool; TransferFrom pulls approved funds
// from a customer. A false result and an error are treated identically by the
// service as a failed transfer.
type Transferor interface {
	Transfer(ctx context.Context, to Address, amountCents AmountCents) (bool, error)
	TransferFrom(ctx context.Context, from Address, to Address, amountCents AmountCents) (bool, error)
}
