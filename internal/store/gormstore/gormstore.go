package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON = "{}"
	errorOperationStore = "store"
	errorSubjectClass   = "room_class"
	errorSubjectHotel   = "hotel"
	errorSubjectLink    = "hotel_class"
	errorSubjectBooking = "booking"
	errorCodeAppend     = "append"
	errorCodeCount      = "count"
	errorCodeGet        = "get"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"
	errorCodeMarkFlag   = "mark_flag"
)

// Store implements escrow.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the escrow schema. Used for sqlite deployments and tests;
// postgres schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&RoomClass{}, &Hotel{}, &HotelClass{}, &Booking{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore escrow.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) InsertRoomClass(ctx context.Context, input escrow.RoomClassInput) (escrow.ClassID, error) {
	model := RoomClass{
		Name:               input.Name,
		PricePerNightCents: input.PricePerNightCents.Int64(),
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectClass, errorCodeInsert, err)
	}
	classID, err := escrow.NewClassID(model.ClassID)
	if err != nil {
		return 0, wrapStoreError(errorSubjectClass, errorCodeInvalid, err)
	}
	return classID, nil
}

func (store *Store) GetRoomClass(ctx context.Context, classID escrow.ClassID) (escrow.RoomClass, error) {
	var model RoomClass
	err := store.db.WithContext(ctx).
		Where("class_id = ?", classID.Int64()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return escrow.RoomClass{}, wrapStoreError(errorSubjectClass, errorCodeGet, escrow.ErrUnknownClass)
		}
		return escrow.RoomClass{}, wrapStoreError(errorSubjectClass, errorCodeGet, err)
	}
	return mapRoomClass(model)
}

func (store *Store) ListRoomClasses(ctx context.Context) ([]escrow.RoomClass, error) {
	var rows []RoomClass
	err := store.db.WithContext(ctx).
		Order("class_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectClass, errorCodeList, err)
	}
	classes := make([]escrow.RoomClass, 0, len(rows))
	for _, row := range rows {
		class, err := mapRoomClass(row)
		if err != nil {
			return nil, err
		}
		classes = append(classes, class)
	}
	return classes, nil
}

func (store *Store) InsertHotel(ctx context.Context, input escrow.HotelInput) (escrow.HotelID, error) {
	model := Hotel{
		Name:          input.Name,
		PayoutAddress: input.PayoutAddress.String(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectHotel, errorCodeInsert, err)
	}
	hotelID, err := escrow.NewHotelID(model.HotelID)
	if err != nil {
		return 0, wrapStoreError(errorSubjectHotel, errorCodeInvalid, err)
	}
	return hotelID, nil
}

func (store *Store) GetHotel(ctx context.Context, hotelID escrow.HotelID) (escrow.Hotel, error) {
	var model Hotel
	err := store.db.WithContext(ctx).
		Where("hotel_id = ?", hotelID.Int64()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return escrow.Hotel{}, wrapStoreError(errorSubjectHotel, errorCodeGet, escrow.ErrUnknownHotel)
		}
		return escrow.Hotel{}, wrapStoreError(errorSubjectHotel, errorCodeGet, err)
	}
	return mapHotel(model)
}

func (store *Store) ListHotels(ctx context.Context) ([]escrow.Hotel, error) {
	var rows []Hotel
	err := store.db.WithContext(ctx).
		Order("hotel_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectHotel, errorCodeList, err)
	}
	hotels := make([]escrow.Hotel, 0, len(rows))
	for _, row := range rows {
		hotel, err := mapHotel(row)
		if err != nil {
			return nil, err
		}
		hotels = append(hotels, hotel)
	}
	return hotels, nil
}

func (store *Store) AppendHotelClass(ctx context.Context, hotelID escrow.HotelID, classID escrow.ClassID) error {
	link := HotelClass{
		HotelID:   hotelID.Int64(),
		ClassID:   classID.Int64(),
		CreatedAt: time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&link).Error; err != nil {
		return wrapStoreError(errorSubjectLink, errorCodeAppend, err)
	}
	return nil
}

func (store *Store) ListHotelClassIDs(ctx context.Context, hotelID escrow.HotelID) ([]escrow.ClassID, error) {
	var rawIDs []int64
	err := store.db.WithContext(ctx).
		Model(&HotelClass{}).
		Where("hotel_id = ?", hotelID.Int64()).
		Order("link_id ASC").
		Pluck("class_id", &rawIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLink, errorCodeList, err)
	}
	classIDs := make([]escrow.ClassID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		classID, err := escrow.NewClassID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLink, errorCodeInvalid, err)
		}
		classIDs = append(classIDs, classID)
	}
	return classIDs, nil
}

func (store *Store) HotelOffersClass(ctx context.Context, hotelID escrow.HotelID, classID escrow.ClassID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&HotelClass{}).
		Where("hotel_id = ? AND class_id = ?", hotelID.Int64(), classID.Int64()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectLink, errorCodeCount, err)
	}
	return count > 0, nil
}

func (store *Store) InsertBooking(ctx context.Context, input escrow.BookingInput) (escrow.BookingID, error) {
	createdAt := time.Unix(input.CreatedUnixUTC, 0).UTC()
	if createdAt.IsZero() || input.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	model := Booking{
		Customer:        input.Customer.String(),
		HotelID:         input.HotelID.Int64(),
		ClassID:         input.ClassID.Int64(),
		Nights:          input.Nights.Int64(),
		RoomCostCents:   input.RoomCostCents.Int64(),
		DepositCents:    input.DepositCents.Int64(),
		PaidRoom:        input.PaidRoom,
		RoomReleased:    false,
		DepositReleased: false,
		Metadata:        datatypesJSON(input.Metadata.String()),
		CreatedAt:       createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	bookingID, err := escrow.NewBookingID(model.BookingID)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return bookingID, nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID escrow.BookingID) (escrow.Booking, error) {
	return store.getBooking(ctx, bookingID, false)
}

// GetBookingForUpdate serializes concurrent release operations on the same
// booking via a row lock held for the rest of the transaction.
func (store *Store) GetBookingForUpdate(ctx context.Context, bookingID escrow.BookingID) (escrow.Booking, error) {
	return store.getBooking(ctx, bookingID, true)
}

func (store *Store) getBooking(ctx context.Context, bookingID escrow.BookingID, forUpdate bool) (escrow.Booking, error) {
	query := store.db.WithContext(ctx)
	// sqlite has no FOR UPDATE; its single-writer model serializes the
	// transaction anyway.
	if forUpdate && store.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Booking
	err := query.
		Where("booking_id = ?", bookingID.Int64()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, escrow.ErrUnknownBooking)
		}
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return mapBooking(model)
}

// The mark updates report the already-released sentinel for any zero-row
// outcome, including an unknown booking id; callers load the row first in the
// same transaction.
func (store *Store) MarkRoomReleased(ctx context.Context, bookingID escrow.BookingID) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND room_released = ?", bookingID.Int64(), false).
		Update("room_released", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeMarkFlag, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeMarkFlag, escrow.ErrRoomAlreadyReleased)
	}
	return nil
}

func (store *Store) MarkDepositReleased(ctx context.Context, bookingID escrow.BookingID) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND deposit_released = ?", bookingID.Int64(), false).
		Update("deposit_released", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeMarkFlag, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeMarkFlag, escrow.ErrDepositAlreadyReleased)
	}
	return nil
}

func (store *Store) ListBookings(ctx context.Context, limit int) ([]escrow.Booking, error) {
	var rows []Booking
	query := store.db.WithContext(ctx).Order("booking_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]escrow.Booking, 0, len(rows))
	for _, row := range rows {
		booking, err := mapBooking(row)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return escrow.WrapError(errorOperationStore, subject, code, err)
}

func mapRoomClass(row RoomClass) (escrow.RoomClass, error) {
	classID, err := escrow.NewClassID(row.ClassID)
	if err != nil {
		return escrow.RoomClass{}, wrapStoreError(errorSubjectClass, errorCodeInvalid, err)
	}
	price, err := escrow.NewAmountCents(row.PricePerNightCents)
	if err != nil {
		return escrow.RoomClass{}, wrapStoreError(errorSubjectClass, errorCodeInvalid, err)
	}
	return escrow.RoomClass{
		ClassID:            classID,
		Name:               row.Name,
		PricePerNightCents: price,
	}, nil
}

func mapHotel(row Hotel) (escrow.Hotel, error) {
	hotelID, err := escrow.NewHotelID(row.HotelID)
	if err != nil {
		return escrow.Hotel{}, wrapStoreError(errorSubjectHotel, errorCodeInvalid, err)
	}
	payout, err := escrow.NewAddress(row.PayoutAddress)
	if err != nil {
		return escrow.Hotel{}, wrapStoreError(errorSubjectHotel, errorCodeInvalid, err)
	}
	return escrow.Hotel{
		HotelID:       hotelID,
		Name:          row.Name,
		PayoutAddress: payout,
	}, nil
}

func mapBooking(row Booking) (escrow.Booking, error) {
	bookingID, err := escrow.NewBookingID(row.BookingID)
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	customer, err := escrow.NewAddress(row.Customer)
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	hotelID, err := escrow.NewHotelID(row.HotelID)
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	classID, err := escrow.NewClassID(row.ClassID)
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	nights, err := escrow.NewNights(row.Nights)
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	roomCost, err := escrow.NewAmountCents(row.RoomCostCents)
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	deposit, err := escrow.NewAmountCents(row.DepositCents)
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	metadata, err := escrow.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return escrow.Booking{
		BookingID:       bookingID,
		Customer:        customer,
		HotelID:         hotelID,
		ClassID:         classID,
		Nights:          nights,
		RoomCostCents:   roomCost,
		DepositCents:    deposit,
		PaidRoom:        row.PaidRoom,
		RoomReleased:    row.RoomReleased,
		DepositReleased: row.DepositReleased,
		Metadata:        metadata,
		CreatedUnixUTC:  row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}
