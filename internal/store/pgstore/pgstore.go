package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore     = "store"
	errorSubjectClass       = "room_class"
	errorSubjectHotel       = "hotel"
	errorSubjectLink        = "hotel_class"
	errorSubjectBooking     = "booking"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeMigrate        = "migrate"
	errorCodeUpdateFlag     = "update_flag"

	sqlInsertRoomClass = `
		insert into room_classes(name, price_per_night_cents, created_at)
		values ($1, $2, now())
		returning class_id
	`

	sqlSelectRoomClass = `
		select class_id, name, price_per_night_cents
		from room_classes
		where class_id = $1
	`

	sqlListRoomClasses = `
		select class_id, name, price_per_night_cents
		from room_classes
		order by class_id
	`

	sqlInsertHotel = `
		insert into hotels(name, payout_address, created_at)
		values ($1, $2, now())
		returning hotel_id
	`

	sqlSelectHotel = `
		select hotel_id, name, payout_address
		from hotels
		where hotel_id = $1
	`

	sqlListHotels = `
		select hotel_id, name, payout_address
		from hotels
		order by hotel_id
	`

	sqlInsertHotelClass = `
		insert into hotel_classes(hotel_id, class_id, created_at)
		values ($1, $2, now())
	`

	sqlListHotelClassIDs = `
		select class_id from hotel_classes
		where hotel_id = $1
		order by link_id
	`

	sqlHotelOffersClass = `
		select exists(
			select 1 from hotel_classes where hotel_id = $1 and class_id = $2
		)
	`

	sqlInsertBooking = `
		insert into bookings(
			customer, hotel_id, class_id, nights,
			room_cost_cents, deposit_cents, paid_room,
			room_released, deposit_released, metadata, created_at
		)
		values (
			$1, $2, $3, $4, $5, $6, $7, false, false,
			coalesce(nullif($8,''),'{}')::jsonb,
			to_timestamp($9)
		)
		returning booking_id
	`

	sqlSelectBooking = `
		select
			booking_id, customer, hotel_id, class_id, nights,
			room_cost_cents, deposit_cents, paid_room,
			room_released, deposit_released,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from bookings
		where booking_id = $1
	`

	sqlSelectBookingForUpdate = sqlSelectBooking + `
		for update
	`

	sqlMarkRoomReleased = `
		update bookings
		set room_released = true
		where booking_id = $1 and room_released = false
	`

	sqlMarkDepositReleased = `
		update bookings
		set deposit_released = true
		where booking_id = $1 and deposit_released = false
	`

	sqlSchema = `
		create table if not exists room_classes (
			class_id bigint generated always as identity primary key,
			name text not null,
			price_per_night_cents bigint not null,
			created_at timestamptz not null default now()
		);
		create table if not exists hotels (
			hotel_id bigint generated always as identity primary key,
			name text not null,
			payout_address text not null,
			created_at timestamptz not null default now()
		);
		create table if not exists hotel_classes (
			link_id bigint generated always as identity primary key,
			hotel_id bigint not null references hotels(hotel_id),
			class_id bigint not null references room_classes(class_id),
			created_at timestamptz not null default now()
		);
		create index if not exists idx_hotel_classes_hotel_class
			on hotel_classes(hotel_id, class_id);
		create table if not exists bookings (
			booking_id bigint generated always as identity primary key,
			customer text not null,
			hotel_id bigint not null references hotels(hotel_id),
			class_id bigint not null references room_classes(class_id),
			nights bigint not null,
			room_cost_cents bigint not null,
			deposit_cents bigint not null,
			paid_room boolean not null,
			room_released boolean not null default false,
			deposit_released boolean not null default false,
			metadata jsonb not null default '{}'::jsonb,
			created_at timestamptz not null
		);
		create index if not exists idx_bookings_hotel on bookings(hotel_id);
	`

	sqlListBookings = `
		select
			booking_id, customer, hotel_id, class_id, nights,
			room_cost_cents, deposit_cents, paid_room,
			room_released, deposit_released,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from bookings
		order by booking_id
		limit nullif($1, 0)
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries holds the statements shared by the autocommit store and the
// transactional store.
type queries struct {
	db querier
}

// Store implements escrow.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements escrow.Store for an active transaction.
type TxStore struct {
	queries
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Prepare creates the escrow tables when they do not exist yet.
func Prepare(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sqlSchema); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore escrow.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore escrow.Store) error) error {
	return fn(ctx, store)
}

func (store *queries) InsertRoomClass(ctx context.Context, input escrow.RoomClassInput) (escrow.ClassID, error) {
	var classIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertRoomClass, input.Name, input.PricePerNightCents.Int64()).Scan(&classIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectClass, errorCodeInsert, err)
	}
	classID, err := escrow.NewClassID(classIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectClass, errorCodeInvalid, err)
	}
	return classID, nil
}

func (store *queries) GetRoomClass(ctx context.Context, classID escrow.ClassID) (escrow.RoomClass, error) {
	row := store.db.QueryRow(ctx, sqlSelectRoomClass, classID.Int64())
	class, err := scanRoomClass(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.RoomClass{}, wrapStoreError(errorSubjectClass, errorCodeGet, escrow.ErrUnknownClass)
		}
		return escrow.RoomClass{}, wrapStoreError(errorSubjectClass, errorCodeGet, err)
	}
	return class, nil
}

func (store *queries) ListRoomClasses(ctx context.Context) ([]escrow.RoomClass, error) {
	rows, err := store.db.Query(ctx, sqlListRoomClasses)
	if err != nil {
		return nil, wrapStoreError(errorSubjectClass, errorCodeList, err)
	}
	defer rows.Close()
	classes := make([]escrow.RoomClass, 0, 16)
	for rows.Next() {
		class, err := scanRoomClass(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectClass, errorCodeInvalid, err)
		}
		classes = append(classes, class)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectClass, errorCodeList, err)
	}
	return classes, nil
}

func (store *queries) InsertHotel(ctx context.Context, input escrow.HotelInput) (escrow.HotelID, error) {
	var hotelIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertHotel, input.Name, input.PayoutAddress.String()).Scan(&hotelIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectHotel, errorCodeInsert, err)
	}
	hotelID, err := escrow.NewHotelID(hotelIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectHotel, errorCodeInvalid, err)
	}
	return hotelID, nil
}

func (store *queries) GetHotel(ctx context.Context, hotelID escrow.HotelID) (escrow.Hotel, error) {
	row := store.db.QueryRow(ctx, sqlSelectHotel, hotelID.Int64())
	hotel, err := scanHotel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.Hotel{}, wrapStoreError(errorSubjectHotel, errorCodeGet, escrow.ErrUnknownHotel)
		}
		return escrow.Hotel{}, wrapStoreError(errorSubjectHotel, errorCodeGet, err)
	}
	return hotel, nil
}

func (store *queries) ListHotels(ctx context.Context) ([]escrow.Hotel, error) {
	rows, err := store.db.Query(ctx, sqlListHotels)
	if err != nil {
		return nil, wrapStoreError(errorSubjectHotel, errorCodeList, err)
	}
	defer rows.Close()
	hotels := make([]escrow.Hotel, 0, 16)
	for rows.Next() {
		hotel, err := scanHotel(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectHotel, errorCodeInvalid, err)
		}
		hotels = append(hotels, hotel)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectHotel, errorCodeList, err)
	}
	return hotels, nil
}

func (store *queries) AppendHotelClass(ctx context.Context, hotelID escrow.HotelID, classID escrow.ClassID) error {
	_, err := store.db.Exec(ctx, sqlInsertHotelClass, hotelID.Int64(), classID.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectLink, errorCodeInsert, err)
	}
	return nil
}

func (store *queries) ListHotelClassIDs(ctx context.Context, hotelID escrow.HotelID) ([]escrow.ClassID, error) {
	rows, err := store.db.Query(ctx, sqlListHotelClassIDs, hotelID.Int64())
	if err != nil {
		return nil, wrapStoreError(errorSubjectLink, errorCodeList, err)
	}
	defer rows.Close()
	classIDs := make([]escrow.ClassID, 0, 8)
	for rows.Next() {
		var classIDValue int64
		if err := rows.Scan(&classIDValue); err != nil {
			return nil, wrapStoreError(errorSubjectLink, errorCodeInvalid, err)
		}
		classID, err := escrow.NewClassID(classIDValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLink, errorCodeInvalid, err)
		}
		classIDs = append(classIDs, classID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectLink, errorCodeList, err)
	}
	return classIDs, nil
}

func (store *queries) HotelOffersClass(ctx context.Context, hotelID escrow.HotelID, classID escrow.ClassID) (bool, error) {
	var offered bool
	err := store.db.QueryRow(ctx, sqlHotelOffersClass, hotelID.Int64(), classID.Int64()).Scan(&offered)
	if err != nil {
		return false, wrapStoreError(errorSubjectLink, errorCodeLookup, err)
	}
	return offered, nil
}

func (store *queries) InsertBooking(ctx context.Context, input escrow.BookingInput) (escrow.BookingID, error) {
	var bookingIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertBooking,
		input.Customer.String(),
		input.HotelID.Int64(),
		input.ClassID.Int64(),
		input.Nights.Int64(),
		input.RoomCostCents.Int64(),
		input.DepositCents.Int64(),
		input.PaidRoom,
		input.Metadata.String(),
		input.CreatedUnixUTC,
	).Scan(&bookingIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	bookingID, err := escrow.NewBookingID(bookingIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return bookingID, nil
}

func (store *queries) GetBooking(ctx context.Context, bookingID escrow.BookingID) (escrow.Booking, error) {
	row := store.db.QueryRow(ctx, sqlSelectBooking, bookingID.Int64())
	return bookingFromRow(row)
}

func (store *queries) GetBookingForUpdate(ctx context.Context, bookingID escrow.BookingID) (escrow.Booking, error) {
	row := store.db.QueryRow(ctx, sqlSelectBookingForUpdate, bookingID.Int64())
	return bookingFromRow(row)
}

// The mark updates report the already-released sentinel for any zero-row
// outcome, including an unknown booking id; callers load the row first in the
// same transaction.
func (store *queries) MarkRoomReleased(ctx context.Context, bookingID escrow.BookingID) error {
	tag, err := store.db.Exec(ctx, sqlMarkRoomReleased, bookingID.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateFlag, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateFlag, escrow.ErrRoomAlreadyReleased)
	}
	return nil
}

func (store *queries) MarkDepositReleased(ctx context.Context, bookingID escrow.BookingID) error {
	tag, err := store.db.Exec(ctx, sqlMarkDepositReleased, bookingID.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateFlag, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateFlag, escrow.ErrDepositAlreadyReleased)
	}
	return nil
}

func (store *queries) ListBookings(ctx context.Context, limit int) ([]escrow.Booking, error) {
	// limit <= 0 means unlimited; nullif in the statement drops the clause.
	if limit < 0 {
		limit = 0
	}
	rows, err := store.db.Query(ctx, sqlListBookings, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	defer rows.Close()
	bookings := make([]escrow.Booking, 0, 32)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return bookings, nil
}

func bookingFromRow(row pgx.Row) (escrow.Booking, error) {
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, escrow.ErrUnknownBooking)
		}
		return escrow.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return booking, nil
}

func scanRoomClass(row pgx.Row) (escrow.RoomClass, error) {
	var (
		classIDValue int64
		nameValue    string
		priceValue   int64
	)
	if err := row.Scan(&classIDValue, &nameValue, &priceValue); err != nil {
		return escrow.RoomClass{}, err
	}
	classID, err := escrow.NewClassID(classIDValue)
	if err != nil {
		return escrow.RoomClass{}, err
	}
	price, err := escrow.NewAmountCents(priceValue)
	if err != nil {
		return escrow.RoomClass{}, err
	}
	return escrow.RoomClass{ClassID: classID, Name: nameValue, PricePerNightCents: price}, nil
}

func scanHotel(row pgx.Row) (escrow.Hotel, error) {
	var (
		hotelIDValue int64
		nameValue    string
		payoutValue  string
	)
	if err := row.Scan(&hotelIDValue, &nameValue, &payoutValue); err != nil {
		return escrow.Hotel{}, err
	}
	hotelID, err := escrow.NewHotelID(hotelIDValue)
	if err != nil {
		return escrow.Hotel{}, err
	}
	payoutAddress, err := escrow.NewAddress(payoutValue)
	if err != nil {
		return escrow.Hotel{}, err
	}
	return escrow.Hotel{HotelID: hotelID, Name: nameValue, PayoutAddress: payoutAddress}, nil
}

func scanBooking(row pgx.Row) (escrow.Booking, error) {
	var (
		bookingIDValue       int64
		customerValue        string
		hotelIDValue         int64
		classIDValue         int64
		nightsValue          int64
		roomCostValue        int64
		depositValue         int64
		paidRoomValue        bool
		roomReleasedValue    bool
		depositReleasedValue bool
		metadataValue        string
		createdAtUnixUTC     int64
	)
	if err := row.Scan(
		&bookingIDValue,
		&customerValue,
		&hotelIDValue,
		&classIDValue,
		&nightsValue,
		&roomCostValue,
		&depositValue,
		&paidRoomValue,
		&roomReleasedValue,
		&depositReleasedValue,
		&metadataValue,
		&createdAtUnixUTC,
	); err != nil {
		return escrow.Booking{}, err
	}
	bookingID, err := escrow.NewBookingID(bookingIDValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	customer, err := escrow.NewAddress(customerValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	hotelID, err := escrow.NewHotelID(hotelIDValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	classID, err := escrow.NewClassID(classIDValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	nights, err := escrow.NewNights(nightsValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	roomCost, err := escrow.NewAmountCents(roomCostValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	deposit, err := escrow.NewAmountCents(depositValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	metadata, err := escrow.NewMetadataJSON(metadataValue)
	if err != nil {
		return escrow.Booking{}, err
	}
	return escrow.Booking{
		BookingID:       bookingID,
		Customer:        customer,
		HotelID:         hotelID,
		ClassID:         classID,
		Nights:          nights,
		RoomCostCents:   roomCost,
		DepositCents:    deposit,
		PaidRoom:        paidRoomValue,
		RoomReleased:    roomReleasedValue,
		DepositReleased: depositReleasedValue,
		Metadata:        metadata,
		CreatedUnixUTC:  createdAtUnixUTC,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return escrow.WrapError(errorOperationStore, subject, code, err)
}
