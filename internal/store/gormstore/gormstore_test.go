package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustAddress(test *testing.T, raw string) escrow.Address {
	test.Helper()
	address, err := escrow.NewAddress(raw)
	if err != nil {
		test.Fatalf("address %q: %v", raw, err)
	}
	return address
}

func mustMetadata(test *testing.T, raw string) escrow.MetadataJSON {
	test.Helper()
	metadata, err := escrow.NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func seedBooking(test *testing.T, store *Store) escrow.BookingID {
	test.Helper()
	ctx := context.Background()
	classID, err := store.InsertRoomClass(ctx, escrow.RoomClassInput{Name: "Standard", PricePerNightCents: 1000})
	if err != nil {
		test.Fatalf("insert class: %v", err)
	}
	hotelID, err := store.InsertHotel(ctx, escrow.HotelInput{Name: "Hotel H", PayoutAddress: mustAddress(test, "hotel-payout")})
	if err != nil {
		test.Fatalf("insert hotel: %v", err)
	}
	if err := store.AppendHotelClass(ctx, hotelID, classID); err != nil {
		test.Fatalf("append link: %v", err)
	}
	bookingID, err := store.InsertBooking(ctx, escrow.BookingInput{
		Customer:       mustAddress(test, "customer-1"),
		HotelID:        hotelID,
		ClassID:        classID,
		Nights:         2,
		RoomCostCents:  2000,
		DepositCents:   500,
		PaidRoom:       true,
		Metadata:       mustMetadata(test, `{"channel":"web"}`),
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("insert booking: %v", err)
	}
	return bookingID
}

func TestRoomClassRoundTrip(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()

	firstID, err := store.InsertRoomClass(ctx, escrow.RoomClassInput{Name: "Standard", PricePerNightCents: 1000})
	if err != nil {
		test.Fatalf("insert class: %v", err)
	}
	secondID, err := store.InsertRoomClass(ctx, escrow.RoomClassInput{Name: "Deluxe", PricePerNightCents: 2500})
	if err != nil {
		test.Fatalf("insert class: %v", err)
	}
	if firstID.Int64() != 1 || secondID.Int64() != 2 {
		test.Fatalf("expected sequential handles, got %d and %d", firstID.Int64(), secondID.Int64())
	}

	class, err := store.GetRoomClass(ctx, firstID)
	if err != nil {
		test.Fatalf("get class: %v", err)
	}
	if class.Name != "Standard" || class.PricePerNightCents != 1000 {
		test.Fatalf("unexpected class: %+v", class)
	}

	classes, err := store.ListRoomClasses(ctx)
	if err != nil {
		test.Fatalf("list classes: %v", err)
	}
	if len(classes) != 2 || classes[0].ClassID != firstID || classes[1].ClassID != secondID {
		test.Fatalf("unexpected list order: %+v", classes)
	}

	if _, err := store.GetRoomClass(ctx, 99); !errors.Is(err, escrow.ErrUnknownClass) {
		test.Fatalf("expected ErrUnknownClass, got %v", err)
	}
}

func TestHotelAndLinkRoundTrip(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()

	classID, err := store.InsertRoomClass(ctx, escrow.RoomClassInput{Name: "Standard", PricePerNightCents: 1000})
	if err != nil {
		test.Fatalf("insert class: %v", err)
	}
	hotelID, err := store.InsertHotel(ctx, escrow.HotelInput{Name: "Hotel H", PayoutAddress: mustAddress(test, "hotel-payout")})
	if err != nil {
		test.Fatalf("insert hotel: %v", err)
	}

	offered, err := store.HotelOffersClass(ctx, hotelID, classID)
	if err != nil {
		test.Fatalf("offers: %v", err)
	}
	if offered {
		test.Fatalf("expected no offer before link")
	}

	for index := 0; index < 2; index++ {
		if err := store.AppendHotelClass(ctx, hotelID, classID); err != nil {
			test.Fatalf("append link: %v", err)
		}
	}
	offered, err = store.HotelOffersClass(ctx, hotelID, classID)
	if err != nil {
		test.Fatalf("offers: %v", err)
	}
	if !offered {
		test.Fatalf("expected offer after link")
	}

	classIDs, err := store.ListHotelClassIDs(ctx, hotelID)
	if err != nil {
		test.Fatalf("list link ids: %v", err)
	}
	if len(classIDs) != 2 {
		test.Fatalf("expected append-only duplicate links, got %d", len(classIDs))
	}

	offered, err = store.HotelOffersClass(ctx, 99, classID)
	if err != nil {
		test.Fatalf("offers for unknown hotel: %v", err)
	}
	if offered {
		test.Fatalf("expected false for unknown hotel")
	}

	if _, err := store.GetHotel(ctx, 99); !errors.Is(err, escrow.ErrUnknownHotel) {
		test.Fatalf("expected ErrUnknownHotel, got %v", err)
	}
}

func TestBookingRoundTrip(test *testing.T) {
	store := newTestStore(test)
	bookingID := seedBooking(test, store)
	ctx := context.Background()

	booking, err := store.GetBooking(ctx, bookingID)
	if err != nil {
		test.Fatalf("get booking: %v", err)
	}
	if booking.RoomCostCents != 2000 || booking.DepositCents != 500 {
		test.Fatalf("unexpected amounts: %+v", booking)
	}
	if !booking.PaidRoom || booking.RoomReleased || booking.DepositReleased {
		test.Fatalf("unexpected flags: %+v", booking)
	}
	if booking.Metadata.String() != `{"channel":"web"}` {
		test.Fatalf("unexpected metadata: %s", booking.Metadata.String())
	}
	if booking.CreatedUnixUTC != 1700000000 {
		test.Fatalf("unexpected created time: %d", booking.CreatedUnixUTC)
	}

	if _, err := store.GetBooking(ctx, 99); !errors.Is(err, escrow.ErrUnknownBooking) {
		test.Fatalf("expected ErrUnknownBooking, got %v", err)
	}
}

func TestListBookingsAscendingWithLimit(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	classID, err := store.InsertRoomClass(ctx, escrow.RoomClassInput{Name: "Standard", PricePerNightCents: 1000})
	if err != nil {
		test.Fatalf("insert class: %v", err)
	}
	hotelID, err := store.InsertHotel(ctx, escrow.HotelInput{Name: "Hotel H", PayoutAddress: mustAddress(test, "hotel-payout")})
	if err != nil {
		test.Fatalf("insert hotel: %v", err)
	}
	for index := 0; index < 3; index++ {
		if _, err := store.InsertBooking(ctx, escrow.BookingInput{
			Customer:       mustAddress(test, "customer-1"),
			HotelID:        hotelID,
			ClassID:        classID,
			Nights:         1,
			RoomCostCents:  1000,
			Metadata:       mustMetadata(test, "{}"),
			CreatedUnixUTC: 1700000000,
		}); err != nil {
			test.Fatalf("insert booking: %v", err)
		}
	}

	bookings, err := store.ListBookings(ctx, 0)
	if err != nil {
		test.Fatalf("list bookings: %v", err)
	}
	if len(bookings) != 3 {
		test.Fatalf("expected zero limit to mean unlimited, got %d bookings", len(bookings))
	}
	for index, booking := range bookings {
		if booking.BookingID.Int64() != int64(index+1) {
			test.Fatalf("expected handle-ascending order, got %+v", bookings)
		}
	}

	limited, err := store.ListBookings(ctx, 2)
	if err != nil {
		test.Fatalf("list bookings: %v", err)
	}
	if len(limited) != 2 || limited[0].BookingID.Int64() != 1 {
		test.Fatalf("expected the first two bookings, got %+v", limited)
	}
}

func TestMarkFlagsAreGuarded(test *testing.T) {
	store := newTestStore(test)
	bookingID := seedBooking(test, store)
	ctx := context.Background()

	if err := store.MarkRoomReleased(ctx, bookingID); err != nil {
		test.Fatalf("mark room released: %v", err)
	}
	if err := store.MarkRoomReleased(ctx, bookingID); !errors.Is(err, escrow.ErrRoomAlreadyReleased) {
		test.Fatalf("expected ErrRoomAlreadyReleased, got %v", err)
	}

	if err := store.MarkDepositReleased(ctx, bookingID); err != nil {
		test.Fatalf("mark deposit released: %v", err)
	}
	if err := store.MarkDepositReleased(ctx, bookingID); !errors.Is(err, escrow.ErrDepositAlreadyReleased) {
		test.Fatalf("expected ErrDepositAlreadyReleased, got %v", err)
	}

	booking, err := store.GetBooking(ctx, bookingID)
	if err != nil {
		test.Fatalf("get booking: %v", err)
	}
	if !booking.RoomReleased || !booking.DepositReleased {
		test.Fatalf("expected terminal booking, got %+v", booking)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	store := newTestStore(test)
	bookingID := seedBooking(test, store)
	ctx := context.Background()

	injected := errors.New("transfer rejected")
	err := store.WithTx(ctx, func(ctx context.Context, txStore escrow.Store) error {
		if err := txStore.MarkRoomReleased(ctx, bookingID); err != nil {
			return err
		}
		return injected
	})
	if !errors.Is(err, injected) {
		test.Fatalf("expected injected error, got %v", err)
	}

	booking, err := store.GetBooking(ctx, bookingID)
	if err != nil {
		test.Fatalf("get booking: %v", err)
	}
	if booking.RoomReleased {
		test.Fatalf("expected flag rolled back, got %+v", booking)
	}
}

func TestServiceOverSQLiteStore(test *testing.T) {
	store := newTestStore(test)
	transfers := &recordingTransferor{}
	administrator := mustAddress(test, "admin-1")
	custody := mustAddress(test, "custody-pool")
	service, err := escrow.NewService(store, transfers, administrator, custody, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	ctx := context.Background()

	classID, err := service.CreateClass(ctx, administrator, "Standard", 1000)
	if err != nil {
		test.Fatalf("create class: %v", err)
	}
	hotelID, err := service.RegisterHotel(ctx, administrator, "Hotel H", mustAddress(test, "hotel-payout"))
	if err != nil {
		test.Fatalf("register hotel: %v", err)
	}
	if err := service.LinkClass(ctx, administrator, hotelID, classID); err != nil {
		test.Fatalf("link class: %v", err)
	}
	bookingID, err := service.CreateBooking(ctx, mustAddress(test, "customer-1"), hotelID, classID, 3, 500, mustMetadata(test, "{}"))
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	if err := service.ConfirmCheckIn(ctx, administrator, bookingID); err != nil {
		test.Fatalf("confirm check-in: %v", err)
	}
	if err := service.ConfirmCheckIn(ctx, administrator, bookingID); !errors.Is(err, escrow.ErrRoomAlreadyReleased) {
		test.Fatalf("expected ErrRoomAlreadyReleased, got %v", err)
	}
	if len(transfers.transfers) != 1 || transfers.transfers[0] != 3000 {
		test.Fatalf("unexpected payouts: %+v", transfers.transfers)
	}
}

type recordingTransferor struct {
	transfers []int64
}

func (transferor *recordingTransferor) Transfer(_ context.Context, _ escrow.Address, amountCents escrow.AmountCents) (bool, error) {
	transferor.transfers = append(transferor.transfers, amountCents.Int64())
	return true, nil
}

func (transferor *recordingTransferor) TransferFrom(_ context.Context, _ escrow.Address, _ escrow.Address, amountCents escrow.AmountCents) (bool, error) {
	return true, nil
}
