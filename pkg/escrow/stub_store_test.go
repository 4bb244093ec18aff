package escrow

import (
	"context"
	"testing"
)

// stubStore is an in-memory Store with per-method error injection. WithTx runs
// the closure directly; transfer-before-insert ordering in the service keeps
// the stub honest without rollback support.
type stubStore struct {
	classes  []RoomClass
	hotels   []Hotel
	links    map[HotelID][]ClassID
	bookings []Booking

	insertClassError   error
	getClassError      error
	listClassesError   error
	insertHotelError   error
	getHotelError      error
	listHotelsError    error
	appendClassError   error
	offersError        error
	insertBookingError error
	getBookingError    error
	markRoomError      error
	markDepositError   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{links: make(map[HotelID][]ClassID)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) InsertRoomClass(_ context.Context, input RoomClassInput) (ClassID, error) {
	if store.insertClassError != nil {
		return 0, store.insertClassError
	}
	classID := ClassID(len(store.classes) + 1)
	store.classes = append(store.classes, RoomClass{
		ClassID:            classID,
		Name:               input.Name,
		PricePerNightCents: input.PricePerNightCents,
	})
	return classID, nil
}

func (store *stubStore) GetRoomClass(_ context.Context, classID ClassID) (RoomClass, error) {
	if store.getClassError != nil {
		return RoomClass{}, store.getClassError
	}
	index := int(classID) - 1
	if index < 0 || index >= len(store.classes) {
		return RoomClass{}, ErrUnknownClass
	}
	return store.classes[index], nil
}

func (store *stubStore) ListRoomClasses(_ context.Context) ([]RoomClass, error) {
	if store.listClassesError != nil {
		return nil, store.listClassesError
	}
	return append([]RoomClass(nil), store.classes...), nil
}

func (store *stubStore) InsertHotel(_ context.Context, input HotelInput) (HotelID, error) {
	if store.insertHotelError != nil {
		return 0, store.insertHotelError
	}
	hotelID := HotelID(len(store.hotels) + 1)
	store.hotels = append(store.hotels, Hotel{
		HotelID:       hotelID,
		Name:          input.Name,
		PayoutAddress: input.PayoutAddress,
	})
	return hotelID, nil
}

func (store *stubStore) GetHotel(_ context.Context, hotelID HotelID) (Hotel, error) {
	if store.getHotelError != nil {
		return Hotel{}, store.getHotelError
	}
	index := int(hotelID) - 1
	if index < 0 || index >= len(store.hotels) {
		return Hotel{}, ErrUnknownHotel
	}
	return store.hotels[index], nil
}

func (store *stubStore) ListHotels(_ context.Context) ([]Hotel, error) {
	if store.listHotelsError != nil {
		return nil, store.listHotelsError
	}
	return append([]Hotel(nil), store.hotels...), nil
}

func (store *stubStore) AppendHotelClass(_ context.Context, hotelID HotelID, classID ClassID) error {
	if store.appendClassError != nil {
		return store.appendClassError
	}
	store.links[hotelID] = append(store.links[hotelID], classID)
	return nil
}

func (store *stubStore) ListHotelClassIDs(_ context.Context, hotelID HotelID) ([]ClassID, error) {
	return append([]ClassID(nil), store.links[hotelID]...), nil
}

func (store *stubStore) HotelOffersClass(_ context.Context, hotelID HotelID, classID ClassID) (bool, error) {
	if store.offersError != nil {
		return false, store.offersError
	}
	for _, linked := range store.links[hotelID] {
		if linked == classID {
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) InsertBooking(_ context.Context, input BookingInput) (BookingID, error) {
	if store.insertBookingError != nil {
		return 0, store.insertBookingError
	}
	bookingID := BookingID(len(store.bookings) + 1)
	store.bookings = append(store.bookings, Booking{
		BookingID:       bookingID,
		Customer:        input.Customer,
		HotelID:         input.HotelID,
		ClassID:         input.ClassID,
		Nights:          input.Nights,
		RoomCostCents:   input.RoomCostCents,
		DepositCents:    input.DepositCents,
		PaidRoom:        input.PaidRoom,
		RoomReleased:    false,
		DepositReleased: false,
		Metadata:        input.Metadata,
		CreatedUnixUTC:  input.CreatedUnixUTC,
	})
	return bookingID, nil
}

func (store *stubStore) GetBooking(_ context.Context, bookingID BookingID) (Booking, error) {
	if store.getBookingError != nil {
		return Booking{}, store.getBookingError
	}
	index := int(bookingID) - 1
	if index < 0 || index >= len(store.bookings) {
		return Booking{}, ErrUnknownBooking
	}
	return store.bookings[index], nil
}

func (store *stubStore) GetBookingForUpdate(ctx context.Context, bookingID BookingID) (Booking, error) {
	return store.GetBooking(ctx, bookingID)
}

func (store *stubStore) MarkRoomReleased(_ context.Context, bookingID BookingID) error {
	if store.markRoomError != nil {
		return store.markRoomError
	}
	index := int(bookingID) - 1
	if index < 0 || index >= len(store.bookings) {
		return ErrUnknownBooking
	}
	if store.bookings[index].RoomReleased {
		return ErrRoomAlreadyReleased
	}
	store.bookings[index].RoomReleased = true
	return nil
}

func (store *stubStore) MarkDepositReleased(_ context.Context, bookingID BookingID) error {
	if store.markDepositError != nil {
		return store.markDepositError
	}
	index := int(bookingID) - 1
	if index < 0 || index >= len(store.bookings) {
		return ErrUnknownBooking
	}
	if store.bookings[index].DepositReleased {
		return ErrDepositAlreadyReleased
	}
	store.bookings[index].DepositReleased = true
	return nil
}

func (store *stubStore) ListBookings(_ context.Context, limit int) ([]Booking, error) {
	if limit <= 0 || limit > len(store.bookings) {
		limit = len(store.bookings)
	}
	return append([]Booking(nil), store.bookings[:limit]...), nil
}

func (store *stubStore) mustBooking(test *testing.T, bookingID BookingID) Booking {
	test.Helper()
	booking, err := store.GetBooking(context.Background(), bookingID)
	if err != nil {
		test.Fatalf("booking %d: %v", bookingID, err)
	}
	return booking
}

// transferCall records one movement requested from the stub transferor.
type transferCall struct {
	from   Address
	to     Address
	amount AmountCents
}

type stubTransferor struct {
	pulls  []transferCall
	pushes []transferCall

	rejectPull  bool
	rejectPush  bool
	pullError   error
	pushError   error
	custodyPool Address
}

func newStubTransferor(test *testing.T) *stubTransferor {
	test.Helper()
	return &stubTransferor{custodyPool: mustAddress(test, custodyAddressValue)}
}

func (transferor *stubTransferor) Transfer(_ context.Context, to Address, amountCents AmountCents) (bool, error) {
	if transferor.pushError != nil {
		return false, transferor.pushError
	}
	if transferor.rejectPush {
		return false, nil
	}
	transferor.pushes = append(transferor.pushes, transferCall{from: transferor.custodyPool, to: to, amount: amountCents})
	return true, nil
}

func (transferor *stubTransferor) TransferFrom(_ context.Context, from Address, to Address, amountCents AmountCents) (bool, error) {
	if transferor.pullError != nil {
		return false, transferor.pullError
	}
	if transferor.rejectPull {
		return false, nil
	}
	transferor.pulls = append(transferor.pulls, transferCall{from: from, to: to, amount: amountCents})
	return true, nil
}

const (
	administratorAddressValue = "admin-1"
	custodyAddressValue       = "custody-pool"
	hotelPayoutAddressValue   = "hotel-payout-1"
	customerAddressValue      = "customer-1"
)

func mustAddress(test *testing.T, raw string) Address {
	test.Helper()
	address, err := NewAddress(raw)
	if err != nil {
		test.Fatalf("address %q: %v", raw, err)
	}
	return address
}

func mustNights(test *testing.T, raw int64) Nights {
	test.Helper()
	nights, err := NewNights(raw)
	if err != nil {
		test.Fatalf("nights %d: %v", raw, err)
	}
	return nights
}

func mustAmountCents(test *testing.T, raw int64) AmountCents {
	test.Helper()
	amount, err := NewAmountCents(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustNewService(test *testing.T, store Store, transfers Transferor, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(
		store,
		transfers,
		mustAddress(test, administratorAddressValue),
		mustAddress(test, custodyAddressValue),
		func() int64 { return 1700000000 },
		options...,
	)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

// newBookedService seeds one class, one hotel offering it, and one paid
// booking, returning the service alongside its collaborators.
func newBookedService(test *testing.T, pricePerNight int64, nights int64, deposit int64) (*Service, *stubStore, *stubTransferor, BookingID) {
	test.Helper()
	store := newStubStore(test)
	transfers := newStubTransferor(test)
	service := mustNewService(test, store, transfers)
	administrator := mustAddress(test, administratorAddressValue)

	classID, err := service.CreateClass(context.Background(), administrator, "Standard", mustAmountCents(test, pricePerNight))
	if err != nil {
		test.Fatalf("create class: %v", err)
	}
	hotelID, err := service.RegisterHotel(context.Background(), administrator, "Hotel H", mustAddress(test, hotelPayoutAddressValue))
	if err != nil {
		test.Fatalf("register hotel: %v", err)
	}
	if err := service.LinkClass(context.Background(), administrator, hotelID, classID); err != nil {
		test.Fatalf("link class: %v", err)
	}
	bookingID, err := service.CreateBooking(
		context.Background(),
		mustAddress(test, customerAddressValue),
		hotelID,
		classID,
		mustNights(test, nights),
		mustAmountCents(test, deposit),
		mustMetadata(test, "{}"),
	)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	return service, store, transfers, bookingID
}
