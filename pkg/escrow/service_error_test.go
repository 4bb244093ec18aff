package escrow

import (
	"context"
	"errors"
	"testing"
)

const (
	errStoreMessage      = "store error"
	errorMismatchMessage = "expected %v, got %v"
)

var errStoreFailure = errors.New(errStoreMessage)

func TestCreateBookingReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(test *testing.T, store *stubStore)
	}{
		{
			name: "hotel lookup error",
			configure: func(test *testing.T, store *stubStore) {
				store.getHotelError = errStoreFailure
			},
		},
		{
			name: "class lookup error",
			configure: func(test *testing.T, store *stubStore) {
				store.getClassError = errStoreFailure
			},
		},
		{
			name: "offer lookup error",
			configure: func(test *testing.T, store *stubStore) {
				store.offersError = errStoreFailure
			},
		},
		{
			name: "booking insert error",
			configure: func(test *testing.T, store *stubStore) {
				store.insertBookingError = errStoreFailure
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			transfers := newStubTransferor(test)
			service := mustNewService(test, store, transfers)
			administrator := mustAddress(test, administratorAddressValue)
			classID, err := service.CreateClass(context.Background(), administrator, "Standard", mustAmountCents(test, 10))
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
			testCase.configure(test, store)

			_, err = service.CreateBooking(context.Background(), mustAddress(test, customerAddressValue), hotelID, classID, mustNights(test, 2), mustAmountCents(test, 5), mustMetadata(test, "{}"))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
		})
	}
}

func TestReleasePathsReturnStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(test *testing.T, store *stubStore)
		invoke    func(service *Service, caller Address, bookingID BookingID) error
	}{
		{
			name: "check-in booking lookup error",
			configure: func(test *testing.T, store *stubStore) {
				store.getBookingError = errStoreFailure
			},
			invoke: func(service *Service, caller Address, bookingID BookingID) error {
				return service.ConfirmCheckIn(context.Background(), caller, bookingID)
			},
		},
		{
			name: "check-in flag update error",
			configure: func(test *testing.T, store *stubStore) {
				store.markRoomError = errStoreFailure
			},
			invoke: func(service *Service, caller Address, bookingID BookingID) error {
				return service.ConfirmCheckIn(context.Background(), caller, bookingID)
			},
		},
		{
			name: "refund flag update error",
			configure: func(test *testing.T, store *stubStore) {
				store.markDepositError = errStoreFailure
			},
			invoke: func(service *Service, caller Address, bookingID BookingID) error {
				return service.RefundDeposit(context.Background(), caller, bookingID)
			},
		},
		{
			name: "full refund flag update error",
			configure: func(test *testing.T, store *stubStore) {
				store.markDepositError = errStoreFailure
			},
			invoke: func(service *Service, caller Address, bookingID BookingID) error {
				return service.FullRefund(context.Background(), caller, bookingID)
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			service, store, _, bookingID := newBookedService(test, 10, 2, 5)
			testCase.configure(test, store)

			err := testCase.invoke(service, mustAddress(test, customerAddressValue), bookingID)
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
		})
	}
}
