package escrow

import (
	"context"
	"fmt"
	"math"
)

// Service contains the escrow domain logic over a Store and a Transferor.
type Service struct {
	store         Store
	transfers     Transferor
	administrator Address
	custody       Address
	nowFn         func() int64
	logger        OperationLogger
}

// NewService wires a Service.
func NewService(store Store, transfers Transferor, administrator Address, custody Address, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if transfers == nil {
		return nil, fmt.Errorf("%w: transfer dependency is nil", ErrInvalidServiceConfig)
	}
	if administrator.IsZero() {
		return nil, fmt.Errorf("%w: administrator address is empty", ErrInvalidServiceConfig)
	}
	if custody.IsZero() {
		return nil, fmt.Errorf("%w: custody address is empty", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:         store,
		transfers:     transfers,
		administrator: administrator,
		custody:       custody,
		nowFn:         now,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateBooking validates the hotel/class pair, pulls the room cost plus
// deposit from the customer into custody, and records the booking. The pull
// happens before any state is recorded; a rejected pull leaves no booking.
func (service *Service) CreateBooking(ctx context.Context, customer Address, hotelID HotelID, classID ClassID, nights Nights, depositCents AmountCents, metadata MetadataJSON) (BookingID, error) {
	var bookingID BookingID
	var totalCents AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if customer.IsZero() {
			return fmt.Errorf("%w: customer address is empty", ErrInvalidAddress)
		}
		if nights <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidNights)
		}
		if depositCents < 0 {
			return fmt.Errorf("%w: deposit must not be negative", ErrInvalidAmountCents)
		}
		if _, err := transactionStore.GetHotel(ctx, hotelID); err != nil {
			return err
		}
		class, err := transactionStore.GetRoomClass(ctx, classID)
		if err != nil {
			return err
		}
		offered, err := transactionStore.HotelOffersClass(ctx, hotelID, classID)
		if err != nil {
			return err
		}
		if !offered {
			return ErrClassNotOffered
		}
		if class.PricePerNightCents.Int64() > math.MaxInt64/nights.Int64() {
			return fmt.Errorf("%w: room cost overflows", ErrInvalidAmountCents)
		}
		roomCostCents := AmountCents(class.PricePerNightCents.Int64() * nights.Int64())
		totalCents = roomCostCents + depositCents
		if totalCents < roomCostCents {
			return fmt.Errorf("%w: booking total overflows", ErrInvalidAmountCents)
		}
		if totalCents <= 0 {
			return ErrEmptyBookingTotal
		}
		if err := service.pull(ctx, customer, totalCents); err != nil {
			return err
		}
		bookingID, err = transactionStore.InsertBooking(ctx, BookingInput{
			Customer:       customer,
			HotelID:        hotelID,
			ClassID:        classID,
			Nights:         nights,
			RoomCostCents:  roomCostCents,
			DepositCents:   depositCents,
			PaidRoom:       true,
			Metadata:       metadata,
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateBooking,
		Actor:     customer,
		HotelID:   hotelID,
		ClassID:   classID,
		BookingID: bookingID,
		Amount:    totalCents,
		Metadata:  metadata,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return bookingID, nil
}

// ConfirmCheckIn releases the room sub-ledger: the room cost moves from
// custody to the hotel payout address. Callable by any principal; the actor is
// recorded in the audit event.
func (service *Service) ConfirmCheckIn(ctx context.Context, caller Address, bookingID BookingID) error {
	var roomCostCents AmountCents
	var hotelID HotelID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		hotelID = booking.HotelID
		if !booking.PaidRoom {
			return ErrRoomUnpaid
		}
		if booking.RoomReleased {
			return ErrRoomAlreadyReleased
		}
		hotel, err := transactionStore.GetHotel(ctx, booking.HotelID)
		if err != nil {
			return err
		}
		if err := transactionStore.MarkRoomReleased(ctx, bookingID); err != nil {
			return err
		}
		roomCostCents = booking.RoomCostCents
		return service.push(ctx, hotel.PayoutAddress, booking.RoomCostCents)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationConfirmCheckIn,
		Actor:     caller,
		HotelID:   hotelID,
		BookingID: bookingID,
		Amount:    roomCostCents,
		Error:     operationError,
	})
	return operationError
}

// RefundDeposit releases the deposit sub-ledger back to the customer.
// Callable by any principal; the actor is recorded in the audit event.
func (service *Service) RefundDeposit(ctx context.Context, caller Address, bookingID BookingID) error {
	var depositCents AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.DepositReleased {
			return ErrDepositAlreadyReleased
		}
		if err := transactionStore.MarkDepositReleased(ctx, bookingID); err != nil {
			return err
		}
		depositCents = booking.DepositCents
		return service.push(ctx, booking.Customer, booking.DepositCents)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRefundDeposit,
		Actor:     caller,
		BookingID: bookingID,
		Amount:    depositCents,
		Error:     operationError,
	})
	return operationError
}

// ChargeDeposit splits the deposit between the hotel and the customer. Only
// the booking hotel's payout address may charge, and the charged portion may
// not exceed the deposit.
func (service *Service) ChargeDeposit(ctx context.Context, caller Address, bookingID BookingID, amountCents AmountCents) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amountCents < 0 {
			return fmt.Errorf("%w: charge must not be negative", ErrInvalidAmountCents)
		}
		booking, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		hotel, err := transactionStore.GetHotel(ctx, booking.HotelID)
		if err != nil {
			return err
		}
		if !caller.Equal(hotel.PayoutAddress) {
			return ErrNotHotelPayout
		}
		if booking.DepositReleased {
			return ErrDepositAlreadyReleased
		}
		if amountCents > booking.DepositCents {
			return fmt.Errorf("%w: charge exceeds deposit", ErrInvalidAmountCents)
		}
		if err := transactionStore.MarkDepositReleased(ctx, bookingID); err != nil {
			return err
		}
		if err := service.push(ctx, hotel.PayoutAddress, amountCents); err != nil {
			return err
		}
		return service.push(ctx, booking.Customer, booking.DepositCents-amountCents)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationChargeDeposit,
		Actor:     caller,
		BookingID: bookingID,
		Amount:    amountCents,
		Error:     operationError,
	})
	return operationError
}

// FullRefund cancels a booking before check-in: both flags are driven to
// released and the custodied total returns to the customer in one transfer.
// A deposit that was already charged or refunded stays settled and is not
// paid a second time.
func (service *Service) FullRefund(ctx context.Context, caller Address, bookingID BookingID) error {
	var refundCents AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.RoomReleased {
			return ErrRoomAlreadyReleased
		}
		refundCents = booking.RoomCostCents
		if !booking.DepositReleased {
			refundCents += booking.DepositCents
			if err := transactionStore.MarkDepositReleased(ctx, bookingID); err != nil {
				return err
			}
		}
		if err := transactionStore.MarkRoomReleased(ctx, bookingID); err != nil {
			return err
		}
		return service.push(ctx, booking.Customer, refundCents)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationFullRefund,
		Actor:     caller,
		BookingID: bookingID,
		Amount:    refundCents,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) requireAdministrator(caller Address) error {
	if !caller.Equal(service.administrator) {
		return ErrNotAdministrator
	}
	return nil
}

// pull moves funds from a customer into the custody pool.
func (service *Service) pull(ctx context.Context, from Address, amountCents AmountCents) error {
	if amountCents == 0 {
		return nil
	}
	moved, err := service.transfers.TransferFrom(ctx, from, service.custody, amountCents)
	if err != nil || !moved {
		return WrapError(errorOperationService, errorSubjectTransfer, errorCodePull, ErrTransferFailed)
	}
	return nil
}

// push moves custodied funds out to a hotel or customer. Zero-valued splits
// skip the transfer call entirely.
func (service *Service) push(ctx context.Context, to Address, amountCents AmountCents) error {
	if amountCents == 0 {
		return nil
	}
	moved, err := service.transfers.Transfer(ctx, to, amountCents)
	if err != nil || !moved {
		return WrapError(errorOperationService, errorSubjectTransfer, errorCodePush, ErrTransferFailed)
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
