package escrow

import (
	"context"
	"fmt"
	"strings"
)

// RegisterHotel records a hotel with its payout destination. Administrator only.
func (service *Service) RegisterHotel(ctx context.Context, caller Address, name string, payoutAddress Address) (HotelID, error) {
	var hotelID HotelID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := service.requireAdministrator(caller); err != nil {
			return err
		}
		trimmedName := strings.TrimSpace(name)
		if trimmedName == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidHotelName)
		}
		if payoutAddress.IsZero() {
			return fmt.Errorf("%w: payout address is empty", ErrInvalidAddress)
		}
		var err error
		hotelID, err = transactionStore.InsertHotel(ctx, HotelInput{
			Name:          trimmedName,
			PayoutAddress: payoutAddress,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterHotel,
		Actor:     caller,
		HotelID:   hotelID,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return hotelID, nil
}

// LinkClass appends a catalog class to a hotel's offered set. Administrator
// only. The offered set is append-only; duplicate links are harmless since
// lookup is existence-based.
func (service *Service) LinkClass(ctx context.Context, caller Address, hotelID HotelID, classID ClassID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := service.requireAdministrator(caller); err != nil {
			return err
		}
		if _, err := transactionStore.GetHotel(ctx, hotelID); err != nil {
			return err
		}
		if _, err := transactionStore.GetRoomClass(ctx, classID); err != nil {
			return err
		}
		return transactionStore.AppendHotelClass(ctx, hotelID, classID)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationLinkClass,
		Actor:     caller,
		HotelID:   hotelID,
		ClassID:   classID,
		Error:     operationError,
	})
	return operationError
}

// Offers reports whether a hotel offers a class. An unknown hotel yields
// false, not an error.
func (service *Service) Offers(ctx context.Context, hotelID HotelID, classID ClassID) (bool, error) {
	return service.store.HotelOffersClass(ctx, hotelID, classID)
}

// GetHotel fetches one hotel by handle.
func (service *Service) GetHotel(ctx context.Context, hotelID HotelID) (Hotel, error) {
	return service.store.GetHotel(ctx, hotelID)
}

// ListHotelClassIDs lists a hotel's offered class handles in link order.
func (service *Service) ListHotelClassIDs(ctx context.Context, hotelID HotelID) ([]ClassID, error) {
	if _, err := service.store.GetHotel(ctx, hotelID); err != nil {
		return nil, err
	}
	return service.store.ListHotelClassIDs(ctx, hotelID)
}

// ListHotelsWithClasses lists all hotels with their offered classes resolved
// against the catalog, ordered by hotel handle ascending.
func (service *Service) ListHotelsWithClasses(ctx context.Context) ([]HotelWithClasses, error) {
	hotels, err := service.store.ListHotels(ctx)
	if err != nil {
		return nil, err
	}
	resolved := make([]HotelWithClasses, 0, len(hotels))
	for _, hotel := range hotels {
		classIDs, err := service.store.ListHotelClassIDs(ctx, hotel.HotelID)
		if err != nil {
			return nil, err
		}
		classes := make([]RoomClass, 0, len(classIDs))
		seen := make(map[ClassID]struct{}, len(classIDs))
		for _, classID := range classIDs {
			if _, duplicate := seen[classID]; duplicate {
				continue
			}
			seen[classID] = struct{}{}
			class, err := service.store.GetRoomClass(ctx, classID)
			if err != nil {
				return nil, err
			}
			classes = append(classes, class)
		}
		resolved = append(resolved, HotelWithClasses{Hotel: hotel, Classes: classes})
	}
	return resolved, nil
}
