package escrow

import (
	"context"
	"fmt"
	"strings"
)

// CreateClass appends an immutable room class to the catalog. Administrator
// only; the assigned handle is sequential starting at 1.
func (service *Service) CreateClass(ctx context.Context, caller Address, name string, pricePerNightCents AmountCents) (ClassID, error) {
	var classID ClassID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := service.requireAdministrator(caller); err != nil {
			return err
		}
		trimmedName := strings.TrimSpace(name)
		if trimmedName == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidClassName)
		}
		if pricePerNightCents <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidPricePerNight)
		}
		var err error
		classID, err = transactionStore.InsertRoomClass(ctx, RoomClassInput{
			Name:               trimmedName,
			PricePerNightCents: pricePerNightCents,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateClass,
		Actor:     caller,
		ClassID:   classID,
		Amount:    pricePerNightCents,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return classID, nil
}

// GetClass fetches one room class by handle.
func (service *Service) GetClass(ctx context.Context, classID ClassID) (RoomClass, error) {
	return service.store.GetRoomClass(ctx, classID)
}

// ListClasses lists all room classes ordered by handle ascending.
func (service *Service) ListClasses(ctx context.Context) ([]RoomClass, error) {
	return service.store.ListRoomClasses(ctx)
}
