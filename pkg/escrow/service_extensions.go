package escrow

import "context"

// GetBooking fetches one booking by handle.
func (service *Service) GetBooking(requestContext context.Context, bookingID BookingID) (Booking, error) {
	return service.store.GetBooking(requestContext, bookingID)
}

// ListBookings lists bookings ordered by handle ascending, up to limit.
func (service *Service) ListBookings(requestContext context.Context, limit int) ([]Booking, error) {
	return service.store.ListBookings(requestContext, limit)
}

// Administrator returns the configured administrator principal.
func (service *Service) Administrator() Address {
	return service.administrator
}

// Custody returns the address holding escrowed funds.
func (service *Service) Custody() Address {
	return service.custody
}
