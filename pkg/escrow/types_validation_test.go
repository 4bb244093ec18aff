package escrow

import (
	"errors"
	"testing"
)

func TestNewAddress(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " wallet-123 ", wantVal: "wallet-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidAddress},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewAddress(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestNewNights(t *testing.T) {
	t.Parallel()
	_, err := NewNights(0)
	if !errors.Is(err, ErrInvalidNights) {
		t.Fatalf("expected ErrInvalidNights, got %v", err)
	}
	nights, err := NewNights(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nights.Int64() != 3 {
		t.Fatalf("expected 3, got %d", nights.Int64())
	}
}

func TestNewAmountCents(t *testing.T) {
	t.Parallel()
	_, err := NewAmountCents(-1)
	if !errors.Is(err, ErrInvalidAmountCents) {
		t.Fatalf("expected ErrInvalidAmountCents, got %v", err)
	}
	zero, err := NewAmountCents(0)
	if err != nil {
		t.Fatalf("zero deposit must be valid: %v", err)
	}
	if zero != 0 {
		t.Fatalf("expected 0, got %d", zero)
	}
}

func TestHandleConstructorsRejectSentinel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		build   func() error
		wantErr error
	}{
		{name: "class id", build: func() error { _, err := NewClassID(0); return err }, wantErr: ErrInvalidClassID},
		{name: "hotel id", build: func() error { _, err := NewHotelID(-1); return err }, wantErr: ErrInvalidHotelID},
		{name: "booking id", build: func() error { _, err := NewBookingID(0); return err }, wantErr: ErrInvalidBookingID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.build(); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewMetadataJSON(t *testing.T) {
	t.Parallel()
	meta, err := NewMetadataJSON("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.String() != "{}" {
		t.Fatalf("expected default metadata to be '{}', got %q", meta.String())
	}
	_, err = NewMetadataJSON("not-json")
	if !errors.Is(err, ErrInvalidMetadataJSON) {
		t.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestBookingCustodyCents(t *testing.T) {
	t.Parallel()
	booking := Booking{RoomCostCents: 30, DepositCents: 10}
	if booking.CustodyCents() != 40 {
		t.Fatalf("expected 40, got %d", booking.CustodyCents())
	}
	booking.RoomReleased = true
	if booking.CustodyCents() != 10 {
		t.Fatalf("expected 10, got %d", booking.CustodyCents())
	}
	booking.DepositReleased = true
	if booking.CustodyCents() != 0 {
		t.Fatalf("expected 0, got %d", booking.CustodyCents())
	}
}
