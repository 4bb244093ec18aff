package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// RoomClass mirrors the room_classes table. Handles start at 1; zero is the
// "does not exist" sentinel shared with the domain layer.
type RoomClass struct {
	ClassID            int64     `gorm:"primaryKey;autoIncrement"`
	Name               string    `gorm:"not null"`
	PricePerNightCents int64     `gorm:"not null"`
	CreatedAt          time.Time `gorm:"not null"`
}

func (RoomClass) TableName() string { return "room_classes" }

// Hotel mirrors the hotels table.
type Hotel struct {
	HotelID       int64     `gorm:"primaryKey;autoIncrement"`
	Name          string    `gorm:"not null"`
	PayoutAddress string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Hotel) TableName() string { return "hotels" }

// HotelClass mirrors the hotel_classes link table. Links are append-only and
// deliberately not deduplicated; offer checks are existence-based.
type HotelClass struct {
	LinkID    int64     `gorm:"primaryKey;autoIncrement"`
	HotelID   int64     `gorm:"not null;index:idx_hotel_classes_hotel_class,priority:1"`
	ClassID   int64     `gorm:"not null;index:idx_hotel_classes_hotel_class,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (HotelClass) TableName() string { return "hotel_classes" }

// Booking mirrors the bookings table.
type Booking struct {
	BookingID       int64          `gorm:"primaryKey;autoIncrement"`
	Customer        string         `gorm:"not null"`
	HotelID         int64          `gorm:"not null;index:idx_bookings_hotel"`
	ClassID         int64          `gorm:"not null"`
	Nights          int64          `gorm:"not null"`
	RoomCostCents   int64          `gorm:"not null"`
	DepositCents    int64          `gorm:"not null"`
	PaidRoom        bool           `gorm:"not null"`
	RoomReleased    bool           `gorm:"not null"`
	DepositReleased bool           `gorm:"not null"`
	Metadata        datatypes.JSON `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }
