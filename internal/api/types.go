package api

import (
	"time"

	"github.com/google/uuid"
)

// ReserveRequest addresses a slot either by slotId or by its natural key.
type ReserveRequest struct {
	SlotID              string `json:"slotId" validate:"omitempty,uuid"`
	ProviderID          string `json:"providerId" validate:"required_without=SlotID"`
	Date                string `json:"date" validate:"required_without=SlotID"`
	StartTime           string `json:"startTime" validate:"required_without=SlotID"`
	EndTime             string `json:"endTime" validate:"required_without=SlotID"`
	HolderID            string `json:"holderId" validate:"required"`
	HoldDurationSeconds *int   `json:"holdDurationSeconds"`
}

type ReserveResponse struct {
	ReservationID uuid.UUID `json:"reservationId"`
	SlotID        uuid.UUID `json:"slotId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type HolderRequest struct {
	SlotID   string `json:"slotId" validate:"required,uuid"`
	HolderID string `json:"holderId" validate:"required"`
}

type ConfirmResponse struct {
	SlotID      uuid.UUID `json:"slotId"`
	Status      string    `json:"status"`
	BookedCount int       `json:"bookedCount"`
}

type CancelBookingRequest struct {
	SlotID string `json:"slotId" validate:"required,uuid"`
}

type CreateSlotRequest struct {
	ProviderID  string `json:"providerId" validate:"required"`
	Date        string `json:"date" validate:"required,date"`
	StartTime   string `json:"startTime" validate:"required,clock"`
	EndTime     string `json:"endTime" validate:"required,clock"`
	MaxCapacity int    `json:"maxCapacity"`
}

type AvailableSlotResponse struct {
	SlotID            uuid.UUID `json:"slotId"`
	Date              string    `json:"date"`
	StartTime         string    `json:"startTime"`
	EndTime           string    `json:"endTime"`
	AvailableCapacity int       `json:"availableCapacity"`
}

type ReservationResponse struct {
	ReservationID uuid.UUID `json:"reservationId"`
	HolderID      string    `json:"holderId"`
	ReservedAt    time.Time `json:"reservedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type SlotResponse struct {
	ID          uuid.UUID            `json:"id"`
	ProviderID  string               `json:"providerId"`
	Date        string               `json:"date"`
	StartTime   string               `json:"startTime"`
	EndTime     string               `json:"endTime"`
	MaxCapacity int                  `json:"maxCapacity"`
	BookedCount int                  `json:"bookedCount"`
	Status      string               `json:"status"`
	Reservation *ReservationResponse `json:"reservation,omitempty"`
	Version     int64                `json:"version"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
