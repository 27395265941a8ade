package models

import "time"

// Job lifecycle. A job goes back to "pending" after a slice that leaves
// work behind, so "running" only holds while a worker owns the lock.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

const (
	ItemStatusPending   = "pending"
	ItemStatusSucceeded = "succeeded"
	ItemStatusFailed    = "failed"
)

type ShipmentImportJob struct {
	ID             uint64
	VendorID       uint64
	TrackingNumber string
	Carrier        string
	TotalCount     int32
	ProcessedCount int32
	ErrorCount     int32
	Status         string
	LockedAt       *time.Time
	Attempts       int32
	LastAttemptAt  *time.Time
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ShipmentImportJobItem struct {
	ID           uint64
	JobID        uint64
	VendorID     uint64
	OrderID      uint64
	LineItemID   uint64
	Quantity     int32
	Status       string
	Attempts     int32
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ImportSelection is one (order, line item, quantity) row the caller asked to ship.
type ImportSelection struct {
	OrderID    uint64
	LineItemID uint64
	Quantity   int32
}

type JobCreateInput struct {
	VendorID       uint64
	TrackingNumber string
	Carrier        string
	Selections     []ImportSelection
}
