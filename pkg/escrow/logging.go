package escrow

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing escrow operation. Handle fields are
// zero when the operation does not involve them.
type OperationLog struct {
	Operation string
	Actor     Address
	ClassID   ClassID
	HotelID   HotelID
	BookingID BookingID
	Amount    AmountCents
	Metadata  MetadataJSON
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}
