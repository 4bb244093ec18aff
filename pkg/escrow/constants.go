package escrow

const (
	operationCreateClass    = "create_class"
	operationRegisterHotel  = "register_hotel"
	operationLinkClass      = "link_class"
	operationCreateBooking  = "create_booking"
	operationConfirmCheckIn = "confirm_check_in"
	operationRefundDeposit  = "refund_deposit"
	operationChargeDeposit  = "charge_deposit"
	operationFullRefund     = "full_refund"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectTransfer  = "transfer"
	errorCodePull         = "pull"
	errorCodePush         = "push"
)
