package flow

// Status is the outcome of one stage. The zero value means the stage has not
// been initialized and is treated exactly like StatusPending.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusModify   Status = "MODIFY"
)

// RequestStatus is the coarse lifecycle of a movement request.
type RequestStatus string

const (
	RequestNew                 RequestStatus = "NEW"
	RequestInProgress          RequestStatus = "IN_PROGRESS"
	RequestCompleted           RequestStatus = "COMPLETED"
	RequestRejected            RequestStatus = "REJECTED"
	RequestPendingModification RequestStatus = "PENDING_MODIFICATION"
)

// Valid reports whether rs is a known lifecycle value.
func (rs RequestStatus) Valid() bool {
	switch rs {
	case RequestNew, RequestInProgress, RequestCompleted, RequestRejected, RequestPendingModification:
		return true
	}
	return false
}

// Closed reports whether the approval workflow is over for rs.
func (rs RequestStatus) Closed() bool {
	return rs == RequestRejected || rs == RequestCompleted
}

// Action names a stage transition.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionModify  Action = "MODIFY"
)
