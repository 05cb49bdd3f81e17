package claim

import "errors"

// Sentinel errors for coordinator operations.
var (
	ErrAlreadyAssigned = errors.New("task already assigned to you")
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidPostpone = errors.New("postpone date must be in the future")
	ErrInvalidTransfer = errors.New("transfer needs a target operator")
)
