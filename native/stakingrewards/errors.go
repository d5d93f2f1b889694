package stakingrewards

import "errors"

var (
	ErrAccessDenied                = errors.New("stakingrewards: access denied")
	ErrInvalidAddress              = errors.New("stakingrewards: invalid address")
	ErrInvalidParam                = errors.New("stakingrewards: invalid param")
	ErrProgramAlreadyActive        = errors.New("stakingrewards: program already active")
	ErrProgramInactive             = errors.New("stakingrewards: program inactive")
	ErrNotWhitelisted              = errors.New("stakingrewards: pool not whitelisted")
	ErrInsufficientFunds           = errors.New("stakingrewards: insufficient funds")
	ErrUnsupportedDistributionType = errors.New("stakingrewards: unsupported distribution type")
)
