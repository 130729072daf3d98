package apperrors

import "errors"

// Engine and routing errors
var (
	ErrEngineStopped        = errors.New("event engine stopped")
	ErrEngineAlreadyStarted = errors.New("event engine already started")
	ErrGatewayNotFound      = errors.New("gateway not found")
	ErrDuplicateGateway     = errors.New("gateway already registered")
	ErrNotConnected         = errors.New("not connected")
	ErrUnsupported          = errors.New("operation not supported")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrOrderNotFound        = errors.New("order not found")
	ErrContractNotFound     = errors.New("contract not found")
)
