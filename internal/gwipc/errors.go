// Package gwipc implements the GG-IPC gateway: the CONNECT/CONNECT_ACK
// handshake, stream-id multiplexed request dispatch, and the operation
// translators that front internal daemons over core-bus (spec §4.3).
package gwipc

import "github.com/gglite/corebus"

// PublicCode identifies one of the gateway's public-facing error shapes
// (spec §4.3 "Error taxonomy (public)"). Unlike corebus.Code these are
// serialized to clients as both a symbolic string and a fully-qualified
// service-model-type, matching an AWS event-stream RPC error payload.
type PublicCode int

const (
	ErrService PublicCode = iota
	ErrResourceNotFound
	ErrInvalidArguments
	ErrComponentNotFound
	ErrUnauthorized
	ErrConflict
	ErrFailedUpdateConditionCheck
	ErrInvalidToken
	ErrInvalidRecipeDirectoryPath
	ErrInvalidArtifactsDirectoryPath
)

type publicCodeInfo struct {
	symbol    string
	modelType string
}

var publicCodeTable = map[PublicCode]publicCodeInfo{
	ErrService:                       {"ServiceError", "aws.greengrass#ServiceError"},
	ErrResourceNotFound:              {"ResourceNotFoundError", "aws.greengrass#ResourceNotFoundError"},
	ErrInvalidArguments:              {"InvalidArgumentsError", "aws.greengrass#InvalidArgumentsError"},
	ErrComponentNotFound:             {"ComponentNotFoundError", "aws.greengrass#ComponentNotFoundError"},
	ErrUnauthorized:                  {"UnauthorizedError", "aws.greengrass#UnauthorizedError"},
	ErrConflict:                      {"ConflictError", "aws.greengrass#ConflictError"},
	ErrFailedUpdateConditionCheck:    {"FailedUpdateConditionCheckError", "aws.greengrass#FailedUpdateConditionCheckError"},
	ErrInvalidToken:                  {"InvalidTokenError", "aws.greengrass#InvalidTokenError"},
	ErrInvalidRecipeDirectoryPath:    {"InvalidRecipeDirectoryPathError", "aws.greengrass#InvalidRecipeDirectoryPathError"},
	ErrInvalidArtifactsDirectoryPath: {"InvalidArtifactsDirectoryPathError", "aws.greengrass#InvalidArtifactsDirectoryPathError"},
}

// Error is the public error type returned to a GG-IPC client on an
// APPLICATION_ERROR frame.
type Error struct {
	Code    PublicCode
	Message string
}

func (e *Error) Error() string { return e.Symbol() + ": " + e.Message }

// Symbol returns the short symbolic string for the error (e.g.
// "ResourceNotFoundError"), used as the event-stream `:exception-type`
// header by the caller.
func (e *Error) Symbol() string { return publicCodeTable[e.Code].symbol }

// ServiceModelType returns the fully-qualified service-model-type string
// carried in the APPLICATION_ERROR payload's "_type" field.
func (e *Error) ServiceModelType() string { return publicCodeTable[e.Code].modelType }

// NewError constructs a gateway Error.
func NewError(code PublicCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// translateCoreBusError maps an internal/corebus Code onto the gateway's
// public error taxonomy (SPEC_FULL.md §3.6: "table-mapped from
// internal/corebus Code values").
func translateCoreBusError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case corebus.IsCode(err, corebus.NoEntry):
		return NewError(ErrResourceNotFound, op+": no such resource")
	case corebus.IsCode(err, corebus.Invalid), corebus.IsCode(err, corebus.Parse):
		return NewError(ErrInvalidArguments, op+": "+err.Error())
	case corebus.IsCode(err, corebus.NoConn):
		return NewError(ErrService, op+": backing daemon unavailable")
	case corebus.IsCode(err, corebus.Remote):
		return NewError(ErrConflict, op+": "+err.Error())
	default:
		return NewError(ErrService, op+": "+err.Error())
	}
}
