package domain

import (
	"errors"

	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
)

var (
	ErrInvalidContext     = errors.New("invalid_computation_context")
	ErrInvalidAPIResponse = errors.New("invalid_api_response")

	ErrDuplicateLineNumber   = errors.New("duplicate_line_number")
	ErrMissingLineNumber     = errors.New("missing_line_number")
	ErrMissingLineItem       = errors.New("missing_line_item")
	ErrMissingRequestLine    = errors.New("missing_request_line")
	ErrUnmatchedResponseLine = errors.New("unmatched_response_line")

	ErrOrderNotFound    = orderdomain.ErrOrderNotFound
	ErrLineItemNotFound = orderdomain.ErrLineItemNotFound
)
