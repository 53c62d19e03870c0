package services

import "fmt"

// ValidationError indicates an order payload violated a creation constraint
// (quantity below MOQ, sizes not summing to quantity, missing identity, ...)
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// InvalidTransitionError indicates a requested status change is not an edge
// of the order lifecycle graph
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %q to %q", e.From, e.To)
}

// ConflictError indicates an optimistic precondition failed: the order or
// payment was modified concurrently and is no longer in the expected state
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ReconciliationError indicates a payment event could not be correlated to a
// local order/phase; nothing was mutated
type ReconciliationError struct {
	Message string
}

func (e *ReconciliationError) Error() string {
	return e.Message
}

// ProviderError wraps a failed call to the payment provider
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NotFoundError indicates the requested resource does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}
