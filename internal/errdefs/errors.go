// Package errdefs defines the error kinds shared by all topology managers.
// Callers classify failures with errors.Is against these sentinels; the
// managers wrap them with fmt.Errorf("%w: ...") to attach context.
package errdefs

import "errors"

var (
	// ErrInvalidArgument indicates a malformed name, CIDR, subnet type or rule.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists indicates a duplicate VPC, subnet or peering.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound indicates a missing VPC, subnet, peering or rule target.
	ErrNotFound = errors.New("not found")

	// ErrNameCollision indicates a derived identifier exceeds the interface
	// name length bound or collides with an identifier owned by another
	// resource.
	ErrNameCollision = errors.New("derived name collision")

	// ErrInsufficientState indicates an operation's preconditions are not met,
	// e.g. NAT enable on a VPC without public subnets.
	ErrInsufficientState = errors.New("insufficient state")

	// ErrExternalSystem indicates the kernel networking or firewall control
	// surface rejected an operation for reasons outside this system's
	// knowledge.
	ErrExternalSystem = errors.New("external system failure")

	// ErrResourceStale indicates a persisted record refers to a kernel object
	// that no longer exists.
	ErrResourceStale = errors.New("resource stale")
)
