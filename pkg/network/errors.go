package network

import "errors"

var (
	// Bridge errors
	ErrBridgeNotFound     = errors.New("bridge device not found")
	ErrBridgeCreateFailed = errors.New("failed to create bridge device")

	// Link pair errors
	ErrLinkCreateFailed = errors.New("failed to create link pair")
	ErrLinkNotFound     = errors.New("link device not found")
	ErrLinkNameExists   = errors.New("link device name already exists")

	// Namespace errors
	ErrNamespaceCreateFailed = errors.New("failed to create network namespace")
	ErrNamespaceNotFound     = errors.New("network namespace not found")

	// Host state errors
	ErrForwardingDisabled = errors.New("IP forwarding is disabled")
	ErrNoDefaultRoute     = errors.New("no default route on host")
)
