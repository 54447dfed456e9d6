package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrQueueFull        = errors.New("publish queue full")
	ErrDropped          = errors.New("dropped due to overflow")
	ErrTransportDown    = errors.New("transport unavailable")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrContextDone      = errors.New("context cancelled")
)
