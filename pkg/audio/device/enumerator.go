package device

import (
	"context"
	"log/slog"
	"sync"
)

// SDKSource exposes the telephony SDK's view of the audio hardware. The SDK
// only learns about devices once it is registered, so an empty result is
// normal early in the session lifecycle.
type SDKSource interface {
	// InputDevices returns the SDK's capture device map, or nil/empty when
	// the SDK has not populated it yet.
	InputDevices() []Descriptor

	// OutputDevices returns the SDK's playback device map.
	OutputDevices() []Descriptor
}

// Enumerator lists audio devices for the UI's device pickers.
//
// Listing is best-effort: enumeration failures are logged and surfaced as an
// empty list, never as an error. The SDK's device maps are preferred; when
// they are empty the host's native enumeration (filtered by kind) is used as
// fallback. Every listing builds a fresh slice — callers can rely on
// referential replacement and never see in-place mutation.
type Enumerator struct {
	host Host
	sdk  SDKSource

	mu       sync.Mutex
	primed   bool
	handlers []func()
}

// NewEnumerator creates an [Enumerator] over the given host backend and
// telephony SDK source. sdk may be nil, in which case only the host is
// consulted.
func NewEnumerator(host Host, sdk SDKSource) *Enumerator {
	e := &Enumerator{host: host, sdk: sdk}
	host.OnDeviceChange(e.fanOutChange)
	return e
}

// ListInputDevices returns the currently available capture devices.
func (e *Enumerator) ListInputDevices(ctx context.Context) []Descriptor {
	return e.list(ctx, KindInput)
}

// ListOutputDevices returns the currently available playback devices.
func (e *Enumerator) ListOutputDevices(ctx context.Context) []Descriptor {
	return e.list(ctx, KindOutput)
}

// OnDeviceChange registers a handler invoked whenever the hardware set
// changes. Handlers run on an internal goroutine and must not block.
func (e *Enumerator) OnDeviceChange(handler func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

func (e *Enumerator) list(ctx context.Context, kind Kind) []Descriptor {
	// Hosts withhold device labels until capture permission is granted, so
	// prime permission before the first enumeration. Failure degrades to
	// unlabelled (or empty) listings rather than an error.
	e.primePermission(ctx)

	if devices := e.fromSDK(kind); len(devices) > 0 {
		return devices
	}

	native, err := e.host.Enumerate(ctx, kind)
	if err != nil {
		slog.Warn("device enumeration failed", "kind", kind, "error", err)
		return []Descriptor{}
	}

	out := make([]Descriptor, 0, len(native))
	for _, d := range native {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// primePermission opens and immediately closes a throwaway capture stream
// once. On failure it stays unprimed so a later listing retries.
func (e *Enumerator) primePermission(ctx context.Context) {
	e.mu.Lock()
	primed := e.primed
	e.mu.Unlock()
	if primed {
		return
	}

	if err := e.host.RequestPermission(ctx); err != nil {
		slog.Warn("capture permission request failed; device labels may be empty", "error", err)
		return
	}

	e.mu.Lock()
	e.primed = true
	e.mu.Unlock()
}

// fromSDK copies the SDK device map of the given kind into a fresh slice.
func (e *Enumerator) fromSDK(kind Kind) []Descriptor {
	if e.sdk == nil {
		return nil
	}
	var src []Descriptor
	switch kind {
	case KindInput:
		src = e.sdk.InputDevices()
	case KindOutput:
		src = e.sdk.OutputDevices()
	}
	if len(src) == 0 {
		return nil
	}
	out := make([]Descriptor, len(src))
	copy(out, src)
	for i := range out {
		out[i].Kind = kind
	}
	return out
}

func (e *Enumerator) fanOutChange() {
	e.mu.Lock()
	handlers := make([]func(), len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		go h()
	}
}
