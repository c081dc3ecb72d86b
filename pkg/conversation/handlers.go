package conversation

import "sync"

// handlers holds the callbacks shared by every provider.
type handlers struct {
	hmu            sync.RWMutex
	onAudio        func(pcm []byte)
	onToolCall     func(call ToolCall)
	onInterruption func()
	onTranscript   func(text string, final bool)
	onTurnComplete func()
	onError        func(err error)
	onClose        func()
}

// OnAudio implements Provider.
func (h *handlers) OnAudio(fn func(pcm []byte)) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.onAudio = fn
}

// OnToolCall implements Provider.
func (h *handlers) OnToolCall(fn func(call ToolCall)) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.onToolCall = fn
}

// OnInterruption implements Provider.
func (h *handlers) OnInterruption(fn func()) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.onInterruption = fn
}

// OnTranscript implements Provider.
func (h *handlers) OnTranscript(fn func(text string, final bool)) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.onTranscript = fn
}

// OnTurnComplete implements Provider.
func (h *handlers) OnTurnComplete(fn func()) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.onTurnComplete = fn
}

// OnError implements Provider.
func (h *handlers) OnError(fn func(err error)) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.onError = fn
}

// OnClose implements Provider.
func (h *handlers) OnClose(fn func()) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.onClose = fn
}

// Emit helpers

func (h *handlers) emitAudio(pcm []byte) {
	h.hmu.RLock()
	fn := h.onAudio
	h.hmu.RUnlock()
	if fn != nil {
		fn(pcm)
	}
}

func (h *handlers) emitToolCall(call ToolCall) {
	h.hmu.RLock()
	fn := h.onToolCall
	h.hmu.RUnlock()
	if fn != nil {
		fn(call)
	}
}

func (h *handlers) emitInterruption() {
	h.hmu.RLock()
	fn := h.onInterruption
	h.hmu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (h *handlers) emitTranscript(text string, final bool) {
	h.hmu.RLock()
	fn := h.onTranscript
	h.hmu.RUnlock()
	if fn != nil {
		fn(text, final)
	}
}

func (h *handlers) emitTurnComplete() {
	h.hmu.RLock()
	fn := h.onTurnComplete
	h.hmu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (h *handlers) emitError(err error) {
	h.hmu.RLock()
	fn := h.onError
	h.hmu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (h *handlers) emitClose() {
	h.hmu.RLock()
	fn := h.onClose
	h.hmu.RUnlock()
	if fn != nil {
		fn()
	}
}
