package stream

import (
	"fmt"
	"net/http"
	"time"

	"marketpulse/internal/adapters/sources"
	"marketpulse/pkg/logger"
)

// RetryDirective tells EventSource clients to reconnect after 3s
const RetryDirective = "retry: 3000\n\n"

// Handler serves the broadcaster as a text/event-stream.
// Symbols are selected with ?symbol=A|B|C.
type Handler struct {
	b              *Broadcaster
	defaultSymbols string
	log            *logger.Logger
}

func NewHandler(b *Broadcaster, defaultSymbols string, log *logger.Logger) *Handler {
	return &Handler{
		b:              b,
		defaultSymbols: defaultSymbols,
		log:            log.With("component", "sse_handler"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	raw := r.URL.Query().Get("symbol")
	if raw == "" {
		raw = h.defaultSymbols
	}
	symbols := sources.ParseSymbolList(raw)
	if len(symbols) == 0 {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// the stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := h.b.Subscribe(symbols)
	defer sub.Close()

	if _, err := fmt.Fprint(w, RetryDirective); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case msg := <-sub.Messages():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				h.log.Debugw("Subscriber write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
