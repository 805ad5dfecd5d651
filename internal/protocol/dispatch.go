package protocol

import (
	"sync"

	"go.uber.org/zap"

	"flashstream/internal/model"
	"flashstream/internal/stream"
)

// Handler decodes one protocol's events out of a flashblock and pushes
// them to the sink. Process must be safe to call concurrently with the
// other handlers' Process calls on the same flashblock.
type Handler interface {
	Name() string
	Process(fb *model.Flashblock, blockNumber uint64, sink stream.Sink)
}

// Dispatcher fans one flashblock out to all protocol handlers in
// parallel and waits for every handler to finish before returning.
// Sequential Dispatch calls therefore never interleave two
// flashblocks.
type Dispatcher struct {
	handlers []Handler
	sink     stream.Sink
	logger   *zap.Logger
}

// NewDispatcher wires a fixed handler set to a sink. The handler set
// does not change after construction.
func NewDispatcher(handlers []Handler, sink stream.Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: handlers,
		sink:     sink,
		logger:   logger,
	}
}

// DefaultHandlers returns the full protocol handler set.
func DefaultHandlers(logger *zap.Logger) []Handler {
	return []Handler{
		NewUniV3Handler(logger),
		NewAaveHandler(logger),
		NewMorphoHandler(logger),
		NewChainlinkHandler(logger),
	}
}

// Dispatch runs every handler against the flashblock concurrently and
// joins them. A panicking handler is logged and skipped; it never
// takes down the process or the other handlers.
func (d *Dispatcher) Dispatch(fb *model.Flashblock, blockNumber uint64) {
	var wg sync.WaitGroup
	for _, handler := range d.handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("protocol handler panicked",
						zap.String("handler", h.Name()),
						zap.Uint64("block_number", blockNumber),
						zap.Any("panic", r),
					)
				}
			}()
			h.Process(fb, blockNumber, d.sink)
		}(handler)
	}
	wg.Wait()
}

// HandlerCount returns the number of wired handlers.
func (d *Dispatcher) HandlerCount() int {
	return len(d.handlers)
}
