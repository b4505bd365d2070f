package streaming

// Multiplexer folds the frame streams of one or more generation passes into
// a single outward stream with exactly one start and exactly one finish
// frame. Per-pass start/finish framing is suppressed so that a chained
// second pass does not emit a premature "done" signal; the true finish is
// always emitted by Finish, even on error paths, so the client never hangs.
type Multiplexer struct {
	sink       Sink
	startSent  bool
	finishSent bool
}

// NewMultiplexer creates a multiplexer writing to sink.
func NewMultiplexer(sink Sink) *Multiplexer {
	return &Multiplexer{sink: sink}
}

// Start emits the single start frame. Safe to call more than once.
func (m *Multiplexer) Start() error {
	if m.startSent {
		return nil
	}
	m.startSent = true
	return m.sink.Write(Frame{Type: FrameStart})
}

// Write forwards one frame, lazily emitting the start frame first and
// filtering any pass-level start/finish framing. A pass producing zero
// frames therefore cannot break the start/finish invariant.
func (m *Multiplexer) Write(frame Frame) error {
	switch frame.Type {
	case FrameStart, FrameFinish:
		return nil
	}
	if err := m.Start(); err != nil {
		return err
	}
	return m.sink.Write(frame)
}

// Error emits a single error frame carrying a short user-facing message.
func (m *Multiplexer) Error(message string) error {
	return m.Write(ErrorFrame(message))
}

// Finish emits the terminal finish frame exactly once, emitting the start
// frame first if no frame was written at all.
func (m *Multiplexer) Finish() error {
	if m.finishSent {
		return nil
	}
	if err := m.Start(); err != nil {
		return err
	}
	m.finishSent = true
	return m.sink.Write(Frame{Type: FrameFinish})
}
