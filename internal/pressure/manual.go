package pressure

// ManualSource carries levels injected through the control API. It doubles
// as the source of choice in tests and on systems without PSI support.
type ManualSource struct {
	levels chan Level
}

// NewManualSource creates an injectable pressure source
func NewManualSource() *ManualSource {
	return &ManualSource{levels: make(chan Level, 4)}
}

// Levels returns the subscription channel
func (s *ManualSource) Levels() <-chan Level {
	return s.levels
}

// Inject delivers a level to the subscriber. Delivery is non-blocking; a
// full channel drops the oldest pending level first.
func (s *ManualSource) Inject(level Level) {
	for {
		select {
		case s.levels <- level:
			return
		default:
			select {
			case <-s.levels:
			default:
			}
		}
	}
}
