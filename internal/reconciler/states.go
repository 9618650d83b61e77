package reconciler

// State is the interface that all reconciler states must implement
type State interface {
	Name() string
}

// RunningState - polling the log and dispatching workers
type RunningState struct{}

func (s *RunningState) Name() string { return "running" }
func (s *RunningState) ToComplete() *CompleteState {
	return &CompleteState{}
}
func (s *RunningState) ToTimeout() *TimeoutState {
	return &TimeoutState{}
}

// Terminal States

// CompleteState - every expected source completed and was processed
type CompleteState struct{}

func (s *CompleteState) Name() string { return "done_complete" }

// TimeoutState - the run exceeded its maximum run time
type TimeoutState struct{}

func (s *TimeoutState) Name() string { return "done_timeout" }

// Helper to track state transitions for testing
type StateRecorder struct {
	path []string
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{path: make([]string, 0)}
}

func (r *StateRecorder) Record(state State) {
	r.path = append(r.path, state.Name())
}

func (r *StateRecorder) Path() []string {
	return r.path
}
