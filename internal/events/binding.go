package events

// BindingAbort is emitted when an in-flight request is aborted explicitly.
type BindingAbort struct {
	OperationName string
}

// BindingDispose is emitted when a binding is torn down.
type BindingDispose struct {
	OperationName string
	InFlight      bool
}
