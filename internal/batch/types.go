package batch

// Task is one unit of work read from the ingress connection.
type Task struct {
	Payload string // Opaque input to the compute function
	Index   uint64 // Caller supplied, unique within a batch
}

// Result is the computed value for the task with the same Index.
type Result struct {
	Index uint64 `json:"index"`
	Value uint32 `json:"value"`
}
