package parallel

import "context"

// Result is the outcome of one task, handed to ParallelCollect in task order.
type Result struct {
	Routine int
	Task    int
	Value   interface{}
	err     error
}

// Interface is implemented by work that can be split into indexed tasks. Tasks
// run concurrently in ParallelDo; results are collected strictly in task order.
type Interface interface {
	ParallelDo(ctx context.Context, routine, task int) (interface{}, error)
	ParallelCollect(result *Result) error
}
