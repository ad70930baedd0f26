package photoflow

import "context"

// Handler processes one job type. It receives the job row with the payload
// exactly as it was written at enqueue time, performs its unit of work, and
// reports the outcome through its return value. Handlers never touch the
// job's status or lock fields; that is the runner's responsibility.
//
// A job may be retried after a partial failure, so a handler must be safe to
// re-run: derived artifacts are overwritten deterministically, never
// appended or duplicated.
type Handler func(ctx context.Context, job *Job) error

// RegisterHandler associates a JobType with a Handler. Registering the same
// type twice overwrites the previous handler, so registration is safe to
// repeat during startup.
func (f *Flow) RegisterHandler(t JobType, handler Handler) {
	f.handlerMu.Lock()
	f.handlers[t] = handler
	f.handlerMu.Unlock()
}

// getHandler returns the Handler for the given job type, or an
// UnknownJobTypeError if none is registered.
func (f *Flow) getHandler(t JobType) (Handler, error) {
	f.handlerMu.RLock()
	handler, ok := f.handlers[t]
	f.handlerMu.RUnlock()
	if !ok {
		return nil, &UnknownJobTypeError{Type: t}
	}
	return handler, nil
}
