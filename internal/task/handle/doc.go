// Package handle implements the lifecycle tracker for one scheduled unit of work.
//
// A Handle is raced by three parties:
//   - the worker that runs it (Run)
//   - the scheduler that obtained a cancellable platform handle (SetFuture)
//   - anyone disposing it (Dispose), including its owning collection
//
// Two side effects are guarded, each by its own atomic slot:
//   - removing the handle from its owner (parent slot)
//   - cancelling the platform handle (future slot)
//
// Each side effect happens at most once regardless of interleaving. The
// handle holds no locks; every transition is a compare-and-swap against the
// value previously loaded, and DONE / DISPOSED are absorbing.
package handle
