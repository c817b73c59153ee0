// Package resourcesaga creates resources in remote services and keeps a
// local audit trail of them, undoing the remote work when the audit trail
// cannot be written.
//
// Every resource kind follows the same three steps:
//
//  1. Create the resource remotely. A CreateFunc calls the owning service
//     and returns one Handle per resource it created. Bulk uploads return
//     several.
//  2. Apply the side-effect plan. A Plan is an ordered list of Steps
//     (mentor action log, course group event, ...) applied to each Handle
//     in turn. Steps may depend on each other; NewPlan orders them and
//     rejects cycles.
//  3. Compensate on failure. If any step fails, the DeleteFunc is called
//     for every Handle, including those already logged.
//
// Use Run with a ResourceAction for typed calls, or a Registry to dispatch by
// Kind. Failures are reported as *RemoteCreateError, *AuditLoggingError or
// *CompensationError, the last one meaning remote resources were left behind
// and need an operator. A Journal keeps every run so such leftovers can be
// found later with FindStale and deleted with Reconcile.
//
// Orders use OrderSaga instead, which rolls an order back by its external id.
package resourcesaga
