// Package engine executes workflows of governed worker tasks.
//
// A workflow is a set of tasks whose DependsOn edges form a DAG. The executor
// rejects cyclic task sets before invoking any worker, then runs the graph in
// dependency waves: every task whose predecessors have settled runs
// concurrently with its wave peers. A task whose predecessor did not succeed
// is skipped, and skips cascade transitively. Each task runs inside the
// governance gate, so denied or rejected tasks settle as failures without
// aborting the rest of the batch.
package engine
