// Package engine executes tasks. It stages inputs into a per-task working
// directory, runs the application sandbox, publishes outputs and reports a
// single outcome, recording each state transition of the run as it goes.
package engine
