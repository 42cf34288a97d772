// Package sched orchestrates the trigger engine, job registry, executors,
// state store, and notification dispatcher behind one facade.
//
// A Scheduler is constructed per process with its collaborators injected;
// there are no global registries. Start launches the trigger loop and the
// background maintenance loops (execution monitor, old-execution cleanup,
// dependency sweep), each independent so a stalled loop never blocks
// scheduling.
package sched
