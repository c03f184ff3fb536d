package raydb

import (
	"github.com/raydb/raydb/pkg/checkpoint"
	"github.com/raydb/raydb/pkg/storage"
)

// maybeCheckpoint runs a checkpoint if cfg.AutoCheckpoint is set and the
// WAL has filled past cfg.CheckpointThreshold (spec.md §6). Called after
// every successful commit; errors are logged rather than propagated to the
// committing caller, since the commit itself already durably succeeded.
func (e *Engine) maybeCheckpoint() {
	if !e.cfg.AutoCheckpoint {
		return
	}
	threshold := uint64(float64(e.cfg.WALSize) * e.cfg.CheckpointThreshold)
	if e.walBytesSinceCheckpoint < threshold {
		return
	}
	if _, err := e.runCheckpoint(checkpoint.TriggerWALFull); err != nil {
		e.log.Printf("raydb: auto-checkpoint failed: %v", err)
	}
}

// Optimize forces an immediate checkpoint regardless of WAL fill ratio
// (spec.md §6 "optimize(db) -> Promise<void>").
func (e *Engine) Optimize() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if !e.isNative() {
		return nil // the badger backend has no separate snapshot/delta to compact
	}
	_, err := e.runCheckpoint(checkpoint.TriggerManual)
	return err
}

// runCheckpoint merges the active snapshot and delta into a new generation,
// flips the container's active pointer to it, truncates the now-redundant
// WAL, and installs a fresh empty delta overlay for the next generation.
func (e *Engine) runCheckpoint(trigger checkpoint.Trigger) (checkpoint.Result, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.cont.BeginCheckpoint(); err != nil {
		return checkpoint.Result{}, err
	}
	result, newDict, err := e.compactor.Run(e.cont, e.dict, e.delta, e.generation+1, trigger)
	if err != nil {
		return checkpoint.Result{}, err
	}
	if err := e.cont.CompleteCheckpoint(); err != nil {
		return checkpoint.Result{}, err
	}

	generation, snapBytes, err := e.cont.ActiveGeneration()
	if err != nil {
		return checkpoint.Result{}, err
	}
	newSnap, err := storage.OpenSnapshotBytes(snapBytes)
	if err != nil {
		return checkpoint.Result{}, err
	}

	oldSnap := e.snap
	e.snap = newSnap
	e.generation = generation
	e.dict = newDict
	e.delta = storage.NewDelta()
	e.walBytesSinceCheckpoint = 0
	oldSnap.Close()

	// Checkpoint-triggered GC prunes purely by active-transaction
	// visibility; the wall-clock retention floor is the background GC
	// loop's job (gc.go), which has the commitTs/time bookkeeping this
	// call site doesn't.
	e.mvccMgr.RunGC(0)
	return result, nil
}
