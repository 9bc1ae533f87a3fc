// Package engine reconciles a running VPP dataplane and FRR routing daemon
// with a declarative router configuration.
//
// # Overview
//
// An apply cycle takes the applied snapshot and a staged one and moves
// through these states:
//
//  1. Diffing - Diff flattens both snapshots into keyed entities and emits
//     one Operation per added, removed or modified entity
//  2. Planning - Planner derives ordering constraints and linearises them
//     with a DAGBuilder
//  3. Classifying - Classify splits operations into live and
//     restart-required ones
//  4. Executing - the Orchestrator hands live operations to an Executor one
//     at a time
//  5. Succeeded or PartiallyFailed - on full success the staged snapshot is
//     persisted through a SnapshotStore
//
// A dry run returns to Idle after Classifying. Errors before execution end
// the cycle Failed.
//
// # Operations
//
// An Operation names an entity by EntityType and key and carries an Action:
//
//   - Add: the entity exists only in the new snapshot
//   - Remove: the entity exists only in the old snapshot
//   - Modify: the entity changed; Fields lists the changed JSON fields
//
// Keys are stable across snapshots: interface names, "<parent>.<vlan>" for
// sub-interfaces, "loop<n>" for loopbacks, "bvi<n>" for bridge domains,
// route destinations, peer addresses and module names.
//
// # Ordering
//
// Containers are created before what references them and removed after it.
// Protocol instances are enabled before their peers and areas and disabled
// after them. Module changes precede CPU and memif reallocation. Ties are
// broken by entity rank, then key, then action, so a plan is deterministic.
//
// # Failure handling
//
// Execution is fail-fast and there is no rollback. A failure at live step k
// leaves k outcomes in the CycleResult and the staged snapshot unpersisted;
// steps 1..k-1 remain applied and the operator remediates from the report.
//
// # Error Classification
//
// Errors are EngineErrors classified as validation, dependency, execution,
// timeout, resource_exhaustion or internal. Timeouts are also execution
// errors, see IsExecution.
package engine
