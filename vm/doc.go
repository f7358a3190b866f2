// Package vm implements the script virtual machine of a SCUMM-style
// adventure game engine.
//
// This package contains:
//   - Global, bit, local and array variable storage
//   - Operand fetch with variable-or-immediate addressing and a value stack
//   - A fixed pool of cooperative script slots and the per-tick scheduler
//   - Nested-call and cutscene/override bookkeeping
//   - Two incompatible instruction-set generations behind OpcodeTable
//   - Snapshots of the complete machine state for save files
//
// Everything outside the interpreter (code storage, actors, sound, camera,
// dialog) is reached through the ResourceProvider and Host interfaces.
package vm
