// Package shutdown runs a swarm node's teardown in ordered phases.
//
// A node stops taking work first and lets running task handlers finish,
// then stops its coordinator loop before closing the bus connection,
// state stores and telemetry exporters:
//
//	seq := shutdown.NewSequence(shutdown.DefaultConfig(), logger)
//	seq.Register("drain", shutdown.PhaseIntake, coord.Drain)
//	seq.Register("coordinator", shutdown.PhaseNode, coord.Stop)
//	seq.Register("bus", shutdown.PhaseTransport, func(context.Context) error { return b.Close() })
//	seq.Register("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
//
//	err := seq.WaitForSignal(ctx, 30*time.Second)
//
// Handlers within a phase run concurrently. Each phase is bounded by
// Config.PhaseTimeout; a handler still running at the deadline is
// recorded with ErrPhaseTimeout and the sequence moves on.
package shutdown
