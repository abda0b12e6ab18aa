// Package proactor is the execution core of a message pipeline.
//
// A Strategy owns a set of bounded worker pools and runs chains of
// processors against events. For every stage it picks the pool matching
// the processor's ProcessingType, submits the stage there without blocking
// the caller, and resumes the chain back on the event-loop pool when the
// stage finishes. Consecutive event-loop stages run inline on the same
// worker.
//
// Two variants exist:
//
//   - NewProactor: event-loop, blocking and cpu-intensive pools. Blocking
//     and cpu-intensive stages hop to their pool and hop back.
//   - NewDirect: no pools at all. Every stage runs on the goroutine that
//     calls Sink.Accept. This is the only variant usable while a
//     transaction is bound to the caller's context.
//
// # Ingress and backpressure
//
// Events enter through a Sink created for one Chain. Accept applies the
// transaction guard, admission control (WithMaxConcurrency) and the sink's
// Backpressure policy:
//
//	s, err := proactor.NewProactor(proactor.WithMaxConcurrency(256))
//	if err != nil {
//	    return err
//	}
//	if err := s.Start(); err != nil {
//	    return err
//	}
//	defer s.Dispose(context.Background())
//
//	chain, err := proactor.NewChain("orders",
//	    proactor.NewProcessor("parse", proactor.EventLoop, parse),
//	    proactor.NewProcessor("store", proactor.Blocking, store),
//	)
//	sink, err := s.CreateSink(chain, proactor.WithBackpressure(proactor.BackpressureFail))
//
//	ev := event.New(ctx, payload)
//	if err := sink.Accept(ev); err != nil {
//	    // errors.Is(err, proactor.ErrOverload)
//	}
//	outcome, err := ev.Completion().Wait(ctx)
//
// # Shutdown
//
// Stop disposes every sink, waits for in-flight events and registered
// internal streams, then stops pools event-loop first, blocking second and
// cpu-intensive last. Shutdown is bounded by WithShutdownTimeout and is
// best effort: overrunning the timeout is logged, never returned.
package proactor
