// Package coordinator runs one member of a swarm.
//
// A Coordinator keeps an agent directory fed by heartbeats, allocates
// the tasks it creates to the best eligible agent, runs tasks other
// members dispatch to it, tallies majority votes on proposals and takes
// part in bully leader election. Members talk only through a
// bus.MessageBus; there is no central authority.
//
// # Ownership
//
// The node that creates a task owns it. Only the owner assigns it,
// retries it, cancels it or applies results for it. Other members keep
// read-only snapshots from the task events they see.
//
// # Execution model
//
// All coordination state belongs to one goroutine. Bus messages,
// heartbeat and maintenance ticks, timer callbacks and API calls are
// queued to that goroutine and handled one at a time. Task and proposal
// handlers run on their own goroutines and post their results back.
// Tasks waiting for allocation sit in a work queue drained after every
// step, so a completion that frees an agent never recurses into
// allocation.
//
// # Usage
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//
//	cfg := coordinator.DefaultConfig("bot1")
//	cfg.Capabilities = []string{"scan"}
//
//	c, err := coordinator.New(cfg, b,
//	    coordinator.WithTaskHandler(func(ctx context.Context, t tasks.Task) (codec.Payload, error) {
//	        return codec.NewPayload("scan-result", scan(ctx, t))
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop(context.Background())
//
//	task, err := c.CreateTask(ctx, tasks.Spec{
//	    Type:         "scan",
//	    Requirements: tasks.Requirements{Capabilities: []string{"scan"}},
//	})
package coordinator
