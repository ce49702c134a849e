// Package heartbeat drives an agent's periodic liveness broadcast.
//
// # Overview
//
// Every node announces its self entry on a fixed interval. Peers refresh
// the sender's directory entry on receipt and flip it offline once it
// has been silent for longer than the agent timeout.
//
//	┌─────────────┐   <prefix>.heartbeat   ┌──────────────┐
//	│   Sender    │ ─────────────────────> │  peer nodes  │
//	│  (node A)   │   self entry snapshot  │ (directory)  │
//	└─────────────┘                        └──────────────┘
//
// The Sender only keeps time. What a beat does is supplied by the
// caller, which lets the coordinator route beats through its own event
// loop:
//
//	sender, _ := heartbeat.NewSender(heartbeat.Config{
//	    Interval: time.Second,
//	    Beat:     func(now time.Time) { publishSelf(now) },
//	})
//	sender.Start(ctx)
//	defer sender.Stop()
//
// # Recommendations
//
//   - Set the agent timeout to 3-5x the heartbeat interval
//   - Keep Beat short; it runs on the sender goroutine
package heartbeat
