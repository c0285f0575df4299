/*
Package events provides an in-memory event broker for orchestration pub/sub.

The broker broadcasts deployment lifecycle events (phase transitions, batch
barriers, rollback execution, token and secret activity, rate-limit waits) to
interested subscribers with non-blocking delivery. Publishers never block on
slow consumers; a subscriber whose buffer is full misses events rather than
stalling the pipeline.

# Event Flow

	Publisher → event channel (buffer 100)
	    ↓
	broadcast loop
	    ↓
	subscriber channels (buffer 50 each)

Subscribers: the status command streams events to the terminal; the reporter
collects them into the deployment timeline; the metrics package counts them.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Message)
		}
	}()

	broker.PublishPhase(events.EventPhaseCompleted,
		deploymentID, domain, "verify", "all probes passed")
*/
package events
