// Package triggers runs the event sources that feed the routing engine.
//
// Trigger types:
//   - polling: follows the archive's change log and reports stable studies
//   - broker: consumes stable-study messages from a RabbitMQ queue
//   - schedule: runs the study purge on a cron schedule
//
// Every trigger embeds BaseTrigger, which owns the running state and the
// goroutine lifecycle. Start returns once the run function is launched; Stop
// cancels it and waits for it to return.
//
//	manager := triggers.NewManager(logger)
//	manager.Add(polling.NewTrigger(cfg, archive, handler, logger))
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//	defer manager.Stop()
package triggers
