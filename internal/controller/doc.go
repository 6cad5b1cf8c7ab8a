// Package controller is the command orchestrator of homebus.
//
// It turns commands into topic-addressed requests and waits for the device
// to answer on the same topic. The flow for one request is:
//
//	received -> validated -> dispatched -> awaiting_reply -> completed
//	                                                      -> timed_out
//	                                                      -> failed
//
// The Controller owns no transport. It is given a Bus (the MQTT client in
// production), the device Registry and a Correlator, and it is the message
// handler for every device topic: replies go to the Correlator, other
// payloads are recorded as readings, and sensor readings above the
// threshold make every switch receive the trigger action.
//
// Usage:
//
//	ctrl := controller.New(registry, bus, correlator.New(), controller.OptionsFromConfig(cfg), log)
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	res, err := ctrl.QueryDevice(ctx, device.KindSwitch, "2")
package controller
