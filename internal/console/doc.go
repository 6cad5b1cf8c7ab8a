// Package console is the line-oriented front end of the controller.
//
// It understands the chat command set:
//
//	!devices              list devices
//	!add_device <kind>    add a sensor, switch or watch
//	!del_device <id>      remove a device
//	!sensor               read every sensor
//	!watch                read every clock
//	!switch <id>          toggle a switch
//	!query <kind> <id>    send the default request to one device
//	!status               last value seen from each device
//	!help                 command summary
//
// Lines that do not start with "!" are ignored, so the console can sit on
// a shared chat stream. Each command blocks until its replies arrive or
// time out.
package console
