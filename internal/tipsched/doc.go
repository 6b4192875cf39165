// Package tipsched posts one random tip per day into a configured chat.
//
// A Cell owns at most one running loop. Start, Stop and Reconfigure take the
// cell's write lock; Status and IsRunning only read. The loop wakes every poll
// interval and fires when the local hour and minute equal the saved schedule.
// It never stops on its own: fetch and delivery failures are reported to the
// chat and the loop keeps going until it is cancelled.
//
// Known limitation: there is no "already fired" memory, so two wake-ups inside
// the same target minute (suspend/resume, clock step) fire twice.
package tipsched
