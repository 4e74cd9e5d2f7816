// Package scheduler runs the live trigger loop. It advances a low-water
// mark and hands every elapsed window to the dispatcher, so a tick that
// arrives late still fires every action that became due in the meantime.
package scheduler
