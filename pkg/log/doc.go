/*
Package log provides structured logging for blockvault using zerolog.

A single package-level zerolog.Logger is configured once via Init and
read from everywhere else in the module. Component loggers attach a
field identifying which part of the pipeline produced the line
(backup, restore, scrub, gc, storage:<name>, ...).

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	l := log.WithComponent("backup")
	l.Info().Str("volume", vol).Msg("backup started")
*/
package log
