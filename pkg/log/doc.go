/*
Package log provides structured logging for Quarry built on zerolog.

A single global logger is initialized once at startup via Init; components
derive child loggers with WithComponent, WithRepo, WithAlias or WithJobID so
every line carries the fields needed to follow one repository's lifecycle
through the scheduler, cleanup manager and search orchestrator.
*/
package log
