package main

import (
	"io"
	"net"
	"os"

	"github.com/9seconds/geocompare/geolib"
	"github.com/rs/zerolog"
)

type logger struct {
	lookupLog zerolog.Logger
	importLog zerolog.Logger
	httpLog   zerolog.Logger
}

func (l *logger) LookupError(ip net.IP, name string, err error) {
	l.lookupLog.Error().Str("backend", name).Stringer("ip", ip).Err(err).Msg("")
}

func (l *logger) ImportInfo(summary geolib.ImportSummary, msg string) {
	event := l.importLog.Info().
		Str("run_id", summary.RunID).
		Uint64("processed", summary.Processed).
		Uint64("unique_seen", summary.UniqueSeen).
		Uint64("imported", summary.Imported).
		Uint64("updated", summary.Updated).
		Uint64("no_data", summary.NoData).
		Uint64("errors", summary.Errors)

	if !summary.FinishedAt.IsZero() {
		event = event.Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt))
	}

	event.Msg(msg)
}

func (l *logger) ImportError(ip net.IP, err error) {
	l.importLog.Warn().Stringer("ip", ip).Err(err).Msg("")
}

func (l *logger) HTTPInfo(msg string) {
	l.httpLog.Info().Msg(msg)
}

func (l *logger) HTTPError(err error, msg string) {
	l.httpLog.Error().Err(err).Msg(msg)
}

func newLogger(verbose bool) *logger {
	return newLoggerWithWriter(os.Stderr, verbose)
}

func newLoggerWithWriter(w io.Writer, verbose bool) *logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return &logger{
		lookupLog: zerolog.New(w).Level(level).With().Timestamp().Str("event_name", "lookup").Logger(),
		importLog: zerolog.New(w).Level(level).With().Timestamp().Str("event_name", "import").Logger(),
		httpLog:   zerolog.New(w).Level(level).With().Timestamp().Str("event_name", "http").Logger(),
	}
}
