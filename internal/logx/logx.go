// Package logx provides structured logging for the engine using zerolog,
// adapted from the teacher's pkg/log: a global logger, JSON or console
// output, and component-scoped child loggers — here scoped to knowledge
// graphs, relations, clauses, and shards instead of nodes/services/tasks.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger defaults to a plain stderr writer so packages that log before
// Init is called (or in tests that never call it) don't hit a nil
// writer; main() overwrites it via Init with the configured level and
// format.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent scopes a logger to a named subsystem (e.g. "dataflow",
// "persist", "catalog").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithKnowledgeGraph scopes a logger to one knowledge graph.
func WithKnowledgeGraph(kg string) zerolog.Logger {
	return Logger.With().Str("kg", kg).Logger()
}

// WithRelation scopes a logger to one relation within a knowledge graph.
func WithRelation(kg, relation string) zerolog.Logger {
	return Logger.With().Str("kg", kg).Str("relation", relation).Logger()
}

// WithClauseID scopes a logger to one registered clause.
func WithClauseID(kg, clauseID string) zerolog.Logger {
	return Logger.With().Str("kg", kg).Str("clause_id", clauseID).Logger()
}

// WithShard scopes a logger to one relation's persistence shard.
func WithShard(kg, relation string) zerolog.Logger {
	return Logger.With().Str("kg", kg).Str("relation", relation).Str("unit", "shard").Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}
