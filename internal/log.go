package internal

import (
	"fmt"
	"log/slog"
	"os"
)

func InitSlog(level string) {
	var programLevel slog.Level
	if err := (&programLevel).UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", level, err)
		programLevel = slog.LevelInfo
	}

	leveler := &slog.LevelVar{}
	leveler.Set(programLevel)

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     leveler,
	})
	slog.SetDefault(slog.New(h))
}

// GetChallengeLogger returns a logger annotated with a challenge's ID and a
// fingerprint of its value. The value itself is a bearer secret until it is
// consumed, so it never goes into logs.
func GetChallengeLogger(lg *slog.Logger, id, value string) *slog.Logger {
	if lg == nil {
		lg = slog.Default()
	}

	if id != "" {
		lg = lg.With("challenge_id", id)
	}

	return lg.With("fingerprint", FastHash(value))
}
