package logger

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Setup(debug bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if debug {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// Requests returns a gin middleware that scopes the logger into the request
// context and logs one line per request.
func Requests(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		path := c.Request.URL.Path

		ctx := logger.With().
			Str("method", c.Request.Method).
			Str("path", path).
			Logger().WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		event := zerolog.Ctx(ctx).Info()
		if c.Writer.Status() >= 500 {
			event = zerolog.Ctx(ctx).Error()
		}
		event.
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(started)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
