package logs

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger: общий логгер процесса. До Init пишет в stderr с уровнем info.
var Logger = logrus.New()

type Options struct {
	Level  string // trace|debug|info|warn|error
	Format string // text|json
	File   string // пусто: только stderr
}

// Init настраивает Logger. Ошибки открытия файла не фатальны:
// логируем в stderr и предупреждаем.
func Init(o Options) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(o.Level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)

	switch strings.ToLower(o.Format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	if o.File != "" {
		f, ferr := os.OpenFile(o.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if ferr != nil {
			Logger.SetOutput(out)
			Logger.Warnf("log file %s: %v; logging to stderr", o.File, ferr)
			return
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	Logger.SetOutput(out)

	if err != nil && o.Level != "" {
		Logger.Warnf("unknown log level %q, using info", o.Level)
	}
}
