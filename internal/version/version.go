// Package version хранит сведения о сборке сервиса заказов и утилит.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Заполняются через -ldflags "-X .../internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает конкретную сборку бинарника.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

var (
	buildOnce sync.Once
	vcs       struct{ revision, time string }
	goVersion = "unknown"
)

// readVCS подставляет ревизию из метаданных go build, если ldflags не заданы.
func readVCS() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	goVersion = info.GoVersion
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			vcs.revision = s.Value
		case "vcs.time":
			vcs.time = s.Value
		}
	}
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	buildOnce.Do(readVCS)
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: goVersion}
	if b.Commit == "unknown" && vcs.revision != "" {
		b.Commit = shortRevision(vcs.revision)
	}
	if b.Date == "unknown" && vcs.time != "" {
		b.Date = vcs.time
	}
	return b
}

// Version — версия для метрик, health-ответов и ресурса трассировки.
func Version() string { return version }

// UserAgent — строка для grpc.WithUserAgent клиентов.
func UserAgent(component string) string {
	return component + "/" + version
}

// String форматирует сборку для стартового лога.
func String() string {
	b := Current()
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", b.Version, b.Commit, b.Date, b.GoVersion)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
