package version

import "fmt"

// Заполняются при сборке:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/marketplace/internal/version.version=v1.2.0 ..."
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func GetVersion() string { return version }

// UserAgent — заголовок User-Agent для шлюза выплат и нагрузочного клиента.
func UserAgent() string {
	return "marketplace/" + version
}

// String — строка для стартового лога и /livez.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
