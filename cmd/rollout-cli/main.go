// Rollout CLI — инструмент командной строки для управления
// планами раскатки, задачами и блокировками tenant'ов через HTTP API.
//
// Использование:
//
//	rollout [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	plan    Управление планами
//	task    Управление задачами
//	tenant  Блокировки tenant'ов
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/Rollout/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
