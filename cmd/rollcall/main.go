// Command rollcall はRFIDカードによる出欠管理システムのエントリーポイント。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/rollcall/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rollcall: %v\n", err)
		os.Exit(app.GetExitCode(err))
	}
}
