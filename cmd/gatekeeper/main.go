// Command gatekeeper はセッション認証付きREST APIサーバーを起動する。
//
// 使い方:
//
//	gatekeeper [serve|worker|migrate|seed|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/gatekeeper/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
