package main

import (
	"os"

	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	go autorestart.RestartOnChange()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
