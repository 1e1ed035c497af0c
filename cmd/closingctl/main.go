package main

import (
	"os"

	"github.com/pesio-ai/be-gl-closing/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
