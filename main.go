package main

import (
	"github.com/Jackmin801/torch-state-server/cmd"
)

func main() {
	cmd.Execute()
}
