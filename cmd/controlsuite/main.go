package main

import "github.com/altimation/controlsuite/cmd/controlsuite/cmd"

func main() {
	cmd.Execute()
}
