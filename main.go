package main

import "github.com/ew384/automaton-core/cmd"

func main() {
	cmd.Execute()
}
