package main

import "github.com/jmcleod/pagelock/cmd/pagelock/cmd"

func main() {
	cmd.Execute()
}
