package main

import "github.com/pscheid92/sensorrelay/cmd/relaycli/command"

func main() {
	command.Execute()
}
