// Command shieldd runs the agent execution policy daemon.
package main

import "github.com/agenshield/shieldd/cmd/shieldd/cmd"

func main() {
	cmd.Execute()
}
