package main

import "github.com/claudeswitch/claudeswitch/cmd"

func main() {
	cmd.Execute()
}
