package main

import "github.com/studiocloud/mailprobe/cmd/mailprobe/commands"

func main() {
	commands.Execute()
}
