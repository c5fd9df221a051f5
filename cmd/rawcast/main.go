package main

import "github.com/bryanchriswhite/rawcast/cmd/rawcast/commands"

func main() {
	commands.Execute()
}
