package main

import "github.com/tiroq/screenrec/cmd/screenrec/commands"

func main() {
	commands.Execute()
}
