package main

import "github.com/groundgame/textrelay/cmd"

func main() {
	cmd.Execute()
}
