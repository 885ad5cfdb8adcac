package main

import "github.com/drgolem/streamplayer/cmd"

func main() {
	cmd.Execute()
}
