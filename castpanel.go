package main

import "github.com/audiolibrelab/castpanel/cmd"

func main() {
	cmd.Execute()
}
