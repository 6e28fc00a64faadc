package main

import "github.com/audiolibrelab/soundarchive/cmd"

func main() {
	cmd.Execute()
}
