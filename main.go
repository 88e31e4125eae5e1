package main

import "github.com/micrictor/openport/cmd"

func main() {
	cmd.Execute()
}
