package main

import "github.com/quickdigest/collector/cmd"

func main() {
	cmd.Execute()
}
