package main

import "github.com/batchline/batchline/cmd"

func main() {
	cmd.Execute()
}
