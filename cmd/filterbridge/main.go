package main

import "github.com/nfrund/filterbridge/cmd/filterbridge/cmd"

func main() {
	cmd.Execute()
}
