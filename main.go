package main

import "github.com/openr/openr-go/cmd"

func main() {
	cmd.Execute()
}
